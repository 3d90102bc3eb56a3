package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	"github.com/JakeFAU/scholar-crawler/internal/storage"
)

// RecordStore keeps records in-memory, keyed by (source, sourceId, capture day).
type RecordStore struct {
	mu      sync.RWMutex
	records map[researcher.Key]researcher.Record
}

var _ researcher.Store = (*RecordStore)(nil)

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[researcher.Key]researcher.Record)}
}

// Put stores a copy of record, replacing any record captured the same day.
func (s *RecordStore) Put(_ context.Context, record researcher.Record) (researcher.PutResult, error) {
	key := record.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.records[key]
	s.records[key] = record.Clone()
	if exists {
		return researcher.PutAlreadyPresent, nil
	}
	return researcher.PutInserted, nil
}

// Query returns copies of the matching records, newest first.
func (s *RecordStore) Query(_ context.Context, filter researcher.Filter) ([]researcher.Record, error) {
	s.mu.RLock()
	all := make([]researcher.Record, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	s.mu.RUnlock()
	return storage.Select(all, filter), nil
}

// Ping always succeeds.
func (s *RecordStore) Ping(context.Context) error { return nil }

// Len returns the number of stored documents.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
