package researcher

import (
	"context"
	"io"
	"time"
)

// Extractor captures one researcher from one source. Implementations are cheap values built per
// request; shared state lives in the fetcher.
type Extractor interface {
	Source() Source
	Extract(ctx context.Context, q Query) Outcome
}

// PutResult reports whether a write created a document or replaced the same-day one.
type PutResult int

const (
	// PutInserted means no document existed for the key.
	PutInserted PutResult = iota + 1
	// PutAlreadyPresent means a document for the same (source, sourceId, day) was overwritten.
	PutAlreadyPresent
)

func (p PutResult) String() string {
	switch p {
	case PutInserted:
		return "inserted"
	case PutAlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// Filter selects stored records.
type Filter struct {
	Retained *bool
	Source   Source
	Limit    int
}

// RetainedOnly is the filter used by exports.
func RetainedOnly() Filter {
	retained := true
	return Filter{Retained: &retained}
}

// Store persists records keyed by (source, sourceId, date(capturedAt)).
type Store interface {
	Put(ctx context.Context, record Record) (PutResult, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)
	Ping(ctx context.Context) error
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes capture notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes document fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces capture and artifact IDs.
type IDGenerator interface {
	NewID() (string, error)
}
