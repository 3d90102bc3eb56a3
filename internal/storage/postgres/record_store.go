// Package postgres stores researcher records as JSONB documents in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	"github.com/JakeFAU/scholar-crawler/internal/storage"
)

// DefaultCollection is the table used when none is configured.
const DefaultCollection = "researcher_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for records.
type Config struct {
	URL string
	// Database overrides the database named in URL.
	Database        string
	Collection      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RecordStore implements researcher.Store on a single table keyed by
// (source, source_id, capture_date).
type RecordStore struct {
	pool   pool
	table  string
	hasher researcher.Hasher
	logger *zap.Logger
}

var _ researcher.Store = (*RecordStore)(nil)

// New connects to Postgres and makes sure the collection table exists.
func New(ctx context.Context, cfg Config, hasher researcher.Hasher, logger *zap.Logger) (*RecordStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store.url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.Database != "" {
		poolCfg.ConnConfig.Database = cfg.Database
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Collection, hasher, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, collection string, hasher researcher.Hasher, logger *zap.Logger) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	if !validTableName.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{pool: p, table: collection, hasher: hasher, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the collection table and its capture-time index.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	source       TEXT        NOT NULL,
	source_id    TEXT        NOT NULL,
	capture_date DATE        NOT NULL,
	captured_at  TIMESTAMPTZ NOT NULL,
	retained     BOOLEAN     NOT NULL,
	fingerprint  TEXT        NOT NULL,
	document     JSONB       NOT NULL,
	PRIMARY KEY (source, source_id, capture_date)
);
CREATE INDEX IF NOT EXISTS %[1]s_captured_at_idx ON %[1]s (captured_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create %s: %w", researcher.ErrStorageUnavailable, s.table, err)
	}
	return nil
}

// Put upserts record. A row for the same (source, sourceId, UTC day) is overwritten in place.
func (s *RecordStore) Put(ctx context.Context, record researcher.Record) (researcher.PutResult, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}
	fingerprint, err := storage.Fingerprint(s.hasher, record)
	if err != nil {
		return 0, fmt.Errorf("fingerprint record: %w", err)
	}
	capturedAt := record.CapturedAt.UTC()
	query := fmt.Sprintf(`
INSERT INTO %s (source, source_id, capture_date, captured_at, retained, fingerprint, document)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source, source_id, capture_date) DO UPDATE SET
	captured_at = EXCLUDED.captured_at,
	retained    = EXCLUDED.retained,
	fingerprint = EXCLUDED.fingerprint,
	document    = EXCLUDED.document
RETURNING (xmax = 0) AS inserted`, s.table)

	var inserted bool
	err = s.pool.QueryRow(ctx, query,
		string(record.Source),
		record.SourceID,
		capturedAt.Truncate(24*time.Hour),
		capturedAt,
		record.Retained,
		fingerprint,
		doc,
	).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("%w: upsert record: %w", researcher.ErrStorageUnavailable, err)
	}
	s.logger.Debug("record stored",
		zap.String("source", string(record.Source)),
		zap.String("source_id", record.SourceID),
		zap.Bool("inserted", inserted),
		zap.String("fingerprint", fingerprint))
	if inserted {
		return researcher.PutInserted, nil
	}
	return researcher.PutAlreadyPresent, nil
}

// Query returns the matching records ordered by capture time descending.
func (s *RecordStore) Query(ctx context.Context, filter researcher.Filter) ([]researcher.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Retained != nil {
		args = append(args, *filter.Retained)
		where = append(where, fmt.Sprintf("retained = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, string(filter.Source))
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	query := "SELECT document FROM " + s.table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY captured_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %w", researcher.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []researcher.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%w: scan record: %w", researcher.ErrStorageUnavailable, err)
		}
		var rec researcher.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode record document: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %w", researcher.ErrStorageUnavailable, err)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", researcher.ErrStorageUnavailable, err)
	}
	return nil
}
