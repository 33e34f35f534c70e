// Package storage caches fetched snapshots for the lifetime of a session so
// that returning to an earlier parameter set does not hit the backend again.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/pythia/internal/domain"
	"github.com/cuongbtq/pythia/shared/sqlite"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

// Kind partitions the cache by snapshot type
type Kind string

const (
	KindResults Kind = "results"
	KindGO      Kind = "go"
	KindKEGG    Kind = "kegg"
)

// KindOf maps an enrichment kind to its cache partition
func KindOf(k domain.EnrichKind) Kind {
	if k == domain.EnrichKindKEGG {
		return KindKEGG
	}
	return KindGO
}

const schema = `
	CREATE TABLE IF NOT EXISTS snapshots (
		job_id     TEXT    NOT NULL,
		kind       TEXT    NOT NULL,
		query_key  TEXT    NOT NULL,
		payload    BLOB    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, kind, query_key)
	)
`

type snapshot struct {
	JobID     string `db:"job_id"`
	Kind      Kind   `db:"kind"`
	QueryKey  string `db:"query_key"`
	Payload   []byte `db:"payload"`
	CreatedAt int64  `db:"created_at"`
}

type Storage struct {
	db         *sqlx.DB
	maxEntries int
}

// NewStorage creates the snapshot table. maxEntries <= 0 disables eviction.
func NewStorage(ctx context.Context, client *sqlite.Client, maxEntries int) (*Storage, error) {
	if err := client.Migrate(ctx, schema); err != nil {
		return nil, err
	}
	return &Storage{
		db:         client.GetDB(),
		maxEntries: maxEntries,
	}, nil
}

func (s *Storage) put(ctx context.Context, jobID string, kind Kind, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO snapshots (job_id, kind, query_key, payload, created_at)
		VALUES (:job_id, :kind, :query_key, :payload, :created_at)
	`
	_, err = s.db.NamedExecContext(ctx, query, snapshot{
		JobID:     jobID,
		Kind:      kind,
		QueryKey:  key,
		Payload:   payload,
		CreatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	if s.maxEntries > 0 {
		query = `
			DELETE FROM snapshots WHERE rowid NOT IN (
				SELECT rowid FROM snapshots ORDER BY created_at DESC, rowid DESC LIMIT ?
			)
		`
		if _, err := s.db.ExecContext(ctx, query, s.maxEntries); err != nil {
			return fmt.Errorf("failed to evict snapshots: %w", err)
		}
	}
	return nil
}

func (s *Storage) get(ctx context.Context, jobID string, kind Kind, key string, v any) (bool, error) {
	var snap snapshot
	query := `
		SELECT job_id, kind, query_key, payload, created_at
		FROM snapshots
		WHERE job_id = ? AND kind = ? AND query_key = ?
	`

	err := s.db.GetContext(ctx, &snap, query, jobID, kind, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	if err := json.Unmarshal(snap.Payload, v); err != nil {
		return false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return true, nil
}

// PutResults stores a results snapshot under its query key
func (s *Storage) PutResults(ctx context.Context, key string, rs *domain.ResultSet) error {
	return s.put(ctx, rs.JobID, KindResults, key, rs)
}

// GetResults returns the cached snapshot, or nil when there is none
func (s *Storage) GetResults(ctx context.Context, jobID, key string) (*domain.ResultSet, error) {
	rs := &domain.ResultSet{}
	ok, err := s.get(ctx, jobID, KindResults, key, rs)
	if err != nil || !ok {
		return nil, err
	}
	return rs, nil
}

// PutEnrichment stores an enrichment snapshot under its query key
func (s *Storage) PutEnrichment(ctx context.Context, key string, er *domain.EnrichResult) error {
	return s.put(ctx, er.JobID, KindOf(er.Kind), key, er)
}

// GetEnrichment returns the cached snapshot, or nil when there is none
func (s *Storage) GetEnrichment(ctx context.Context, jobID string, kind domain.EnrichKind, key string) (*domain.EnrichResult, error) {
	er := &domain.EnrichResult{}
	ok, err := s.get(ctx, jobID, KindOf(kind), key, er)
	if err != nil || !ok {
		return nil, err
	}
	return er, nil
}

// DeleteJob drops every snapshot of a job
func (s *Storage) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

// Count returns the number of cached snapshots
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM snapshots`); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}
