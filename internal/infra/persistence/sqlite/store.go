// Package sqlite persists store snapshots to a single SQLite table as JSON blobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"taskengine/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.Persister = (*Persister)(nil)

const (
	bucketRecords = "records"
	bucketMeta    = "meta"
)

type meta struct {
	NextID      int64     `json:"nextId"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Persister writes every snapshot inside one SQL transaction, so readers see
// either the previous or the next state.
type Persister struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// New opens (creating if needed) the database at path and ensures the state table.
func New(path string) (*Persister, error) {
	if path == "" {
		path = "taskengine.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Persister{db: db, path: path}, nil
}

// Load reads the stored snapshot; an empty table is first-run state.
func (p *Persister) Load(ctx context.Context) (domain.Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := domain.EmptySnapshot()
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.Snapshot{}, fmt.Errorf("scan: %w", err)
		}
		switch bucket {
		case bucketRecords:
			found = true
			if err := json.Unmarshal(payload, &snapshot.Records); err != nil {
				return domain.Snapshot{}, fmt.Errorf("decode records: %w", err)
			}
		case bucketMeta:
			found = true
			var m meta
			if err := json.Unmarshal(payload, &m); err != nil {
				return domain.Snapshot{}, fmt.Errorf("decode meta: %w", err)
			}
			snapshot.NextID = m.NextID
			snapshot.LastUpdated = m.LastUpdated
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	if !found {
		return domain.EmptySnapshot(), nil
	}
	if snapshot.Records == nil {
		snapshot.Records = []domain.Task{}
	}
	return snapshot, nil
}

// Save upserts both buckets in a single transaction.
func (p *Persister) Save(ctx context.Context, snapshot domain.Snapshot) (retErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snapshot.Records == nil {
		snapshot.Records = []domain.Task{}
	}
	records, err := json.Marshal(snapshot.Records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	metaPayload, err := json.Marshal(meta{NextID: snapshot.NextID, LastUpdated: snapshot.LastUpdated})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, row := range []struct {
		bucket  string
		payload []byte
	}{{bucketRecords, records}, {bucketMeta, metaPayload}} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, row.bucket, row.payload); err != nil {
			return fmt.Errorf("upsert %s: %w", row.bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (p *Persister) Close() error { return p.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (p *Persister) DB() *sql.DB { return p.db }

// Path returns the configured database path.
func (p *Persister) Path() string { return p.path }
