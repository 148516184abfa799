// Package postgres persists store snapshots to a Postgres bucket table with
// JSONB payloads through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"taskengine/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.Persister = (*Persister)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/taskengine?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

type meta struct {
	NextID      int64     `json:"nextId"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type bucket struct {
	name    string
	payload []byte
}

const upsertBucket = `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`

func encodeBuckets(snapshot domain.Snapshot) ([]bucket, error) {
	records := snapshot.Records
	if records == nil {
		records = []domain.Task{}
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	metaJSON, err := json.Marshal(meta{NextID: snapshot.NextID, LastUpdated: snapshot.LastUpdated})
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return []bucket{{"records", recordsJSON}, {"meta", metaJSON}}, nil
}

// Persister writes the snapshot buckets inside one transaction.
type Persister struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens a Postgres-backed persister using dsn (falls back to DefaultDSN),
// pings it and ensures the state table exists.
func New(ctx context.Context, dsn string) (*Persister, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Persister{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (p *Persister) DB() *sql.DB { return p.db }

// Close releases the connection pool.
func (p *Persister) Close() error { return p.db.Close() }

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Load reads both buckets. An empty table is a first run; a bucket that
// fails to decode is an error.
func (p *Persister) Load(ctx context.Context) (domain.Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	payloads := make(map[string][]byte, 2)
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			return domain.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) > 0 {
			payloads[name] = payload
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return decodeBuckets(payloads)
}

func decodeBuckets(payloads map[string][]byte) (domain.Snapshot, error) {
	snapshot := domain.EmptySnapshot()
	if raw, ok := payloads["records"]; ok {
		if err := json.Unmarshal(raw, &snapshot.Records); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode records: %w", err)
		}
		if snapshot.Records == nil {
			snapshot.Records = []domain.Task{}
		}
	}
	if raw, ok := payloads["meta"]; ok {
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode meta: %w", err)
		}
		if m.NextID > 0 {
			snapshot.NextID = m.NextID
		}
		snapshot.LastUpdated = m.LastUpdated
	}
	return snapshot, nil
}

// Save upserts both buckets in one transaction, so readers see the old
// snapshot or the new one.
func (p *Persister) Save(ctx context.Context, snapshot domain.Snapshot) (err error) {
	buckets, err := encodeBuckets(snapshot)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, b := range buckets {
		if _, err = tx.ExecContext(ctx, upsertBucket, b.name, b.payload); err != nil {
			return fmt.Errorf("upsert %s: %w", b.name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
