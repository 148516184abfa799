// Package testutil provides a database/sql driver that emulates the postgres
// persister's state table in memory: DDL is recorded, bucket upserts are
// applied to a map and SELECT returns every bucket.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// StubConn is a single shared connection. Failure switches make the next
// matching call fail.
type StubConn struct {
	mu      sync.Mutex
	Execs   []string
	Buckets map[string][]byte

	FailPing   bool
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	RowsErr    error

	staged map[string][]byte
}

var driverSeq atomic.Int64

// NewStubDB registers a uniquely named driver and opens a *sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Buckets: make(map[string][]byte)}
	name := fmt.Sprintf("taskengine-stub-pg-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare is unsupported; the persister only uses ExecContext and QueryContext.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare not supported: %s", query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("stub: ping failed")
	}
	return nil
}

// BeginTx stages upserts until Commit.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = make(map[string][]byte)
	return stubTx{conn: c}, nil
}

// ExecContext records every statement. Bucket upserts take (bucket, payload).
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("stub: exec failed")
	}
	if !isUpsert(query) {
		return driver.RowsAffected(0), nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("stub: upsert wants 2 args, got %d", len(args))
	}
	bucket, ok := args[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("stub: bucket must be a string, got %T", args[0].Value)
	}
	payload, _ := args[1].Value.([]byte)
	target := c.Buckets
	if c.staged != nil {
		target = c.staged
	}
	target[bucket] = slices.Clone(payload)
	return driver.RowsAffected(1), nil
}

// QueryContext returns committed buckets ordered by name.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT BUCKET, PAYLOAD FROM STATE") {
		return nil, fmt.Errorf("stub: unsupported query: %s", query)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := &stubRows{err: c.RowsErr}
	for _, bucket := range slices.Sorted(maps.Keys(c.Buckets)) {
		rows.rows = append(rows.rows, []driver.Value{bucket, slices.Clone(c.Buckets[bucket])})
	}
	return rows, nil
}

func isUpsert(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO STATE")
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := c.staged
	c.staged = nil
	if c.FailCommit {
		return errors.New("stub: commit failed")
	}
	maps.Copy(c.Buckets, staged)
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.mu.Lock()
	t.conn.staged = nil
	t.conn.mu.Unlock()
	return nil
}

type stubRows struct {
	rows [][]driver.Value
	next int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
