// Package file persists store snapshots as a single JSON document on the
// local filesystem using write-to-temp then rename.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"taskengine/pkg/domain"
)

// Logger receives warnings about unreadable snapshots. *slog.Logger satisfies it.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Option configures a Persister.
type Option func(*Persister)

// WithLogger sets the warning sink.
func WithLogger(l Logger) Option {
	return func(p *Persister) {
		if l != nil {
			p.logger = l
		}
	}
}

// Persister implements domain.Persister backed by one JSON file.
type Persister struct {
	path   string
	logger Logger
}

var _ domain.Persister = (*Persister)(nil)

// New returns a Persister writing to path. The parent directory is created on first save.
func New(path string, opts ...Option) (*Persister, error) {
	if path == "" {
		return nil, errors.New("file persister: empty path")
	}
	p := &Persister{path: path, logger: noopLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Path returns the target file path.
func (p *Persister) Path() string { return p.path }

// Load reads the snapshot. A missing or unparseable file yields first-run state.
func (p *Persister) Load(_ context.Context) (domain.Snapshot, error) {
	// #nosec G304 -- path is operator supplied configuration
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.EmptySnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read snapshot %s: %w", p.path, err)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		p.logger.Warn("snapshot unreadable, starting empty", "path", p.path, "error", err)
		return domain.EmptySnapshot(), nil
	}
	if snapshot.Records == nil {
		snapshot.Records = []domain.Task{}
	}
	if snapshot.NextID < 1 {
		snapshot.NextID = 1
	}
	return snapshot, nil
}

// Save serializes snapshot to <path>.tmp, syncs it and renames it over path.
func (p *Persister) Save(_ context.Context, snapshot domain.Snapshot) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if snapshot.Records == nil {
		snapshot.Records = []domain.Task{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmpPath := p.path + ".tmp"
	if err := writeSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return syncDir(dir)
}

func writeSynced(path string, data []byte) error {
	// #nosec G304 -- temp path derived from configured snapshot path
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	return nil
}

// syncDir makes the rename durable. Some platforms cannot fsync a directory,
// so a Sync error is ignored.
func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- parent of configured path
	if err != nil {
		return fmt.Errorf("open snapshot dir: %w", err)
	}
	_ = d.Sync()
	return d.Close()
}
