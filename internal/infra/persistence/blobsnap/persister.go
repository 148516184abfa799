// Package blobsnap persists store snapshots as immutable, sequence-numbered
// objects in a blob store and keeps only the newest few.
package blobsnap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"taskengine/internal/blob"
	"taskengine/pkg/domain"
)

// DefaultRetain is the number of snapshot objects kept after each save.
const DefaultRetain = 5

const defaultPrefix = "snapshots/"

// Logger receives warnings about unreadable snapshots and failed pruning.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Option configures a Persister.
type Option func(*Persister)

// WithRetain sets how many snapshot objects survive pruning. Values below 1 are ignored.
func WithRetain(n int) Option {
	return func(p *Persister) {
		if n > 0 {
			p.retain = n
		}
	}
}

// WithPrefix changes the key prefix (default "snapshots/").
func WithPrefix(prefix string) Option {
	return func(p *Persister) {
		if prefix != "" {
			p.prefix = strings.TrimSuffix(prefix, "/") + "/"
		}
	}
}

// WithLogger sets the warning sink.
func WithLogger(l Logger) Option {
	return func(p *Persister) {
		if l != nil {
			p.logger = l
		}
	}
}

// Persister implements domain.Persister on top of blob.Store. Every save is
// a create-only put of a new key, so a reader always sees a whole snapshot.
type Persister struct {
	store  blob.Store
	prefix string
	retain int
	logger Logger

	mu       sync.Mutex
	seq      uint64
	seqKnown bool
}

var _ domain.Persister = (*Persister)(nil)

// New wraps store.
func New(store blob.Store, opts ...Option) *Persister {
	p := &Persister{store: store, prefix: defaultPrefix, retain: DefaultRetain, logger: noopLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Persister) key(seq uint64) string {
	return fmt.Sprintf("%s%020d.json", p.prefix, seq)
}

func (p *Persister) parseSeq(key string) (uint64, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(key, p.prefix), ".json")
	seq, err := strconv.ParseUint(raw, 10, 64)
	return seq, err == nil
}

// snapshotKeys lists snapshot keys in ascending sequence order.
func (p *Persister) snapshotKeys(ctx context.Context) ([]string, uint64, error) {
	infos, err := p.store.List(ctx, p.prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}
	keys := make([]string, 0, len(infos))
	var latest uint64
	for _, info := range infos {
		seq, ok := p.parseSeq(info.Key)
		if !ok {
			continue
		}
		keys = append(keys, info.Key)
		if seq > latest {
			latest = seq
		}
	}
	return keys, latest, nil
}

// Load reads the newest snapshot object. A key that vanished after listing
// falls back to the next newest; no objects, or an unreadable newest object,
// yields first-run state.
func (p *Persister) Load(ctx context.Context) (domain.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys, latest, err := p.snapshotKeys(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	p.seq, p.seqKnown = latest, true
	for i := len(keys) - 1; i >= 0; i-- {
		data, err := p.read(ctx, keys[i])
		if errors.Is(err, blob.ErrNotFound) {
			p.logger.Warn("snapshot disappeared, trying older", "key", keys[i])
			continue
		}
		if err != nil {
			return domain.Snapshot{}, err
		}
		return p.decode(keys[i], data), nil
	}
	return domain.EmptySnapshot(), nil
}

func (p *Persister) read(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return data, nil
}

func (p *Persister) decode(key string, data []byte) domain.Snapshot {
	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		p.logger.Warn("snapshot unreadable, starting empty", "key", key, "error", err)
		return domain.EmptySnapshot()
	}
	if snapshot.Records == nil {
		snapshot.Records = []domain.Task{}
	}
	if snapshot.NextID < 1 {
		snapshot.NextID = 1
	}
	return snapshot
}

// Save writes snapshot under the next sequence number, then prunes objects
// beyond the retention window. Pruning failures are logged, not returned,
// because the new snapshot is already durable.
func (p *Persister) Save(ctx context.Context, snapshot domain.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.seqKnown {
		_, latest, err := p.snapshotKeys(ctx)
		if err != nil {
			return err
		}
		p.seq, p.seqKnown = latest, true
	}
	if snapshot.Records == nil {
		snapshot.Records = []domain.Task{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	next := p.seq + 1
	key := p.key(next)
	opts := blob.PutOptions{ContentType: "application/json", Metadata: map[string]string{"next-id": strconv.FormatInt(snapshot.NextID, 10)}}
	if _, err := p.store.Put(ctx, key, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("put snapshot %s: %w", key, err)
	}
	p.seq = next
	p.prune(ctx)
	return nil
}

func (p *Persister) prune(ctx context.Context) {
	keys, _, err := p.snapshotKeys(ctx)
	if err != nil {
		p.logger.Warn("snapshot prune skipped", "error", err)
		return
	}
	if len(keys) <= p.retain {
		return
	}
	for _, key := range keys[:len(keys)-p.retain] {
		if _, err := p.store.Delete(ctx, key); err != nil {
			p.logger.Warn("snapshot prune failed", "key", key, "error", err)
		}
	}
}
