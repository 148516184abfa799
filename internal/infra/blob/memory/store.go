// Package memory keeps snapshot objects in process memory. Contents are lost
// on exit; use it for tests and the memory blob driver.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"taskengine/internal/blob/core"
)

type object struct {
	info core.Info
	body []byte
}

// Store is a mutex-guarded map of immutable objects.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object), now: func() time.Time { return time.Now().UTC() }}
}

// Driver reports core.DriverMemory.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put reads r fully before taking the lock, so a failed read stores nothing.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("read object %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	digest := sha256.Sum256(body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.objects[key]; taken {
		return core.Info{}, fmt.Errorf("object %s: %w", key, core.ErrExists)
	}
	obj := object{
		info: core.Info{
			Key:          key,
			Size:         int64(len(body)),
			ContentType:  opts.ContentType,
			ETag:         hex.EncodeToString(digest[:]),
			Metadata:     maps.Clone(opts.Metadata),
			LastModified: s.now(),
		},
		body: body,
	}
	s.objects[key] = obj
	return obj.publicInfo(), nil
}

// Get returns a reader over a private copy of the object body.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return obj.publicInfo(), io.NopCloser(bytes.NewReader(bytes.Clone(obj.body))), nil
}

// Head returns object metadata.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return obj.publicInfo(), nil
}

// Delete reports whether key existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

// List returns objects under prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	out := make([]core.Info, 0, len(s.objects))
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.publicInfo())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b core.Info) int { return cmp.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *Store) lookup(key string) (object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return object{}, fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	return obj, nil
}

func (o object) publicInfo() core.Info {
	info := o.info
	info.Metadata = maps.Clone(info.Metadata)
	return info
}
