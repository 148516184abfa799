// Package fs stores snapshot objects as files under a root directory. Each
// object has a JSON sidecar (<name>.meta) holding its metadata; an object is
// visible once its sidecar exists.
package fs

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"taskengine/internal/blob/core"
)

const (
	defaultRoot   = "./data/blobs"
	sidecarSuffix = ".meta"
)

// Store is a core.Store on the local filesystem.
type Store struct {
	root string
}

// New creates root if needed. An empty root means ./data/blobs.
func New(root string) (*Store, error) {
	if root == "" {
		root = defaultRoot
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver reports core.DriverFilesystem.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// sanitizeKey rejects empty, absolute and parent-relative keys and returns
// the cleaned slash form.
func sanitizeKey(key string) (string, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return "", errors.New("blob key is empty")
	case strings.HasPrefix(key, "/"):
		return "", fmt.Errorf("blob key %q is absolute", key)
	case slices.Contains(strings.Split(key, "/"), ".."):
		return "", fmt.Errorf("blob key %q escapes the root", key)
	}
	return path.Clean(key), nil
}

type objectPaths struct {
	key     string
	data    string
	sidecar string
}

func (s *Store) locate(key string) (objectPaths, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return objectPaths{}, err
	}
	data := filepath.Join(s.root, filepath.FromSlash(clean))
	return objectPaths{key: clean, data: data, sidecar: data + sidecarSuffix}, nil
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	WrittenAt   time.Time         `json:"written_at"`
}

func (m sidecar) toInfo(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     maps.Clone(m.Metadata),
		LastModified: m.WrittenAt,
	}
}

// Put writes the body and then the sidecar, each through a synced temp file
// renamed into place. Existing keys are never overwritten.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	p, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(p.data); err == nil {
		return core.Info{}, fmt.Errorf("object %s: %w", p.key, core.ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(p.data), 0o750); err != nil {
		return core.Info{}, fmt.Errorf("create object dir: %w", err)
	}
	digest := sha256.New()
	size, err := replaceFile(p.data, io.TeeReader(r, digest))
	if err != nil {
		return core.Info{}, fmt.Errorf("write object %s: %w", p.key, err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(p.data)
		return core.Info{}, err
	}
	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		ETag:        hex.EncodeToString(digest.Sum(nil)),
		Size:        size,
		WrittenAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(p.data)
		return core.Info{}, fmt.Errorf("encode sidecar: %w", err)
	}
	if _, err := replaceFile(p.sidecar, bytes.NewReader(encoded)); err != nil {
		_ = os.Remove(p.data)
		return core.Info{}, fmt.Errorf("write sidecar %s: %w", p.key, err)
	}
	return meta.toInfo(p.key), nil
}

func replaceFile(target string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	size, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	return size, os.Rename(tmpName, target)
}

// Get opens the object body; the caller closes it.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	p, err := s.locate(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	meta, err := readSidecar(p)
	if err != nil {
		return core.Info{}, nil, err
	}
	body, err := os.Open(p.data) // #nosec G304 -- sanitized key under root
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("object %s: %w", p.key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	return meta.toInfo(p.key), body, nil
}

// Head reads the sidecar only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	p, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	meta, err := readSidecar(p)
	if err != nil {
		return core.Info{}, err
	}
	return meta.toInfo(p.key), nil
}

// Delete removes the sidecar first so a half-deleted object is invisible.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	p, err := s.locate(key)
	if err != nil {
		return false, err
	}
	sidecarErr := os.Remove(p.sidecar)
	dataErr := os.Remove(p.data)
	if errors.Is(dataErr, iofs.ErrNotExist) {
		return false, nil
	}
	if dataErr != nil {
		return false, dataErr
	}
	if sidecarErr != nil && !errors.Is(sidecarErr, iofs.ErrNotExist) {
		return true, sidecarErr
	}
	return true, nil
}

// List returns every object under prefix, ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(name string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(name, sidecarSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(name, sidecarSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := decodeSidecar(name)
		if err != nil {
			return err
		}
		infos = append(infos, meta.toInfo(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return cmp.Compare(a.Key, b.Key) })
	return infos, nil
}

func readSidecar(p objectPaths) (sidecar, error) {
	meta, err := decodeSidecar(p.sidecar)
	if errors.Is(err, iofs.ErrNotExist) {
		return sidecar{}, fmt.Errorf("object %s: %w", p.key, core.ErrNotFound)
	}
	return meta, err
}

func decodeSidecar(name string) (sidecar, error) {
	raw, err := os.ReadFile(name) // #nosec G304 -- sidecar under root
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar %s: %w", name, err)
	}
	return meta, nil
}
