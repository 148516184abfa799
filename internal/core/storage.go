package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"taskengine/internal/blob"
	"taskengine/internal/infra/persistence/blobsnap"
	"taskengine/internal/infra/persistence/file"
	"taskengine/internal/infra/persistence/memory"
	"taskengine/internal/infra/persistence/postgres"
	"taskengine/internal/infra/persistence/sqlite"
	"taskengine/pkg/domain"
)

// StorageDriver identifies a persistence backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // no persistence (tests / ephemeral)
	StorageFile     StorageDriver = "file"     // single JSON file, atomic rename
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBlob     StorageDriver = "blob"     // versioned snapshots in a blob store
)

// Storage defaults.
const (
	DefaultDataPath   = "./data/tasks.json"
	DefaultSQLitePath = "./data/tasks.db"
	DefaultBlobRoot   = "./data/blobs"
)

// StorageConfig selects and parameterises the persistence backend.
type StorageConfig struct {
	Driver         StorageDriver
	DataPath       string
	SQLitePath     string
	PostgresDSN    string
	Blob           blob.Config
	SnapshotRetain int
}

// DefaultStorageConfig returns the file driver at DefaultDataPath.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:         StorageFile,
		DataPath:       DefaultDataPath,
		SQLitePath:     DefaultSQLitePath,
		PostgresDSN:    postgres.DefaultDSN,
		Blob:           blob.Config{Driver: blob.DriverFilesystem, FSRoot: DefaultBlobRoot},
		SnapshotRetain: blobsnap.DefaultRetain,
	}
}

// StorageConfigFromEnv reads the backend selection from the environment.
// Unset variables keep their defaults.
//
//	TASKENGINE_STORAGE_DRIVER: memory|file|sqlite|postgres|blob (default file)
//	TASKENGINE_DATA_PATH: JSON file when driver=file
//	TASKENGINE_SQLITE_PATH: sqlite file when driver=sqlite
//	TASKENGINE_POSTGRES_DSN: DSN when driver=postgres
//	TASKENGINE_SNAPSHOT_RETAIN: snapshots kept when driver=blob
//	TASKENGINE_BLOB_*: blob backend when driver=blob
func StorageConfigFromEnv() (StorageConfig, error) {
	cfg := DefaultStorageConfig()
	if v := os.Getenv("TASKENGINE_STORAGE_DRIVER"); v != "" {
		cfg.Driver = StorageDriver(v)
	}
	if v := os.Getenv("TASKENGINE_DATA_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("TASKENGINE_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("TASKENGINE_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("TASKENGINE_SNAPSHOT_RETAIN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return StorageConfig{}, fmt.Errorf("invalid TASKENGINE_SNAPSHOT_RETAIN %q", v)
		}
		cfg.SnapshotRetain = n
	}
	if cfg.Driver == StorageBlob {
		blobCfg, err := blob.ConfigFromEnv()
		if err != nil {
			return StorageConfig{}, err
		}
		if blobCfg.FSRoot == "" {
			blobCfg.FSRoot = DefaultBlobRoot
		}
		cfg.Blob = blobCfg
	}
	return cfg, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenPersister builds the persister described by cfg. The returned closer
// releases backend resources and is never nil. The memory driver returns a
// nil persister.
func OpenPersister(ctx context.Context, cfg StorageConfig, logger Logger) (domain.Persister, io.Closer, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	switch cfg.Driver {
	case StorageMemory:
		return nil, nopCloser{}, nil
	case StorageFile, "":
		path := cfg.DataPath
		if path == "" {
			path = DefaultDataPath
		}
		p, err := file.New(path, file.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return p, nopCloser{}, nil
	case StorageSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = DefaultSQLitePath
		}
		p, err := sqlite.New(path)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case StoragePostgres:
		p, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case StorageBlob:
		store, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, nil, err
		}
		opts := []blobsnap.Option{blobsnap.WithLogger(logger)}
		if cfg.SnapshotRetain > 0 {
			opts = append(opts, blobsnap.WithRetain(cfg.SnapshotRetain))
		}
		return blobsnap.New(store, opts...), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// OpenService opens the configured persister, loads the store from it and
// returns a ready service. The caller closes the returned closer.
func OpenService(ctx context.Context, cfg StorageConfig, opts ...Option) (*Service, io.Closer, error) {
	o := collectOptions(opts)
	persister, closer, err := OpenPersister(ctx, cfg, o.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Driver, err)
	}
	storeOpts := []memory.Option{memory.WithPersister(persister)}
	if o.clock != nil {
		storeOpts = append(storeOpts, memory.WithClock(o.clock.Now))
	}
	store := memory.NewStore(storeOpts...)
	if err := store.Load(ctx); err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	o.logger.Info("task store loaded", "driver", string(cfg.Driver), "tasks", store.Len())
	return newService(store, o), closer, nil
}
