package blob

import (
	"context"
	"fmt"
	"os"

	"taskengine/internal/infra/blob/fs"
	memorystore "taskengine/internal/infra/blob/memory"
	infraS3 "taskengine/internal/infra/blob/s3"
)

// S3Config is the S3 backend configuration.
type S3Config = infraS3.Config

// Config selects a snapshot object backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// ConfigFromEnv reads TASKENGINE_BLOB_DRIVER (fs|s3|memory, default fs) and
// TASKENGINE_BLOB_FS_ROOT. The s3 driver also reads TASKENGINE_BLOB_S3_*.
func ConfigFromEnv() (Config, error) {
	cfg := Config{Driver: Driver(os.Getenv("TASKENGINE_BLOB_DRIVER")), FSRoot: os.Getenv("TASKENGINE_BLOB_FS_ROOT")}
	switch cfg.Driver {
	case "":
		cfg.Driver = DriverFilesystem
	case DriverS3:
		s3cfg, err := infraS3.ConfigFromEnv()
		if err != nil {
			return Config{}, fmt.Errorf("blob s3 config: %w", err)
		}
		cfg.S3 = s3cfg
	}
	return cfg, nil
}

// Open builds the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns a process-local Store.
func NewMemory() Store { return memorystore.New() }

// NewMockS3ForTests returns an S3 Store served by an in-memory HTTP fake.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
