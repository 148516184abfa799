// Package s3 stores snapshot objects in an S3-compatible bucket (AWS S3 or
// MinIO). Keys may be namespaced under a fixed prefix so several engines can
// share one bucket.
package s3

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"taskengine/internal/blob/core"
)

const defaultRegion = "us-east-1"

// Config holds construction parameters. Empty static credentials fall back
// to the default AWS credentials chain.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string // prepended to every key
	Endpoint        string // custom endpoint, e.g. MinIO
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	HTTPClient      *http.Client
}

// ConfigFromEnv reads
//
//	TASKENGINE_BLOB_S3_BUCKET (required)
//	TASKENGINE_BLOB_S3_REGION (default us-east-1)
//	TASKENGINE_BLOB_S3_PREFIX
//	TASKENGINE_BLOB_S3_ENDPOINT
//	TASKENGINE_BLOB_S3_PATH_STYLE (true|false)
//
// Credentials come from the usual AWS_* variables.
func ConfigFromEnv() (Config, error) {
	bucket := os.Getenv("TASKENGINE_BLOB_S3_BUCKET")
	if bucket == "" {
		return Config{}, errors.New("TASKENGINE_BLOB_S3_BUCKET required for s3 driver")
	}
	return Config{
		Bucket:    bucket,
		Region:    os.Getenv("TASKENGINE_BLOB_S3_REGION"),
		Prefix:    os.Getenv("TASKENGINE_BLOB_S3_PREFIX"),
		Endpoint:  os.Getenv("TASKENGINE_BLOB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("TASKENGINE_BLOB_S3_PATH_STYLE"), "true"),
	}, nil
}

// Store is a core.Store over one bucket.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New builds the S3 client. No request is made until the first call.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cmp.Or(cfg.Region, defaultRegion))}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Driver reports core.DriverS3.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

func (s *Store) objectKey(key string) *string { return aws.String(s.prefix + key) }

// Put is a conditional create (If-None-Match: *). The bucket answers 412
// when the key is taken, which maps to core.ErrExists.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	input := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         s.objectKey(key),
		Body:        r,
		IfNoneMatch: aws.String("*"),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return core.Info{}, translateErr(key, err)
	}
	return s.Head(ctx, key)
}

// Get streams the object body; the caller closes it.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: s.objectKey(key)})
	if err != nil {
		return core.Info{}, nil, translateErr(key, err)
	}
	return objectInfo(key, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified), out.Body, nil
}

// Head returns object metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: s.objectKey(key)})
	if err != nil {
		return core.Info{}, translateErr(key, err)
	}
	return objectInfo(key, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified), nil
}

// Delete reports whether key existed. S3 deletes are idempotent, so
// existence is checked with Head first.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.Head(ctx, key); errors.Is(err, core.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: s.objectKey(key)}); err != nil {
		return false, translateErr(key, err)
	}
	return true, nil
}

// List pages through ListObjectsV2 and returns keys without the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: s.objectKey(prefix)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, core.Info{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return cmp.Compare(a.Key, b.Key) })
	return infos, nil
}

func translateErr(key string, err error) error {
	var re *awshttp.ResponseError
	if !errors.As(err, &re) {
		return err
	}
	switch re.HTTPStatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("object %s: %w", key, core.ErrExists)
	}
	return err
}

func objectInfo(key string, size *int64, contentType, etag *string, md map[string]string, modified *time.Time) core.Info {
	info := core.Info{
		Key:          key,
		Size:         aws.ToInt64(size),
		ContentType:  aws.ToString(contentType),
		ETag:         strings.Trim(aws.ToString(etag), `"`),
		Metadata:     md,
		LastModified: time.Now().UTC(),
	}
	if modified != nil {
		info.LastModified = *modified
	}
	return info
}
