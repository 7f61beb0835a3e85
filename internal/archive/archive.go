package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Archiver stores a finished index directory somewhere durable
type Archiver interface {
	Archive(ctx context.Context, dir string) error
}

// NoopArchiver is used when archival is disabled
type NoopArchiver struct{}

// Archive does nothing
func (NoopArchiver) Archive(context.Context, string) error { return nil }

// Config holds S3 connection settings
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

var (
	ErrMissingEndpoint    = errors.New("archive endpoint is required")
	ErrMissingCredentials = errors.New("archive access key and secret key are required")
	ErrMissingBucket      = errors.New("archive bucket is required")
)

// Validate checks the settings needed to reach the bucket
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return ErrMissingCredentials
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return ErrMissingBucket
	}
	return nil
}

// objectStore is the subset of *minio.Client the archiver uses
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3Archiver uploads directories as .tgz objects
type S3Archiver struct {
	client objectStore
	bucket string
	region string
	prefix string
	retry  Backoff
	logger *zap.Logger

	mu    sync.Mutex
	ready bool // bucket known to exist
}

// NewS3Archiver creates an archiver backed by an S3 compatible endpoint
func NewS3Archiver(cfg Config, logger *zap.Logger) (*S3Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init s3 client: %w", err)
	}

	return newS3Archiver(client, cfg, region, logger), nil
}

func newS3Archiver(client objectStore, cfg Config, region string, logger *zap.Logger) *S3Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Archiver{
		client: client,
		bucket: strings.TrimSpace(cfg.Bucket),
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		retry:  DefaultBackoff(),
		logger: logger,
	}
}

// ensureBucket creates the bucket on first use. Only success is remembered;
// a failed check is repeated by the next Archive call.
func (a *S3Archiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}

	err := a.retry.do(ctx, func(ctx context.Context) error {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil || exists {
			return err
		}
		return a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	if err != nil {
		return err
	}
	a.ready = true
	return nil
}

// ObjectKey returns the key a directory is stored under
func (a *S3Archiver) ObjectKey(dir string) string {
	name := filepath.Base(filepath.Clean(dir)) + ".tgz"
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Archive streams a tarball of dir into the bucket
func (a *S3Archiver) Archive(ctx context.Context, dir string) error {
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	key := a.ObjectKey(dir)
	var info minio.UploadInfo
	err := a.retry.do(ctx, func(ctx context.Context) error {
		var err error
		info, err = a.upload(ctx, dir, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	a.logger.Info("archived index",
		zap.String("path", dir),
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size))
	return nil
}

// upload runs the tar writer and PutObject on either end of a pipe
func (a *S3Archiver) upload(ctx context.Context, dir, key string) (minio.UploadInfo, error) {
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := WriteTarball(pw, dir)
		_ = pw.CloseWithError(err)
		return err
	})

	var info minio.UploadInfo
	g.Go(func() error {
		var err error
		info, err = a.client.PutObject(gctx, a.bucket, key, pr, -1, minio.PutObjectOptions{
			ContentType: "application/gzip",
		})
		// Unblock the writer if the upload stopped reading
		_ = pr.CloseWithError(err)
		return err
	})

	if err := g.Wait(); err != nil {
		return minio.UploadInfo{}, err
	}
	return info, nil
}
