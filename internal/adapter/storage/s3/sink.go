package s3

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
)

// Config holds the connection settings for an S3-compatible object store.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
	UseSSL    bool
}

// Sink uploads accepted clips to an S3-compatible bucket.
type Sink struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewSink(cfg Config) (*Sink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Store uploads the file at p under keyHint and returns an s3:// reference.
func (s *Sink) Store(ctx context.Context, p, keyHint string) (string, error) {
	key := keyHint
	if s.prefix != "" {
		key = path.Join(s.prefix, keyHint)
	}

	_, err := s.client.FPutObject(ctx, s.bucket, key, p, minio.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		// Object store hiccups are worth a retry.
		return "", domain.Transient("store", &domain.StorageError{Key: key, Err: err})
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

var _ port.StorageSink = (*Sink)(nil)
