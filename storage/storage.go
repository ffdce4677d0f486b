// Package storage publishes pipeline artifacts to S3-compatible object
// storage and hands out time-limited download links.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store uploads artifacts and presigns downloads.
type Store interface {
	// Upload copies a local file into the bucket under key.
	Upload(ctx context.Context, localPath, key, contentType string) error

	// PresignGet returns a time-limited GET URL for key.
	PresignGet(ctx context.Context, key string) (string, error)
}

// ObjectKey builds a collision-free object key for a principal's
// artifact, e.g. "results/u1/8f14e45f.mp4".
func ObjectKey(prefix, principal, ext string) string {
	return path.Join(prefix, principal, uuid.NewString()+ext)
}

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool

	// PresignExpiry bounds download links. Defaults to one hour.
	PresignExpiry time.Duration
}

// S3Store is a Store backed by any S3-compatible service.
type S3Store struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewS3Store connects to the configured endpoint.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", cfg.Endpoint, err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3Store{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

// Upload implements Store.
func (s *S3Store) Upload(ctx context.Context, localPath, key, contentType string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return nil
}

// PresignGet implements Store.
func (s *S3Store) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return u.String(), nil
}

var _ Store = (*S3Store)(nil)
