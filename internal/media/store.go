// Package media stores user avatars and board covers in an S3-compatible
// bucket.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"kanban/api/internal/util"
)

const (
	MaxImageBytes = 5 << 20
	urlTTL        = time.Hour
)

var (
	ErrTooLarge        = errors.New("image too large")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrEmpty           = errors.New("empty upload")
)

// Kind is the key prefix an object is filed under.
type Kind string

const (
	KindAvatar Kind = "avatars"
	KindCover  Kind = "covers"
)

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Sniff validates an upload and returns its detected content type. The
// declared type of the request is ignored.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), MaxImageBytes)
	}
	contentType := http.DetectContentType(data)
	if _, ok := extensions[contentType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return contentType, nil
}

// ObjectKey builds "<kind>/<owner>/<random><ext>".
func ObjectKey(kind Kind, ownerID, contentType string) string {
	return path.Join(string(kind), ownerID, util.NewID("")+extensions[contentType])
}

type Store struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewStore connects to the bucket, creating it when missing.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created media bucket", zap.String("bucket", cfg.Bucket))
	}
	return &Store{client: client, bucket: cfg.Bucket, log: logger.Named("media")}, nil
}

// Put validates and uploads an image, returning its object key.
func (s *Store) Put(ctx context.Context, kind Kind, ownerID string, data []byte) (string, error) {
	contentType, err := Sniff(data)
	if err != nil {
		return "", err
	}
	key := ObjectKey(kind, ownerID, contentType)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "private, max-age=86400",
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// URL returns a presigned GET url for key, or "" for an empty key.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes key. Failures are logged; a stale object is harmless.
func (s *Store) Remove(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		s.log.Warn("remove object", zap.String("key", key), zap.Error(err))
	}
}
