package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/davidleathers/audit-vault-backend/internal/infrastructure/config"
)

// ObjectStore holds export artifacts in S3-compatible storage and issues
// expiring presigned download links.
type ObjectStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewObjectStore connects to the configured S3-compatible endpoint and
// ensures the artifact bucket exists.
func NewObjectStore(ctx context.Context, cfg *config.ObjectStoreConfig, logger *zap.Logger) (*ObjectStore, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client failed: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("bucket creation failed: %w", err)
		}
		logger.Info("created artifact bucket", zap.String("bucket", cfg.Bucket))
	}

	return &ObjectStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads one artifact
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(
		ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("artifact upload failed: %w", err)
	}

	s.logger.Debug("artifact stored",
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return nil
}

// PresignedURL issues a download link that expires after ttl
func (s *ObjectStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}
	return url.String(), nil
}
