package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nebar/barsync/internal/config"
)

// ErrNotConfigured is returned when S3 export storage is not configured.
var ErrNotConfigured = errors.New("export storage not configured")

// Uploader uploads export files to remote storage.
type Uploader interface {
	// Upload stores the file at filePath under a dated object key.
	Upload(ctx context.Context, filePath string) error
}

// s3Client defines the minimal minio.Client operations used by S3Uploader.
// This interface enables testing with mock implementations.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	return err
}

// S3Uploader uploads exports to S3-compatible storage.
type S3Uploader struct {
	client s3Client
	bucket string
	prefix string
}

// Upload uploads the export file at filePath.
func (u *S3Uploader) Upload(ctx context.Context, filePath string) error {
	key := u.objectKey(filePath)
	if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
		return fmt.Errorf("upload export to S3: %w", err)
	}
	return nil
}

// objectKey places the file under the configured prefix, keyed by its
// base name. Convention: {prefix}/deals-2024-03-15.csv
func (u *S3Uploader) objectKey(filePath string) string {
	name := filepath.Base(filePath)
	if u.prefix == "" {
		return name
	}
	return u.prefix + "/" + name
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Upload reports ErrNotConfigured so callers that require an upload
// can surface the missing storage settings.
func (u *NoopUploader) Upload(ctx context.Context, filePath string) error {
	return ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.ExportStorageConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client: &minioClientWrapper{client: client},
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}
