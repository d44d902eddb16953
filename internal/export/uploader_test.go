package export

import (
	"context"
	"errors"
	"testing"

	"github.com/nebar/barsync/internal/config"
)

type mockS3Client struct {
	bucket string
	key    string
	path   string
	err    error
}

func (m *mockS3Client) FPutObject(_ context.Context, bucket, objectName, filePath string) error {
	m.bucket, m.key, m.path = bucket, objectName, filePath
	return m.err
}

func TestNoopUploader_Upload_ReportsNotConfigured(t *testing.T) {
	u := &NoopUploader{}
	err := u.Upload(context.Background(), "/some/path.csv")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("NoopUploader.Upload() error = %v, want ErrNotConfigured", err)
	}
}

func TestNewUploader_EmptyBucket_ReturnsNoopUploader(t *testing.T) {
	u, err := NewUploader(config.ExportStorageConfig{Bucket: ""})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*NoopUploader); !ok {
		t.Errorf("expected *NoopUploader, got %T", u)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	useSSL := true
	cfg := config.ExportStorageConfig{
		Bucket:    "test-bucket",
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		UseSSL:    &useSSL,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	}

	u, err := NewUploader(cfg)
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(*S3Uploader); !ok {
		t.Errorf("expected *S3Uploader, got %T", u)
	}
}

func TestS3Uploader_Upload_ObjectKey(t *testing.T) {
	mock := &mockS3Client{}
	u := &S3Uploader{client: mock, bucket: "exports", prefix: "barsync"}

	if err := u.Upload(context.Background(), "/data/exports/deals-2024-03-15.csv"); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	if mock.bucket != "exports" {
		t.Errorf("bucket = %q, want %q", mock.bucket, "exports")
	}
	if mock.key != "barsync/deals-2024-03-15.csv" {
		t.Errorf("key = %q, want prefixed dated key", mock.key)
	}
}

func TestS3Uploader_Upload_NoPrefix(t *testing.T) {
	mock := &mockS3Client{}
	u := &S3Uploader{client: mock, bucket: "exports"}

	if err := u.Upload(context.Background(), "/tmp/deals-2024-03-15.csv"); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if mock.key != "deals-2024-03-15.csv" {
		t.Errorf("key = %q, want bare file name", mock.key)
	}
}

func TestS3Uploader_Upload_Error(t *testing.T) {
	mock := &mockS3Client{err: errors.New("access denied")}
	u := &S3Uploader{client: mock, bucket: "exports"}

	if err := u.Upload(context.Background(), "/tmp/deals.csv"); err == nil {
		t.Fatal("expected upload error to surface")
	}
}
