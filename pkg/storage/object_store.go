package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ImageStore accepts a base64-encoded image and returns a stable URL for it.
type ImageStore interface {
	UploadBase64(ctx context.Context, data string) (key, url string, err error)
	Delete(ctx context.Context, key string) error
}

// presignExpiry bounds how long returned URLs stay valid.
const presignExpiry = 7 * 24 * time.Hour

// MinioStore implements ImageStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// UploadBase64 decodes the image payload, stores it under a generated key,
// and returns a pre-signed URL. Data-URI prefixes are tolerated.
func (m *MinioStore) UploadBase64(ctx context.Context, data string) (string, string, error) {
	data = strings.TrimSpace(data)
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", "", fmt.Errorf("decode base64 image: %w", err)
	}
	if len(raw) == 0 {
		return "", "", fmt.Errorf("empty image payload")
	}
	contentType := http.DetectContentType(raw)
	if !strings.HasPrefix(contentType, "image/") {
		return "", "", fmt.Errorf("payload is not an image: %s", contentType)
	}
	ext := strings.TrimPrefix(contentType, "image/")
	key := fmt.Sprintf("images/%s.%s", uuid.NewString(), ext)

	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, presignExpiry, nil)
	if err != nil {
		return "", "", fmt.Errorf("presign get: %w", err)
	}
	return key, url.String(), nil
}

// Delete removes an uploaded object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
