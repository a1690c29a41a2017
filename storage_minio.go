package main

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore serves S3 compatible deployments that are not AWS.
type MinioStore struct {
	client *minio.Client
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

func (m *MinioStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get minio://%s/%s: %w", bucket, key, err)
	}

	// GetObject is lazy, Stat surfaces a missing key
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, fmt.Errorf("minio://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, 0, fmt.Errorf("stat minio://%s/%s: %w", bucket, key, err)
	}
	return obj, info.Size, nil
}

func (m *MinioStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put minio://%s/%s: %w", bucket, key, err)
	}
	return nil
}
