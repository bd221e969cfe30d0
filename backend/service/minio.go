package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/cpqbox/quote/backend/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage keeps artifacts in an S3-compatible bucket
type MinioStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
	config  *config.MinioConfig
}

var _ ArtifactStorage = (*MinioStorage)(nil)

func NewMinioStorage(cfg *config.MinioConfig, baseURL string) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioStorage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: baseURL,
		config:  cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (s *MinioStorage) objectName(leadID string) string {
	return path.Join(s.config.Prefix, leadID+".pdf")
}

// Put uploads data unless the object already exists. An existing object with
// the same bytes is accepted as a repeated write.
func (s *MinioStorage) Put(ctx context.Context, leadID string, data []byte) (string, error) {
	if !ValidLeadID(leadID) {
		return "", ErrInvalidLeadID
	}
	name := s.objectName(leadID)

	existing, err := s.read(ctx, name)
	switch {
	case err == nil:
		if !bytes.Equal(existing, data) {
			return "", ErrArtifactConflict
		}
		return s.url(leadID), nil
	case !errors.Is(err, ErrArtifactNotFound):
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: PDFContentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return s.url(leadID), nil
}

func (s *MinioStorage) Get(ctx context.Context, leadID string) ([]byte, error) {
	if !ValidLeadID(leadID) {
		return nil, ErrInvalidLeadID
	}
	return s.read(ctx, s.objectName(leadID))
}

func (s *MinioStorage) read(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *MinioStorage) url(leadID string) string {
	if s.config.PublicURLs {
		return s.GetPublicURL(s.objectName(leadID))
	}
	return ArtifactURL(s.baseURL, leadID)
}

// GetPublicURL returns a public URL for the object (if bucket policy allows)
func (s *MinioStorage) GetPublicURL(objectName string) string {
	protocol := "http"
	if s.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.config.Endpoint, s.bucket, objectName)
}
