package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"StoryToVideo-studio/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var MinioClient *minio.Client

// InitMinIO 初始化连接，在 main.go 中调用
func InitMinIO() {
	cfg := config.AppConfig.MinIO
	var err error
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatalf("MinIO init failed: %v", err)
	}
	log.Println("MinIO connected")
}

// MediaStore hosts uploaded music and re-hosts generated media in a bucket.
type MediaStore struct {
	Client *minio.Client
	Bucket string
	Expiry time.Duration
}

func NewMediaStore(client *minio.Client, bucket string) *MediaStore {
	return &MediaStore{Client: client, Bucket: bucket, Expiry: 72 * time.Hour}
}

func contentType(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	}
	return "application/octet-stream"
}

// Upload stores reader under objectName and returns a presigned URL. size may
// be -1 when unknown.
func (s *MediaStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64) (string, error) {
	exists, err := s.Client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.Client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("create bucket: %w", err)
		}
		log.Printf("[Media] bucket '%s' created", s.Bucket)
	}

	_, err = s.Client.PutObject(ctx, s.Bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType(objectName),
	})
	if err != nil {
		return "", fmt.Errorf("upload to MinIO: %w", err)
	}

	presignedURL, err := s.Client.PresignedGetObject(ctx, s.Bucket, objectName, s.Expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectName, err)
	}
	log.Printf("[Media] uploaded: %s", objectName)
	return presignedURL.String(), nil
}

// Rehost downloads sourceURL and stores it under objectName.
func (s *MediaStore) Rehost(ctx context.Context, sourceURL, objectName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}
	return s.Upload(ctx, objectName, resp.Body, resp.ContentLength)
}
