package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"elexis-pipeline/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// BlobStore 对象存储能力
type BlobStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PutJSON(ctx context.Context, bucket, key string, v interface{}) error
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

var _ BlobStore = (*MinIO)(nil)

// MinIO S3 兼容对象存储
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	logger zerolog.Logger
}

// NewMinIO 创建客户端并确保默认桶存在
func NewMinIO(cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}
	m := &MinIO{client: client, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	seen := map[string]bool{}
	for _, b := range []string{cfg.DefaultBucket, cfg.TranscriptBucket, cfg.ResumeBucket} {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		if err := m.ensureBucketExists(ctx, b); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucket, err)
	}
	m.logger.Info().Str("bucket", bucket).Msg("bucket created")
	return nil
}

// Get 读取整个对象；对象不存在返回 ErrNotFound
func (m *MinIO) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (m *MinIO) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PutJSON 序列化后写入，ContentType 为 application/json
func (m *MinIO) PutJSON(ctx context.Context, bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", bucket, key, err)
	}
	return m.Put(ctx, bucket, key, data, "application/json")
}

// SignedURL 预签名只读地址
func (m *MinIO) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = config.GetDuration(m.cfg.SignedURLTTL, time.Hour)
	}
	u, err := m.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}
