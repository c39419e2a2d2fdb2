// Package storage 提供了与对象存储服务（如 MinIO / S3）交互的功能。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"rag-chat-go/internal/config"
	"rag-chat-go/pkg/log"
)

// ErrObjectNotFound 表示请求的对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore 定义了按键读写对象的最小接口。
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MinIOStore 是 ObjectStore 的 MinIO 实现，所有对象都写入同一个存储桶。
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}

	return &MinIOStore{client: client, bucket: cfg.BucketName}, nil
}

// Put 写入（覆盖）一个对象。size 未知时传 -1。
func (s *MinIOStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, opts); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get 读取整个对象。对象不存在时返回 ErrObjectNotFound。
func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(key, err)
	}
	defer obj.Close()

	// GetObject 是惰性的，错误在第一次读取时才会出现
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateError(key, err)
	}
	return data, nil
}

// Delete 删除一个对象；对象不存在不视为错误。
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func translateError(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return fmt.Errorf("get object %s: %w", key, err)
}

// isNotFound 只认 NoSuchKey；NoSuchBucket 等同为 404 的错误属于配置故障，不能当作对象缺失。
func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
