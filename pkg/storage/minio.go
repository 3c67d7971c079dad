package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
	prefix     string        // 对象键前缀
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
	Prefix    string // 对象键前缀，如 "aven/"
}

// NewMinioStorage 创建MinIO存储实例
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket cannot be empty")
	}

	// 创建MinIO客户端
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %v", err)
	}

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %v", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %v", err)
		}
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
		prefix:     prefix,
	}, nil
}

// Put 上传对象，大小未知时使用分片流式上传
func (s *MinioStorage) Put(ctx context.Context, key string, reader io.Reader) (FileInfo, error) {
	objectName, key, err := s.objectName(key)
	if err != nil {
		return FileInfo{}, err
	}

	contentType := getMimeType(key)
	info, err := s.client.PutObject(
		ctx,
		s.bucketName,
		objectName,
		reader,
		-1,
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to upload object: %v", err)
	}

	return FileInfo{
		Key:      key,
		Size:     info.Size,
		MimeType: contentType,
		Modified: info.LastModified,
	}, nil
}

// Get 获取MinIO中的对象
func (s *MinioStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectName, key, err := s.objectName(key)
	if err != nil {
		return nil, err
	}

	// GetObject不会立即发送请求，先Stat确认对象存在
	if _, err := s.client.StatObject(ctx, s.bucketName, objectName, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object: %v", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %v", err)
	}
	return obj, nil
}

// Delete 从MinIO中删除对象
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	objectName, _, err := s.objectName(key)
	if err != nil {
		return err
	}

	err = s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

// List 列出前缀下的所有对象
func (s *MinioStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	files := []FileInfo{}

	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %v", object.Err)
		}

		key := strings.TrimPrefix(object.Key, s.prefix)
		files = append(files, FileInfo{
			Key:      key,
			Size:     object.Size,
			MimeType: getMimeType(key),
			Modified: object.LastModified,
		})
	}

	return files, nil
}

// Exists 检查MinIO中是否存在指定对象
func (s *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	objectName, _, err := s.objectName(key)
	if err != nil {
		return false, err
	}

	_, err = s.client.StatObject(ctx, s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %v", err)
	}
	return true, nil
}

func (s *MinioStorage) objectName(key string) (string, string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return s.prefix + cleaned, cleaned, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
