// Package s3 处理S3存储操作，基于 minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yeisme/panvault/pkg/configs"
	nlog "github.com/yeisme/panvault/pkg/log"
)

// Client 包装 MinIO 客户端，绑定单个 bucket.
type Client struct {
	*minio.Client
	bucket   string
	prefix   string
	partSize uint64
}

// New 初始化 MinIO 客户端，若 bucket 不存在则尝试创建.
func New(ctx context.Context, cfg configs.S3Config) (*Client, error) {
	endpoint, secure := cfg.EndpointHost()

	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	cli.SetAppInfo("panvault", configs.AppVersion)

	exists, err := cli.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.BucketName, err)
	}

	if !exists {
		if err := cli.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.BucketName, err)
		}

		nlog.Logger().Info().Str("bucket", cfg.BucketName).Msg("bucket created")
	}

	nlog.Logger().Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.BucketName).Msg("s3 connected")

	return &Client{
		Client:   cli,
		bucket:   cfg.BucketName,
		prefix:   cfg.KeyPrefix,
		partSize: cfg.PartSizeMB << 20,
	}, nil
}

// Bucket 返回绑定的 bucket 名称.
func (c *Client) Bucket() string { return c.bucket }

// ObjectKey 加上配置的前缀.
func (c *Client) ObjectKey(key string) string { return c.prefix + key }

// ObjectExists 判断对象是否已存在.
func (c *Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := c.StatObject(ctx, c.bucket, c.ObjectKey(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) && (resp.Code == "NoSuchKey" || resp.StatusCode == 404) {
		return false, nil
	}

	return false, err
}

// Put 上传对象，size 未知时传 -1.
func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.PutObject(ctx, c.bucket, c.ObjectKey(key), r, size, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    c.partSize,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	return nil
}

// Remove 删除对象，对象不存在不视为错误.
func (c *Client) Remove(ctx context.Context, key string) error {
	return c.RemoveObject(ctx, c.bucket, c.ObjectKey(key), minio.RemoveObjectOptions{})
}

// HealthCheck 通过检查 bucket 验证连接.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BucketExists(ctx, c.bucket)
	return err
}

// Close 无实际操作，接口兼容.
func (c *Client) Close() error {
	return nil
}
