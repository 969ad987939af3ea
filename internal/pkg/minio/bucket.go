package minio

import (
	"context"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// BucketExists checks if a bucket exists
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	if err := c.checkClosed(); err != nil {
		return false, err
	}
	if bucketName == "" {
		return false, WrapError("BucketExists", ErrInvalidBucketName, bucketName, "")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return false, WrapError("BucketExists", err, bucketName, "")
	}
	return exists, nil
}

// MakeBucket creates a new bucket in the configured region
func (c *Client) MakeBucket(ctx context.Context, bucketName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if bucketName == "" {
		return WrapError("MakeBucket", ErrInvalidBucketName, bucketName, "")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return WrapError("MakeBucket", err, bucketName, "")
	}

	c.logger.Info("bucket created successfully",
		zap.String("bucket", bucketName),
		zap.String("region", c.config.Region),
	)
	return nil
}

// EnsureBucket 确保配置的 bucket 存在；AutoCreateBucket 关闭时缺失即报错
func (c *Client) EnsureBucket(ctx context.Context) error {
	bucket := c.config.Bucket

	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !c.config.AutoCreateBucket {
		return WrapError("EnsureBucket", ErrBucketNotFound, bucket, "")
	}

	err = c.MakeBucket(ctx, bucket)
	if err != nil && !IsBucketAlreadyExists(err) {
		return err
	}
	return nil
}
