package minio

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// PutObjectOptions represents options for uploading an object
type PutObjectOptions struct {
	ContentType  string
	UserMetadata map[string]string
}

// UploadInfo represents information about an uploaded object
type UploadInfo struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
}

// ObjectInfo represents object information
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified string
	ContentType  string
	Metadata     map[string]string
}

func checkNames(op, bucketName, objectName string) error {
	if bucketName == "" {
		return WrapError(op, ErrInvalidBucketName, bucketName, objectName)
	}
	if objectName == "" {
		return WrapError(op, ErrInvalidObjectName, bucketName, objectName)
	}
	return nil
}

// PutObject uploads an object to a bucket
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts PutObjectOptions) (UploadInfo, error) {
	if err := c.checkClosed(); err != nil {
		return UploadInfo{}, err
	}
	if err := checkNames("PutObject", bucketName, objectName); err != nil {
		return UploadInfo{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.PutObject(ctx, bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.UserMetadata,
	})
	if err != nil {
		return UploadInfo{}, WrapError("PutObject", err, bucketName, objectName)
	}

	c.logger.Debug("object uploaded",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
	)

	return UploadInfo{
		Bucket: info.Bucket,
		Key:    info.Key,
		ETag:   info.ETag,
		Size:   info.Size,
	}, nil
}

// GetObject downloads a whole object into memory. A missing object yields an
// error for which IsNotFound reports true.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if err := checkNames("GetObject", bucketName, objectName); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	object, err := c.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, WrapError("GetObject", err, bucketName, objectName)
	}
	defer object.Close()

	// minio-go 直到第一次读取才真正发出请求
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, WrapError("GetObject", err, bucketName, objectName)
	}
	return data, nil
}

// StatObject gets object metadata
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}
	if err := checkNames("StatObject", bucketName, objectName); err != nil {
		return ObjectInfo{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, WrapError("StatObject", err, bucketName, objectName)
	}

	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified.Format("2006-01-02 15:04:05"),
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}, nil
}

// RemoveObject removes an object from a bucket. S3 reports success for
// absent keys, so removing a missing object is not an error.
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := checkNames("RemoveObject", bucketName, objectName); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return WrapError("RemoveObject", err, bucketName, objectName)
	}

	c.logger.Debug("object removed",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
	)
	return nil
}
