// Package minio implements types.ObjectStore with the MinIO client, for
// self-hosted S3 compatible servers.
package minio

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/types"
)

// Config configures the MinIO backend.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	UseSSL          bool
	PathStyle       bool
}

// Backend implements types.ObjectStore on a MinIO server.
type Backend struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var (
	_ types.ObjectStore   = (*Backend)(nil)
	_ types.HealthChecker = (*Backend)(nil)
)

// NewBackend creates a MinIO backend for bucket.
func NewBackend(bucket string, cfg Config) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	host, secure, err := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: secure,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(host, opts)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConnectionFailed, "create MinIO client", err).
			WithComponent("minio-backend").
			WithContext("endpoint", cfg.Endpoint)
	}

	return &Backend{
		client: client,
		bucket: bucket,
		logger: slog.Default().With("component", "minio-backend", "bucket", bucket),
	}, nil
}

// List returns the objects and common prefixes under opts.Prefix. MinIO
// only groups on "/", so any other delimiter is rejected.
func (b *Backend) List(ctx context.Context, opts types.ListOptions) (*types.ListResult, error) {
	if opts.Delimiter != "" && opts.Delimiter != "/" {
		return nil, errors.NewError(errors.ErrCodeStorageList, "unsupported delimiter "+opts.Delimiter).
			WithComponent("minio-backend")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var infos []minio.ObjectInfo
	for info := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Delimiter == "",
		MaxKeys:   opts.MaxKeys,
	}) {
		if info.Err != nil {
			return nil, b.translateError(info.Err, "ListObjects", opts.Prefix)
		}
		infos = append(infos, info)
	}

	res := splitListing(infos, opts.Delimiter != "")
	b.logger.Debug("Listed objects",
		"prefix", opts.Prefix,
		"objects", len(res.Objects),
		"prefixes", len(res.CommonPrefixes))
	return res, nil
}

// Get retrieves a whole object and its content type.
func (b *Backend) Get(ctx context.Context, key string) (*types.Object, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.translateError(err, "GetObject", key)
	}
	defer func() {
		_ = obj.Close()
	}()

	stat, err := obj.Stat()
	if err != nil {
		return nil, b.translateError(err, "GetObject", key)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.translateError(err, "GetObject", key)
	}

	return &types.Object{Key: key, Data: data, ContentType: stat.ContentType}, nil
}

// Put stores data under key with the given content type.
func (b *Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return b.translateError(err, "PutObject", key)
	}
	return nil
}

// HealthCheck verifies the bucket exists.
func (b *Backend) HealthCheck(ctx context.Context) error {
	ok, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return b.translateError(err, "BucketExists", "")
	}
	if !ok {
		return errors.NewError(errors.ErrCodeBucketNotFound, "bucket not found: "+b.bucket).
			WithComponent("minio-backend")
	}
	return nil
}

// splitListing separates directory markers from objects. In a delimited
// listing MinIO reports each common prefix as a key ending in "/".
func splitListing(infos []minio.ObjectInfo, delimited bool) *types.ListResult {
	res := &types.ListResult{}
	for _, info := range infos {
		if delimited && strings.HasSuffix(info.Key, "/") {
			res.CommonPrefixes = append(res.CommonPrefixes, info.Key)
			continue
		}
		res.Objects = append(res.Objects, types.ObjectInfo{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
			ETag:         info.ETag,
			ContentType:  info.ContentType,
		})
	}
	return res
}

// normalizeEndpoint strips an http(s) scheme from endpoint, which the
// MinIO client does not accept, and derives TLS from it.
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	switch {
	case endpoint == "":
		return "", false, fmt.Errorf("endpoint cannot be empty")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, useSSL = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, useSSL = strings.TrimPrefix(endpoint, "http://"), false
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	if strings.Contains(endpoint, "/") {
		return "", false, fmt.Errorf("endpoint must not contain a path: %s", endpoint)
	}
	return endpoint, useSSL, nil
}

func (b *Backend) translateError(err error, operation, key string) error {
	code := errors.ErrCodeStorageRead
	switch operation {
	case "PutObject":
		code = errors.ErrCodeStorageWrite
	case "ListObjects":
		code = errors.ErrCodeStorageList
	}
	message := fmt.Sprintf("%s failed", operation)

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey":
		code, message = errors.ErrCodeObjectNotFound, fmt.Sprintf("object not found: %s", key)
	case resp.Code == "NoSuchBucket":
		code, message = errors.ErrCodeBucketNotFound, fmt.Sprintf("bucket not found: %s", b.bucket)
	case resp.Code == "AccessDenied":
		code = errors.ErrCodeAccessDenied
	case resp.Code == "SlowDown" || resp.Code == "XMinioServerNotInitialized":
		code = errors.ErrCodeSlowDown
	case stderr.Is(err, context.Canceled):
		code = errors.ErrCodeOperationCanceled
	case stderr.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeOperationTimeout
	}

	gerr := errors.Wrap(code, message, err).
		WithComponent("minio-backend").
		WithOperation(operation).
		WithContext("bucket", b.bucket)
	if key != "" {
		gerr.WithContext("key", key)
	}
	if resp.StatusCode >= 500 {
		gerr.WithRetryable(true)
	}
	return gerr
}
