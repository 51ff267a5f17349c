package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/types"
)

// Backend implements types.ObjectStore on Amazon S3 or any S3 compatible
// endpoint.
type Backend struct {
	client S3API
	bucket string
	config *Config
	logger *slog.Logger

	stats   *requestStats
}

var (
	_ types.ObjectStore   = (*Backend)(nil)
	_ types.HealthChecker = (*Backend)(nil)
)

// NewBackend creates a new S3 backend instance
func NewBackend(ctx context.Context, bucket string, cfg *Config) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConnectionFailed, "create S3 client", err).
			WithComponent("s3-backend").
			WithContext("bucket", bucket)
	}

	return NewBackendWithClient(client, bucket, cfg)
}

// NewBackendWithClient creates a backend around an existing client.
func NewBackendWithClient(client S3API, bucket string, cfg *Config) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	return &Backend{
		client:  client,
		bucket:  bucket,
		config:  cfg,
		logger:  slog.Default().With("component", "s3-backend", "bucket", bucket),
		stats:   &requestStats{stats: RequestStats{Bucket: bucket}},
	}, nil
}

// List returns every object and common prefix under opts.Prefix, following
// continuation tokens until the listing is exhausted.
func (b *Backend) List(ctx context.Context, opts types.ListOptions) (*types.ListResult, error) {
	start := time.Now()

	pageSize := opts.MaxKeys
	if pageSize <= 0 {
		pageSize = b.config.PageSize
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(opts.Prefix),
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if pageSize > 0 {
		input.MaxKeys = aws.Int32(int32(min(pageSize, 1000)))
	}

	result := &types.ListResult{}
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := b.nextPage(ctx, paginator)
		if err != nil {
			b.record(start, err)
			return nil, b.translateError(err, "ListObjects", opts.Prefix)
		}
		b.stats.listedPage()

		for _, obj := range page.Contents {
			result.Objects = append(result.Objects, types.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
		for _, cp := range page.CommonPrefixes {
			result.CommonPrefixes = append(result.CommonPrefixes, aws.ToString(cp.Prefix))
		}
	}

	b.record(start, nil)
	b.logger.Debug("Listed objects",
		"prefix", opts.Prefix,
		"objects", len(result.Objects),
		"prefixes", len(result.CommonPrefixes))
	return result, nil
}

func (b *Backend) nextPage(ctx context.Context, p *s3.ListObjectsV2Paginator) (*s3.ListObjectsV2Output, error) {
	ctx, cancel := b.requestContext(ctx)
	defer cancel()
	return p.NextPage(ctx)
}

// Get retrieves a whole object and its stored content type.
func (b *Backend) Get(ctx context.Context, key string) (*types.Object, error) {
	start := time.Now()
	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		b.record(start, err)
		return nil, b.translateError(err, "GetObject", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		b.record(start, err)
		return nil, errors.Wrap(errors.ErrCodeStorageRead, "failed to read object body", err).
			WithComponent("s3-backend").
			WithContext("key", key).
			WithRetryable(true)
	}

	b.record(start, nil)
	b.stats.read(len(data))

	return &types.Object{
		Key:         key,
		Data:        data,
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Put stores data under key with the given content type.
func (b *Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		b.record(start, err)
		return b.translateError(err, "PutObject", key)
	}

	b.record(start, nil)
	b.stats.wrote(len(data))
	return nil
}

// HealthCheck performs a health check on the S3 backend
func (b *Backend) HealthCheck(ctx context.Context) error {
	ctx, cancel := b.requestContext(ctx)
	defer cancel()

	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return b.translateError(err, "HeadBucket", "")
	}
	return nil
}

// RequestStats returns the request counters of this backend.
func (b *Backend) RequestStats() RequestStats {
	return b.stats.snapshot()
}

func (b *Backend) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, b.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (b *Backend) record(start time.Time, err error) {
	b.stats.observe(time.Since(start), err)
}

// translateError maps SDK errors onto gallery error codes and marks the
// transient ones retryable.
func (b *Backend) translateError(err error, operation, key string) error {
	code := errors.ErrCodeStorageRead
	switch operation {
	case "PutObject":
		code = errors.ErrCodeStorageWrite
	case "ListObjects":
		code = errors.ErrCodeStorageList
	}
	message := fmt.Sprintf("%s failed", operation)

	var apiErr smithy.APIError
	var netErr net.Error
	var statusErr interface{ HTTPStatusCode() int }

	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		code, message = errors.ErrCodeObjectNotFound, fmt.Sprintf("object not found: %s", key)
	case isErrorType[*s3types.NoSuchBucket](err):
		code, message = errors.ErrCodeBucketNotFound, fmt.Sprintf("bucket not found: %s", b.bucket)
	case stderr.Is(err, context.Canceled):
		code = errors.ErrCodeOperationCanceled
	case stderr.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeOperationTimeout
	case stderr.As(err, &apiErr) && classifyAPIError(apiErr.ErrorCode()) != "":
		code = classifyAPIError(apiErr.ErrorCode())
	case stderr.As(err, &netErr):
		code = errors.ErrCodeNetworkError
	}

	gerr := errors.Wrap(code, message, err).
		WithComponent("s3-backend").
		WithOperation(operation).
		WithContext("bucket", b.bucket)
	if key != "" {
		gerr.WithContext("key", key)
	}
	if stderr.As(err, &statusErr) && statusErr.HTTPStatusCode() >= 500 {
		gerr.WithRetryable(true)
	}
	return gerr
}

func classifyAPIError(code string) errors.ErrorCode {
	switch code {
	case "NoSuchKey", "NotFound":
		return errors.ErrCodeObjectNotFound
	case "NoSuchBucket":
		return errors.ErrCodeBucketNotFound
	case "AccessDenied", "Forbidden":
		return errors.ErrCodeAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return errors.ErrCodeAuthenticationFailed
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "ServiceUnavailable":
		return errors.ErrCodeSlowDown
	case "RequestTimeout", "RequestTimeTooSkewed":
		return errors.ErrCodeConnectionTimeout
	case "InternalError":
		return errors.ErrCodeInternalError
	}
	return ""
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}
