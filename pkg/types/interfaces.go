package types

import (
	"context"
)

// ObjectStore is the object storage capability the gallery builder runs on.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// List returns the objects and common prefixes directly under
	// opts.Prefix. Pagination is handled by the implementation and the
	// result is in lexicographic key order.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Get returns the object body and its stored content type. A missing
	// key yields an error carrying errors.ErrCodeObjectNotFound.
	Get(ctx context.Context, key string) (*Object, error)

	// Put writes data under key with the given content type, replacing any
	// existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// HealthChecker is implemented by stores that can verify their bucket is
// reachable before a run starts.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
