package types

import (
	"time"
)

// ObjectInfo represents metadata about an object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type,omitempty"`
}

// Object is a fetched object body with its content type.
type Object struct {
	Key         string `json:"key"`
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
}

// ListOptions configures a List call.
type ListOptions struct {
	// Prefix restricts results to keys that begin with it
	Prefix string

	// Delimiter groups keys sharing a prefix up to the delimiter into
	// CommonPrefixes. Empty means a flat listing.
	Delimiter string

	// MaxKeys is the page size requested from the backend. Zero uses the
	// backend default. It never truncates the overall result.
	MaxKeys int
}

// ListResult is the outcome of a List call.
type ListResult struct {
	Objects        []ObjectInfo `json:"objects"`
	CommonPrefixes []string     `json:"common_prefixes"`
}

// Keys returns the object keys in listing order.
func (r *ListResult) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.Objects))
	for _, obj := range r.Objects {
		keys = append(keys, obj.Key)
	}
	return keys
}
