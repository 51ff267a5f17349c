/*
Package types defines the object storage contract shared by the gallery
builder and its storage backends.

The builder only needs three operations from a store: a delimited listing,
a whole-object read and a whole-object write with a content type.
ObjectStore captures exactly that, so the S3, MinIO and in-memory backends
are interchangeable:

	store, err := storage.Open(ctx, cfg.Source)
	if err != nil {
		return err
	}
	res, err := store.List(ctx, types.ListOptions{Prefix: "2013/", Delimiter: "/"})

Backends report a missing key with errors.ErrCodeObjectNotFound and flag
throttling and network failures as retryable so callers can wrap calls in
pkg/retry.
*/
package types
