/*
Package s3 implements types.ObjectStore on Amazon S3 and S3 compatible
endpoints using aws-sdk-go-v2.

# Listing

List issues ListObjectsV2 with the requested prefix and delimiter and
follows continuation tokens with the SDK paginator, so callers always see
the complete level:

	res, err := backend.List(ctx, types.ListOptions{Prefix: "2013/05/", Delimiter: "/"})
	// res.Objects: 2013/05/IMG_0001.jpg, 2013/05/IMG_0002.jpg, ...
	// res.CommonPrefixes: 2013/05/raw/

# Credentials

Static credentials are read from a JSON document:

	{"accessKeyId": "AKIA...", "secretAccessKey": "...", "region": "us-east-1"}

When no credentials file is configured the default AWS chain applies
(environment, shared config, instance role).

# Errors

SDK errors are translated into pkg/errors codes. A missing key becomes
OBJECT_NOT_FOUND; throttling, 5xx responses and network failures are marked
retryable so pkg/retry can back off and try again.
*/
package s3
