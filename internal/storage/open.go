// Package storage selects and constructs the object store backend named in
// configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/s3gallery/s3gallery/internal/config"
	"github.com/s3gallery/s3gallery/internal/storage/memory"
	"github.com/s3gallery/s3gallery/internal/storage/minio"
	"github.com/s3gallery/s3gallery/internal/storage/s3"
	"github.com/s3gallery/s3gallery/pkg/types"
)

// Open constructs the backend for sc. pageSize bounds each listing request.
func Open(ctx context.Context, sc config.StoreConfig, pageSize int) (types.ObjectStore, error) {
	switch sc.Backend {
	case config.BackendS3, "":
		return s3.NewBackend(ctx, sc.Bucket, s3.ConfigFromStore(sc, pageSize))

	case config.BackendMinio:
		mc := minio.Config{
			Endpoint:  sc.Endpoint,
			Region:    sc.Region,
			UseSSL:    sc.UseSSL,
			PathStyle: sc.ForcePathStyle,
		}
		if sc.CredentialsFile != "" {
			creds, err := s3.LoadCredentialsFile(sc.CredentialsFile)
			if err != nil {
				return nil, err
			}
			mc.AccessKeyID = creds.AccessKeyID
			mc.SecretAccessKey = creds.SecretAccessKey
			mc.SessionToken = creds.SessionToken
		}
		return minio.NewBackend(sc.Bucket, mc)

	case config.BackendMemory:
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", sc.Backend)
	}
}
