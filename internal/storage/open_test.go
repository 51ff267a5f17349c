package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3gallery/s3gallery/internal/config"
	"github.com/s3gallery/s3gallery/internal/storage/memory"
	"github.com/s3gallery/s3gallery/internal/storage/minio"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.StoreConfig{Backend: config.BackendMemory}, 0)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	keys := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(keys, []byte(`{"accessKeyId":"minio","secretAccessKey":"minio123"}`), 0600))

	store, err = Open(ctx, config.StoreConfig{
		Backend:         config.BackendMinio,
		Bucket:          "photos",
		Endpoint:        "http://localhost:9000",
		CredentialsFile: keys,
	}, 100)
	require.NoError(t, err)
	assert.IsType(t, &minio.Backend{}, store)

	_, err = Open(ctx, config.StoreConfig{Backend: "ftp"}, 0)
	assert.ErrorContains(t, err, "unknown storage backend")
}
