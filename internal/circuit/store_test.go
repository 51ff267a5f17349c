package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3gallery/s3gallery/internal/storage/memory"
	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/types"
)

func TestStore_PassesThrough(t *testing.T) {
	mem := memory.New()
	mem.Seed("2013/05/IMG_1.jpg", []byte("jpeg"), "image/jpeg")
	store := NewStore("source", mem, DefaultConfig())
	ctx := context.Background()

	res, err := store.List(ctx, types.ListOptions{Prefix: "2013/05/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2013/05/IMG_1.jpg"}, res.Keys())

	obj, err := store.Get(ctx, "2013/05/IMG_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", obj.ContentType)

	require.NoError(t, store.Put(ctx, "thumb/2013/05/IMG_1.jpg", []byte("thumb"), "image/jpeg"))
	_, _, ok := mem.Object("thumb/2013/05/IMG_1.jpg")
	assert.True(t, ok)

	assert.NoError(t, store.HealthCheck(ctx))
	assert.Same(t, mem, store.Unwrap())
}

func TestStore_BreakersArePerOperation(t *testing.T) {
	mem := memory.New()
	mem.Seed("a.jpg", []byte("jpeg"), "image/jpeg")
	store := NewStore("destination", mem, Config{ConsecutiveFailures: 2, Timeout: time.Minute})
	ctx := context.Background()

	for _, key := range []string{"x", "y"} {
		mem.FailPut(key, errors.NewError(errors.ErrCodeNetworkError, "reset"))
		_ = store.Put(ctx, key, nil, "text/plain")
	}

	err := store.Put(ctx, "z", nil, "text/plain")
	assert.True(t, errors.HasCode(err, errors.ErrCodeCircuitOpen))
	_, _, ok := mem.Object("z")
	assert.False(t, ok, "rejected put must not reach the store")

	_, err = store.Get(ctx, "a.jpg")
	assert.NoError(t, err, "gets are guarded by their own breaker")

	stats := store.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, "destination.list", stats[0].Name)
	assert.Equal(t, StateClosed, stats[1].State)
	assert.Equal(t, "destination.put", stats[2].Name)
	assert.Equal(t, StateOpen, stats[2].State)
}

func TestStore_MissingKeysKeepBreakerClosed(t *testing.T) {
	store := NewStore("source", memory.New(), Config{ConsecutiveFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := store.Get(context.Background(), "missing.jpg")
		require.True(t, errors.IsNotFound(err))
	}
	assert.Equal(t, StateClosed, store.Stats()[1].State)
}
