package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Address = mr.Addr()
	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewStore(client, cfg)
	require.NoError(t, err)
	return store, mr
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t, Config{})
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "bulk_import_state")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save(ctx, "bulk_import_state", `{"state":"paused"}`))
	require.True(t, mr.Exists("bulkimport:bulk_import_state"))

	value, ok, err := store.Load(ctx, "bulk_import_state")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"state":"paused"}`, value)

	require.NoError(t, store.Remove(ctx, "bulk_import_state"))
	require.False(t, mr.Exists("bulkimport:bulk_import_state"))
	require.NoError(t, store.Remove(ctx, "bulk_import_state"))
}

func TestStoreTTLExpiresSnapshot(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t, Config{TTL: time.Hour, Prefix: "test:"})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "k", "v"))
	require.Equal(t, time.Hour, mr.TTL("test:k"))

	mr.FastForward(2 * time.Hour)
	_, ok, err := store.Load(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreSurfacesConnectionErrors(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t, Config{})
	mr.Close()

	require.Error(t, store.Save(context.Background(), "k", "v"))
	_, _, err := store.Load(context.Background(), "k")
	require.Error(t, err)
}

func TestNewClientAndStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrEmptyAddress)

	_, err = NewStore(nil, Config{})
	require.Error(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err = NewStore(client, Config{TTL: -time.Second})
	require.Error(t, err)
}
