package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlstream/crawl-relay/internal/relay"
)

// newIntegrationStore connects to a real Redis when one is provided via
// CRAWLRELAY_TEST_REDIS_ADDR, e.g. "localhost:6379".
func newIntegrationStore(t *testing.T, retention time.Duration) *Store {
	t.Helper()
	addr := os.Getenv("CRAWLRELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRAWLRELAY_TEST_REDIS_ADDR not set; skipping Redis integration test")
	}
	store, err := New(context.Background(), Config{Addr: addr, DB: 9, Retention: retention})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestRedisRoundTrip(t *testing.T) {
	store := newIntegrationStore(t, time.Minute)
	ctx := context.Background()

	rec := relay.CorrelationRecord{
		Fingerprint: "it-fp-1",
		Identity:    "a@example.com",
		Query:       "q",
		Target:      "https://x",
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, rec.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.Identity, got.Identity)
	require.Equal(t, rec.Query, got.Query)

	require.NoError(t, store.Delete(ctx, rec.Fingerprint))
	got, err = store.Get(ctx, rec.Fingerprint)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisGetUnknownIsNil(t *testing.T) {
	store := newIntegrationStore(t, 0)

	got, err := store.Get(context.Background(), "never-stored")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisDeleteMissingIsNoError(t *testing.T) {
	store := newIntegrationStore(t, 0)
	require.NoError(t, store.Delete(context.Background(), "never-stored"))
}
