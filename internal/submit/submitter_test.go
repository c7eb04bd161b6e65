package submit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlstream/crawl-relay/internal/broker"
	brokermem "github.com/crawlstream/crawl-relay/internal/broker/memory"
	corrmem "github.com/crawlstream/crawl-relay/internal/correlation/memory"
	"github.com/crawlstream/crawl-relay/internal/hash/sha256"
	"github.com/crawlstream/crawl-relay/internal/relay"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// failingStore simulates backend unavailability.
type failingStore struct{}

func (failingStore) Put(context.Context, relay.CorrelationRecord) error {
	return errors.New("connection refused")
}
func (failingStore) Get(context.Context, string) (*relay.CorrelationRecord, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("connection refused") }
func (failingStore) Close() error                         { return nil }

func TestSubmitStoresRecordThenPublishes(t *testing.T) {
	t.Parallel()

	store := corrmem.New(0, nil)
	b := brokermem.New()
	now := time.Unix(1700000000, 0).UTC()
	sub := New(store, b, sha256.New(), fixedClock{now}, "crawl.requests", nil)

	var published []broker.Message
	require.NoError(t, b.Subscribe(context.Background(), "crawl.requests",
		func(_ context.Context, msg broker.Message) error {
			// The record must already be visible when the message lands.
			rec, err := store.Get(context.Background(), msg.Headers[relay.HeaderFingerprint])
			require.NoError(t, err)
			require.NotNil(t, rec, "store-then-publish ordering violated")
			published = append(published, msg)
			return nil
		}))

	receipt, err := sub.Submit(context.Background(), "a@example.com", "q", "https://x")
	require.NoError(t, err)
	require.Equal(t, "accepted", receipt.Status)
	require.NotEmpty(t, receipt.Fingerprint)

	require.Len(t, published, 1)
	msg := published[0]
	require.Equal(t, receipt.Fingerprint, msg.Headers[relay.HeaderFingerprint])
	require.Equal(t, "a@example.com", msg.Headers[relay.HeaderIdentity])
	require.NotEmpty(t, msg.Headers[relay.HeaderTimestamp])

	var body relay.RequestBody
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	require.Equal(t, "q", body.Query)
	require.Equal(t, "https://x", body.Target)

	rec, err := store.Get(context.Background(), receipt.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "a@example.com", rec.Identity)
	require.Equal(t, now, rec.CreatedAt)
}

func TestSubmitRejectsEmptyFields(t *testing.T) {
	t.Parallel()

	sub := New(corrmem.New(0, nil), brokermem.New(), sha256.New(),
		fixedClock{time.Now()}, "crawl.requests", nil)

	_, err := sub.Submit(context.Background(), "", "q", "https://x")
	require.ErrorIs(t, err, relay.ErrValidation)
	_, err = sub.Submit(context.Background(), "a@example.com", "", "https://x")
	require.ErrorIs(t, err, relay.ErrValidation)
	_, err = sub.Submit(context.Background(), "a@example.com", "q", "")
	require.ErrorIs(t, err, relay.ErrValidation)
}

func TestSubmitSurfacesStorageUnavailability(t *testing.T) {
	t.Parallel()

	b := brokermem.New()
	sub := New(failingStore{}, b, sha256.New(), fixedClock{time.Now()}, "crawl.requests", nil)

	_, err := sub.Submit(context.Background(), "a@example.com", "q", "https://x")
	require.ErrorIs(t, err, relay.ErrStorageUnavailable)
	require.Zero(t, b.Buffered("crawl.requests"), "nothing may be published when the store put fails")
}

func TestDuplicateSubmitCollapsesOntoOneRecord(t *testing.T) {
	t.Parallel()

	store := corrmem.New(0, nil)
	sub := New(store, brokermem.New(), sha256.New(), fixedClock{time.Now()}, "crawl.requests", nil)

	r1, err := sub.Submit(context.Background(), "a@example.com", "q", "https://x")
	require.NoError(t, err)
	r2, err := sub.Submit(context.Background(), "a@example.com", "q", "https://x")
	require.NoError(t, err)

	require.Equal(t, r1.Fingerprint, r2.Fingerprint)
	require.Equal(t, 1, store.Len())
}

func TestSubmitPublishFailureLeavesOrphanedRecord(t *testing.T) {
	t.Parallel()

	store := corrmem.New(0, nil)
	b := brokermem.New()
	require.NoError(t, b.Close())
	sub := New(store, b, sha256.New(), fixedClock{time.Now()}, "crawl.requests", nil)

	_, err := sub.Submit(context.Background(), "a@example.com", "q", "https://x")
	require.Error(t, err)
	// The record stays behind; retention reclaims it later.
	require.Equal(t, 1, store.Len())
}
