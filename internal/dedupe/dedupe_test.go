package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBucketing(t *testing.T) {
	window := 5 * time.Minute
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	a := NewKey("rank", "c-1", base.Add(30*time.Second), window)
	b := NewKey("rank", "c-1", base.Add(4*time.Minute), window)
	c := NewKey("rank", "c-1", base.Add(6*time.Minute), window)

	assert.Equal(t, a, b, "timestamps in the same bucket must collapse")
	assert.NotEqual(t, a, c, "timestamps in different buckets must not collapse")
}

func TestDeduperSuppressesWithinWindow(t *testing.T) {
	deduper := New(NewMemoryStore(16), 5*time.Minute, zerolog.Nop())
	key := NewKey("announce", "c-1", time.Now(), deduper.Window())

	assert.True(t, deduper.ShouldEmit(context.Background(), key))
	assert.False(t, deduper.ShouldEmit(context.Background(), key), "second sighting within window must be suppressed")
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore(16)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.nowFunc = func() time.Time { return now }

	key := NewKey("announce", "c-1", now, time.Minute)

	first, err := store.Record(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.Record(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	now = now.Add(2 * time.Minute)
	afterExpiry, err := store.Record(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.True(t, afterExpiry, "expired entry must be recordable again")
}

func TestMemoryStoreCapEviction(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := Key{Kind: "k", SourceID: string(rune('a' + i)), Bucket: 0}
		first, err := store.Record(ctx, key, time.Hour)
		require.NoError(t, err)
		require.True(t, first)
	}
	assert.Equal(t, 3, store.Len())

	// A fourth insert evicts the oldest.
	overflow := Key{Kind: "k", SourceID: "d", Bucket: 0}
	first, err := store.Record(ctx, overflow, time.Hour)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 3, store.Len())

	evicted := Key{Kind: "k", SourceID: "a", Bucket: 0}
	again, err := store.Record(ctx, evicted, time.Hour)
	require.NoError(t, err)
	assert.True(t, again, "evicted key is no longer remembered")
}

type failingStore struct{}

func (failingStore) Record(context.Context, Key, time.Duration) (bool, error) {
	return false, context.DeadlineExceeded
}

func TestDeduperFailsOpen(t *testing.T) {
	deduper := New(failingStore{}, time.Minute, zerolog.Nop())
	key := NewKey("announce", "c-1", time.Now(), time.Minute)
	assert.True(t, deduper.ShouldEmit(context.Background(), key), "a broken store must not swallow notifications")
}
