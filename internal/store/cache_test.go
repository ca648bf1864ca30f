package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &HybridStore{redis: rdb, logger: zap.NewNop()}, mr
}

func testQuote(productID string) model.ResolvedQuote {
	buy := decimal.RequireFromString("100")
	sell := decimal.RequireFromString("102")
	now := time.Now().UTC().Truncate(time.Millisecond)
	return model.NewPricedQuote(
		model.Product{ID: productID, Code: "XAU-1G", DisplayName: "Gold 1g", ProductType: model.ProductTypeGold},
		model.StatusOK,
		&buy, &sell, &buy, &sell,
		model.QuoteSource{Type: model.SourceProvider, ProviderKey: "STUB"},
		now, now,
	)
}

func TestSetAndGetQuote(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	quote := testQuote("prod-1")
	require.NoError(t, st.SetQuote(ctx, quote, time.Minute))

	got, err := st.GetQuote(ctx, "prod-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "prod-1", got.ProductID)
	assert.Equal(t, model.StatusOK, got.Status)
	require.NotNil(t, got.Source)
	assert.Equal(t, "STUB", got.Source.ProviderKey)
	require.NotNil(t, got.DisplayBuy)
	assert.True(t, got.DisplayBuy.Equal(decimal.RequireFromString("100")))
}

func TestGetQuote_MissIsNotAnError(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	got, err := st.GetQuote(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetQuote_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)

	require.NoError(t, st.SetQuote(ctx, testQuote("prod-1"), 200*time.Millisecond))
	mr.FastForward(300 * time.Millisecond)

	got, err := st.GetQuote(ctx, "prod-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetQuotes_AlignedWithInput(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	require.NoError(t, st.SetQuote(ctx, testQuote("a"), time.Minute))
	require.NoError(t, st.SetQuote(ctx, testQuote("c"), time.Minute))

	got, err := st.GetQuotes(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.NotNil(t, got[0])
	assert.Nil(t, got[1], "missing entry stays nil at its input position")
	assert.NotNil(t, got[2])
}

func TestActiveIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	ids, err := st.GetActiveIndex(ctx)
	require.NoError(t, err)
	assert.Nil(t, ids)

	require.NoError(t, st.RefreshActiveIndex(ctx, []string{"a", "b"}, time.Minute))

	ids, err = st.GetActiveIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestTickSummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	summary := model.TickSummary{
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		OK:        5, Stale: 1, NoPrice: 2, Failed: 0, Duration: 42,
	}
	require.NoError(t, st.SaveTickSummary(ctx, summary, time.Minute))

	got, err := st.GetTickSummary(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.OK)
	assert.Equal(t, 1, got.Stale)
	assert.Equal(t, 2, got.NoPrice)
}

func TestAcquireIngestLock_SecondAcquirerSkips(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)

	ok, err := st.AcquireIngestLock(ctx, "quotes:ingest:lock", "instance-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.AcquireIngestLock(ctx, "quotes:ingest:lock", "instance-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be re-acquired")
}

// The ingestion lock is never renewed mid-tick; once the TTL lapses, another
// instance may legitimately start a tick while the first is still running.
// This documents that overlap window.
func TestAcquireIngestLock_ExpiryAdmitsOverlappingTick(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)

	ok, err := st.AcquireIngestLock(ctx, "quotes:ingest:lock", "instance-a", 900*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// instance-a is logically still mid-tick when the TTL lapses.
	mr.FastForward(time.Second)

	ok, err = st.AcquireIngestLock(ctx, "quotes:ingest:lock", "instance-b", 900*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock admits a second concurrent tick")
}
