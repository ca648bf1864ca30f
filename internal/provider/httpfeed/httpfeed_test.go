package httpfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/httpclient"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

func newTestFeed(srv *httptest.Server) *Feed {
	exec := httpclient.New(zap.NewNop(), nil, srv.Client(), 0, "test-feed")
	resolver := &StaticResolver{Config: Config{BaseURL: srv.URL, APIKey: "key-1"}}
	return New("GOLDAPI", zap.NewNop(), exec, resolver)
}

func mapping() model.ProviderMapping {
	return model.ProviderMapping{ProductID: "prod-1", ProviderKey: "GOLDAPI", Symbol: "XAU"}
}

func TestFetchOne_ParsesPrices(t *testing.T) {
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices/XAU", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		_ = json.NewEncoder(w).Encode(priceResponse{
			Symbol: "XAU",
			Buy:    "3310.25",
			Sell:   "3312.90",
			AsOf:   asOf.Format(time.RFC3339),
		})
	}))
	defer srv.Close()

	q, err := newTestFeed(srv).FetchOne(context.Background(), mapping(), model.Product{})
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "prod-1", q.ProductID)
	assert.Equal(t, "GOLDAPI", q.ProviderKey)
	assert.True(t, q.Buy.Equal(decimal.RequireFromString("3310.25")))
	assert.True(t, q.Sell.Equal(decimal.RequireFromString("3312.90")))
	assert.Equal(t, asOf, q.AsOf.UTC())
}

func TestFetchOne_UnknownSymbolIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	q, err := newTestFeed(srv).FetchOne(context.Background(), mapping(), model.Product{})
	require.NoError(t, err, "a 404 is expected no-data, not a failure")
	assert.Nil(t, q)
}

func TestFetchOne_UnparsablePriceIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(priceResponse{Symbol: "XAU", Buy: "n/a", Sell: "3312.90"})
	}))
	defer srv.Close()

	q, err := newTestFeed(srv).FetchOne(context.Background(), mapping(), model.Product{})
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestFetchOne_MissingSideIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(priceResponse{Symbol: "XAU", Buy: "3310.25"})
	}))
	defer srv.Close()

	q, err := newTestFeed(srv).FetchOne(context.Background(), mapping(), model.Product{})
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestFetchOne_BadAsOfFallsBackToNow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(priceResponse{Symbol: "XAU", Buy: "1", Sell: "2", AsOf: "yesterday"})
	}))
	defer srv.Close()

	before := time.Now().UTC()
	q, err := newTestFeed(srv).FetchOne(context.Background(), mapping(), model.Product{})
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.False(t, q.AsOf.Before(before))
}

func TestFetchOne_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestFeed(srv).FetchOne(context.Background(), mapping(), model.Product{})
	assert.Error(t, err)
}

// ─── Discovery ────────────────────────────────────────────────────────────────

type fakeSecrets struct {
	names   map[string][]string
	secrets map[string]map[string]string
}

func (f *fakeSecrets) GetSecret(_ context.Context, name string) (map[string]string, error) {
	return f.secrets[name], nil
}

func (f *fakeSecrets) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	return f.names[prefix], nil
}

func TestDiscoverKeys(t *testing.T) {
	provider := &fakeSecrets{
		names: map[string][]string{
			"prod/feeds/": {
				"prod/feeds/goldapi",
				"prod/feeds/metalsdev",
				"prod/feeds/goldapi/extra", // nested, skipped
			},
		},
	}

	keys, err := DiscoverKeys(context.Background(), zap.NewNop(), provider, "PROD")
	require.NoError(t, err)
	assert.Equal(t, []string{"GOLDAPI", "METALSDEV"}, keys)
}

func TestSecretNameFor(t *testing.T) {
	assert.Equal(t, "prod/feeds/goldapi", SecretNameFor("PROD", "GOLDAPI"))
}
