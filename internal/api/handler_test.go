package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/quotelock"
	"github.com/Checker-Finance/quote-engine/internal/stream"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// ─── Mock store ───────────────────────────────────────────────────────────────

type mockQuoteReader struct {
	index   []string
	quotes  map[string]*model.ResolvedQuote
	hidden  map[string]map[model.ProductType]bool
	summary *model.TickSummary
}

func (m *mockQuoteReader) GetActiveIndex(context.Context) ([]string, error) {
	return m.index, nil
}

func (m *mockQuoteReader) GetQuote(_ context.Context, productID string) (*model.ResolvedQuote, error) {
	return m.quotes[productID], nil
}

func (m *mockQuoteReader) GetQuotes(_ context.Context, productIDs []string) ([]*model.ResolvedQuote, error) {
	out := make([]*model.ResolvedQuote, len(productIDs))
	for i, id := range productIDs {
		out[i] = m.quotes[id]
	}
	return out, nil
}

func (m *mockQuoteReader) GetTickSummary(context.Context) (*model.TickSummary, error) {
	return m.summary, nil
}

func (m *mockQuoteReader) GetHiddenProductTypes(_ context.Context, userID string) (map[model.ProductType]bool, error) {
	return m.hidden[userID], nil
}

// ─── Mock lock service ────────────────────────────────────────────────────────

type mockLockService struct {
	lockFn    func(ctx context.Context, userID, productID string, side model.Side, forceNew bool) (*model.LockedQuotePayload, error)
	getFn     func(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error)
	consumeFn func(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error)
}

func (m *mockLockService) LockQuote(ctx context.Context, userID, productID string, side model.Side, forceNew bool) (*model.LockedQuotePayload, error) {
	if m.lockFn != nil {
		return m.lockFn(ctx, userID, productID, side, forceNew)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockLockService) GetLockForUser(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, quoteID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockLockService) ConsumeLock(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error) {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, userID, quoteID)
	}
	return nil, fmt.Errorf("not implemented")
}

// ─── Test app helpers ─────────────────────────────────────────────────────────

func newTestApp(store QuoteReader, locks LockService) *fiber.App {
	app := fiber.New()
	handler := NewHandler(zap.NewNop(), store, locks, stream.NewHub(zap.NewNop()))
	v1 := app.Group("/api/v1")
	v1.Get("/quotes", handler.ListQuotes)
	v1.Get("/quotes/:productId", handler.GetQuote)
	v1.Post("/quotes/:productId/lock", handler.LockQuote)
	v1.Get("/locks/:quoteId", handler.GetLock)
	v1.Post("/locks/:quoteId/consume", handler.ConsumeLock)
	v1.Get("/ingest/summary", handler.GetTickSummary)
	return app
}

func seedQuote(productID string, productType model.ProductType) *model.ResolvedQuote {
	buy := decimal.RequireFromString("100")
	sell := decimal.RequireFromString("102")
	now := time.Now().UTC()
	q := model.NewPricedQuote(
		model.Product{ID: productID, Code: productID, ProductType: productType},
		model.StatusOK,
		&buy, &sell, &buy, &sell,
		model.QuoteSource{Type: model.SourceProvider, ProviderKey: "STUB"},
		now, now)
	return &q
}

func testLock(quoteID, userID string) *model.LockedQuotePayload {
	px := decimal.RequireFromString("101.5")
	now := time.Now().UTC()
	return &model.LockedQuotePayload{
		QuoteID:         quoteID,
		UserID:          userID,
		ProductID:       "prod-1",
		Side:            model.SideBuy,
		ExecutablePrice: px,
		CreatedAt:       now,
		ExpiresAt:       now.Add(30 * time.Second),
		Nonce:           "nonce-1",
	}
}

func decodeError(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload.Error
}

// ─── ListQuotes ───────────────────────────────────────────────────────────────

func TestListQuotes_ReturnsCachedQuotes(t *testing.T) {
	store := &mockQuoteReader{
		index: []string{"a", "b"},
		quotes: map[string]*model.ResolvedQuote{
			"a": seedQuote("a", model.ProductTypeGold),
			"b": seedQuote("b", model.ProductTypeCoin),
		},
	}
	app := newTestApp(store, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/quotes", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out QuotesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Quotes, 2)
}

func TestListQuotes_FiltersHiddenTypesForUser(t *testing.T) {
	store := &mockQuoteReader{
		index: []string{"a", "b"},
		quotes: map[string]*model.ResolvedQuote{
			"a": seedQuote("a", model.ProductTypeGold),
			"b": seedQuote("b", model.ProductTypeCoin),
		},
		hidden: map[string]map[model.ProductType]bool{
			"user-1": {model.ProductTypeCoin: true},
		},
	}
	app := newTestApp(store, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/quotes", "user-1", ""))
	require.NoError(t, err)

	var out QuotesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Quotes, 1)
	assert.Equal(t, "a", out.Quotes[0].ProductID)
}

func TestListQuotes_SkipsMissingEntries(t *testing.T) {
	store := &mockQuoteReader{
		index:  []string{"a", "gone"},
		quotes: map[string]*model.ResolvedQuote{"a": seedQuote("a", model.ProductTypeGold)},
	}
	app := newTestApp(store, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/quotes", "", ""))
	require.NoError(t, err)

	var out QuotesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Quotes, 1)
}

// ─── GetQuote ─────────────────────────────────────────────────────────────────

func TestGetQuote_Success(t *testing.T) {
	store := &mockQuoteReader{quotes: map[string]*model.ResolvedQuote{"a": seedQuote("a", model.ProductTypeGold)}}
	app := newTestApp(store, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/quotes/a", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out model.ResolvedQuote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "a", out.ProductID)
}

func TestGetQuote_UnknownIs404(t *testing.T) {
	app := newTestApp(&mockQuoteReader{}, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/quotes/nope", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, quotelock.CodeProductNotFound, decodeError(t, resp)["code"])
}

func TestGetQuote_HiddenLooksLikeMissing(t *testing.T) {
	store := &mockQuoteReader{
		quotes: map[string]*model.ResolvedQuote{"a": seedQuote("a", model.ProductTypeGold)},
		hidden: map[string]map[model.ProductType]bool{
			"user-1": {model.ProductTypeGold: true},
		},
	}
	app := newTestApp(store, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/quotes/a", "user-1", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── LockQuote ────────────────────────────────────────────────────────────────

func TestLockQuote_RequiresUserHeader(t *testing.T) {
	app := newTestApp(&mockQuoteReader{}, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodPost, "/api/v1/quotes/a/lock", "", `{"side":"BUY"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLockQuote_RejectsBadSide(t *testing.T) {
	app := newTestApp(&mockQuoteReader{}, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodPost, "/api/v1/quotes/a/lock", "user-1", `{"side":"HOLD"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLockQuote_Success(t *testing.T) {
	locks := &mockLockService{
		lockFn: func(_ context.Context, userID, productID string, side model.Side, forceNew bool) (*model.LockedQuotePayload, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, "prod-1", productID)
			assert.Equal(t, model.SideBuy, side)
			assert.True(t, forceNew)
			return testLock("q-1", userID), nil
		},
	}
	app := newTestApp(&mockQuoteReader{}, locks)

	resp, err := app.Test(httptestRequest(http.MethodPost, "/api/v1/quotes/prod-1/lock", "user-1",
		`{"side":"buy","force_new":true}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out LockResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Lock)
	assert.Equal(t, "q-1", out.Lock.QuoteID)
}

func TestLockQuote_TypedErrorMapping(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{quotelock.CodeProductNotFound, http.StatusNotFound},
		{quotelock.CodeProductHidden, http.StatusForbidden},
		{quotelock.CodeNoExecutableQuote, http.StatusConflict},
		{quotelock.CodeQuoteStale, http.StatusConflict},
		{quotelock.CodeStoreUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			locks := &mockLockService{
				lockFn: func(context.Context, string, string, model.Side, bool) (*model.LockedQuotePayload, error) {
					return nil, &quotelock.Error{Code: tc.code, Message: "nope"}
				},
			}
			app := newTestApp(&mockQuoteReader{}, locks)

			resp, err := app.Test(httptestRequest(http.MethodPost, "/api/v1/quotes/a/lock", "user-1", `{"side":"BUY"}`))
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, tc.code, decodeError(t, resp)["code"])
		})
	}
}

// ─── GetLock / ConsumeLock ────────────────────────────────────────────────────

func TestGetLock_ReturnsLiveLock(t *testing.T) {
	locks := &mockLockService{
		getFn: func(_ context.Context, userID, quoteID string) (*model.LockedQuotePayload, error) {
			return testLock(quoteID, userID), nil
		},
	}
	app := newTestApp(&mockQuoteReader{}, locks)

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/locks/q-1", "user-1", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out LockResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "q-1", out.Lock.QuoteID)
}

func TestConsumeLock_Success(t *testing.T) {
	locks := &mockLockService{
		consumeFn: func(_ context.Context, userID, quoteID string) (*model.LockedQuotePayload, error) {
			return testLock(quoteID, userID), nil
		},
	}
	app := newTestApp(&mockQuoteReader{}, locks)

	resp, err := app.Test(httptestRequest(http.MethodPost, "/api/v1/locks/q-1/consume", "user-1", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConsumeLock_AlreadyUsedIs409(t *testing.T) {
	locks := &mockLockService{
		consumeFn: func(context.Context, string, string) (*model.LockedQuotePayload, error) {
			return nil, &quotelock.Error{Code: quotelock.CodeLockAlreadyUsed, Message: "used"}
		},
	}
	app := newTestApp(&mockQuoteReader{}, locks)

	resp, err := app.Test(httptestRequest(http.MethodPost, "/api/v1/locks/q-1/consume", "user-1", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, quotelock.CodeLockAlreadyUsed, decodeError(t, resp)["code"])
}

// ─── Tick summary ─────────────────────────────────────────────────────────────

func TestGetTickSummary(t *testing.T) {
	store := &mockQuoteReader{summary: &model.TickSummary{OK: 3, Stale: 1}}
	app := newTestApp(store, &mockLockService{})

	resp, err := app.Test(httptestRequest(http.MethodGet, "/api/v1/ingest/summary", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out model.TickSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 3, out.OK)

	resp, err = newTestApp(&mockQuoteReader{}, &mockLockService{}).
		Test(httptestRequest(http.MethodGet, "/api/v1/ingest/summary", "", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func httptestRequest(method, path, userID, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = newRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = newRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	return req
}

func newRequest(method, path string, body io.Reader) *http.Request {
	req, _ := http.NewRequest(method, path, body)
	return req
}
