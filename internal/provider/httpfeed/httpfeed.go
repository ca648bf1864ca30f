package httpfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/httpclient"
	"github.com/Checker-Finance/quote-engine/internal/metrics"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// Config is the upstream connection configuration, typically resolved from
// AWS Secrets Manager (see resolver.go).
type Config struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// ConfigResolver supplies upstream credentials at call time so rotation does
// not require a restart.
type ConfigResolver interface {
	Resolve(ctx context.Context) (*Config, error)
}

// priceResponse is the upstream wire shape. Prices arrive as strings and are
// parsed into decimals; anything unparsable is treated as no data.
type priceResponse struct {
	Symbol string `json:"symbol"`
	Buy    string `json:"buy"`
	Sell   string `json:"sell"`
	AsOf   string `json:"as_of"` // RFC 3339
}

// Feed is a polling price source over a JSON HTTP API.
type Feed struct {
	key      string
	logger   *zap.Logger
	exec     *httpclient.Executor
	resolver ConfigResolver
}

// New constructs an HTTP feed provider registered under key.
func New(key string, logger *zap.Logger, exec *httpclient.Executor, resolver ConfigResolver) *Feed {
	return &Feed{
		key:      key,
		logger:   logger,
		exec:     exec,
		resolver: resolver,
	}
}

func (f *Feed) Key() string        { return f.key }
func (f *Feed) SupportsBulk() bool { return false }

// FetchOne fetches the current price for the mapping's symbol.
// A 404 from the upstream means the symbol is unknown there; that is expected
// no-data, not an error.
func (f *Feed) FetchOne(ctx context.Context, mapping model.ProviderMapping, _ model.Product) (*model.ProviderQuote, error) {
	cfg, err := f.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve feed config: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/prices/%s", cfg.BaseURL, url.PathEscape(mapping.Symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", cfg.APIKey)

	start := time.Now()
	var resp priceResponse
	err = f.exec.DoJSON(ctx, req, f.key, &resp)
	metrics.ObserveDuration(metrics.ProviderFetchDuration, start, f.key)
	if err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	quote, ok := f.toQuote(mapping, resp)
	if !ok {
		return nil, nil
	}
	return quote, nil
}

func (f *Feed) toQuote(mapping model.ProviderMapping, resp priceResponse) (*model.ProviderQuote, bool) {
	if resp.Buy == "" || resp.Sell == "" {
		return nil, false
	}

	buy, err := decimal.NewFromString(resp.Buy)
	if err != nil {
		f.logger.Debug(f.key+".bad_price",
			zap.String("symbol", mapping.Symbol),
			zap.String("buy", resp.Buy))
		return nil, false
	}
	sell, err := decimal.NewFromString(resp.Sell)
	if err != nil {
		f.logger.Debug(f.key+".bad_price",
			zap.String("symbol", mapping.Symbol),
			zap.String("sell", resp.Sell))
		return nil, false
	}

	asOf, err := time.Parse(time.RFC3339, resp.AsOf)
	if err != nil {
		asOf = time.Now().UTC()
	}

	return &model.ProviderQuote{
		ProductID:   mapping.ProductID,
		ProviderKey: f.key,
		Symbol:      mapping.Symbol,
		AsOf:        asOf,
		Buy:         &buy,
		Sell:        &sell,
	}, true
}
