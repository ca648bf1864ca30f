package provider

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// StubPrice is a fixed buy/sell pair served by the stub provider.
type StubPrice struct {
	Buy  decimal.Decimal
	Sell decimal.Decimal
	AsOf time.Time
}

// StubProvider serves configurable fixed prices keyed by provider symbol.
// Used in tests and local development.
type StubProvider struct {
	mu     sync.RWMutex
	prices map[string]StubPrice
	now    func() time.Time
}

func NewStub() *StubProvider {
	return &StubProvider{
		prices: make(map[string]StubPrice),
		now:    time.Now,
	}
}

func (*StubProvider) Key() string        { return "STUB" }
func (*StubProvider) SupportsBulk() bool { return true }

// SetPrice installs or replaces the price for a symbol. A zero AsOf is
// stamped at fetch time.
func (s *StubProvider) SetPrice(symbol string, price StubPrice) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// RemovePrice drops a symbol so subsequent fetches see no data.
func (s *StubProvider) RemovePrice(symbol string) {
	s.mu.Lock()
	delete(s.prices, symbol)
	s.mu.Unlock()
}

func (s *StubProvider) FetchOne(_ context.Context, mapping model.ProviderMapping, _ model.Product) (*model.ProviderQuote, error) {
	s.mu.RLock()
	price, ok := s.prices[mapping.Symbol]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	asOf := price.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	buy := price.Buy
	sell := price.Sell
	return &model.ProviderQuote{
		ProductID:   mapping.ProductID,
		ProviderKey: s.Key(),
		Symbol:      mapping.Symbol,
		AsOf:        asOf,
		Buy:         &buy,
		Sell:        &sell,
	}, nil
}

// FetchMany serves every mapping that has a configured price.
func (s *StubProvider) FetchMany(ctx context.Context, mappings []model.ProviderMapping, _ map[string]model.Product) ([]model.ProviderQuote, error) {
	var out []model.ProviderQuote
	for _, m := range mappings {
		q, err := s.FetchOne(ctx, m, model.Product{})
		if err != nil {
			return nil, err
		}
		if q != nil {
			out = append(out, *q)
		}
	}
	return out, nil
}
