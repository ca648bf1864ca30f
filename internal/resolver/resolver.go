package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/metrics"
	"github.com/Checker-Finance/quote-engine/internal/pricing"
	"github.com/Checker-Finance/quote-engine/internal/provider"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// Resolver computes one canonical quote per product from an admin override or
// an ordered list of provider mappings.
type Resolver struct {
	logger      *zap.Logger
	registry    *provider.Registry
	pricer      *pricing.Engine
	staleAfter  time.Duration
	callTimeout time.Duration
	now         func() time.Time
}

// New constructs a resolver. callTimeout bounds every individual provider
// call so one hanging source cannot stall the rest of a tick.
func New(logger *zap.Logger, registry *provider.Registry, pricer *pricing.Engine, staleAfter, callTimeout time.Duration) *Resolver {
	return &Resolver{
		logger:      logger,
		registry:    registry,
		pricer:      pricer,
		staleAfter:  staleAfter,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// Resolve produces the canonical quote for product.
//
// An effective override short-circuits all provider lookup. Otherwise the
// mappings are tried strictly in the given priority order and the first valid
// quote wins; this is deliberately a plain loop with early exit, never a
// fan-out, so priority semantics hold. A product with no usable source
// resolves to NO_PRICE rather than an error.
func (r *Resolver) Resolve(ctx context.Context, product model.Product, orderedMappings []model.ProviderMapping, override *model.AdminOverride) model.ResolvedQuote {
	now := r.now().UTC()

	if override.EffectiveAt(now) {
		displayBuy, displaySell := r.pricer.Apply(product.ProductType, override.Buy, override.Sell)
		return model.NewPricedQuote(product, model.StatusOK,
			override.Buy, override.Sell, displayBuy, displaySell,
			model.QuoteSource{Type: model.SourceOverride, OverrideID: override.ID},
			now, now)
	}

	quote := r.firstValidQuote(ctx, product, orderedMappings)
	if quote == nil {
		return model.NewNoPriceQuote(product, now)
	}

	status := model.StatusOK
	if now.Sub(quote.AsOf) > r.staleAfter {
		status = model.StatusStale
	}

	displayBuy, displaySell := r.pricer.Apply(product.ProductType, quote.Buy, quote.Sell)
	return model.NewPricedQuote(product, status,
		quote.Buy, quote.Sell, displayBuy, displaySell,
		model.QuoteSource{Type: model.SourceProvider, ProviderKey: quote.ProviderKey},
		quote.AsOf, now)
}

// firstValidQuote walks the mappings in priority order and returns the first
// valid provider quote, or nil when no mapping produced one. Unknown
// providers, provider errors, and invalid quotes are all skipped silently
// from the caller's perspective (logged and counted here).
func (r *Resolver) firstValidQuote(ctx context.Context, product model.Product, orderedMappings []model.ProviderMapping) *model.ProviderQuote {
	for _, mapping := range orderedMappings {
		prov, ok := r.registry.Get(mapping.ProviderKey)
		if !ok {
			r.logger.Warn("resolver.provider_missing",
				zap.String("product_id", product.ID),
				zap.String("provider", mapping.ProviderKey))
			continue
		}

		quote, err := r.fetchOne(ctx, prov, mapping, product)
		if err != nil {
			r.logger.Warn("resolver.provider_fetch_failed",
				zap.String("product_id", product.ID),
				zap.String("provider", mapping.ProviderKey),
				zap.String("symbol", mapping.Symbol),
				zap.Error(err))
			metrics.IncProviderFetch(mapping.ProviderKey, "error")
			continue
		}
		if quote == nil {
			metrics.IncProviderFetch(mapping.ProviderKey, "empty")
			continue
		}
		if !quote.Valid() {
			r.logger.Debug("resolver.provider_quote_invalid",
				zap.String("product_id", product.ID),
				zap.String("provider", mapping.ProviderKey),
				zap.String("symbol", mapping.Symbol))
			metrics.IncProviderFetch(mapping.ProviderKey, "invalid")
			continue
		}

		metrics.IncProviderFetch(mapping.ProviderKey, "ok")
		return quote
	}
	return nil
}

func (r *Resolver) fetchOne(ctx context.Context, prov provider.Provider, mapping model.ProviderMapping, product model.Product) (*model.ProviderQuote, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return prov.FetchOne(callCtx, mapping, product)
}
