package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/metrics"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// tickSummaryTTL keeps the last-tick record around long enough to debug an
// engine that stopped ticking.
const tickSummaryTTL = 24 * time.Hour

// Catalog is the read-only configuration store slice the scheduler needs.
type Catalog interface {
	ListActiveProducts(ctx context.Context) ([]model.Product, error)
	ListEnabledMappings(ctx context.Context) (map[string][]model.ProviderMapping, error)
	ListEffectiveOverrides(ctx context.Context, at time.Time) (map[string]model.AdminOverride, error)
}

// QuoteCache is the cache/lock store slice the scheduler writes through.
type QuoteCache interface {
	AcquireIngestLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	SetQuote(ctx context.Context, quote model.ResolvedQuote, ttl time.Duration) error
	RefreshActiveIndex(ctx context.Context, productIDs []string, ttl time.Duration) error
	SaveTickSummary(ctx context.Context, summary model.TickSummary, ttl time.Duration) error
}

// UpdatePublisher broadcasts per-product update events.
type UpdatePublisher interface {
	PublishQuoteUpdate(ctx context.Context, update model.QuoteUpdate) error
}

// QuoteResolver computes the canonical quote for one product.
type QuoteResolver interface {
	Resolve(ctx context.Context, product model.Product, orderedMappings []model.ProviderMapping, override *model.AdminOverride) model.ResolvedQuote
}

// Config holds the scheduler's timing knobs.
type Config struct {
	PollInterval time.Duration
	LockName     string
	LockTTL      time.Duration // just under PollInterval; never renewed mid-tick
	CacheTTL     time.Duration // must be >= PollInterval
}

// Scheduler drives periodic price ingestion: one single-flight tick per
// interval within a process, coordinated across instances only through the
// store-backed acquire-if-absent lock.
type Scheduler struct {
	logger    *zap.Logger
	cfg       Config
	catalog   Catalog
	cache     QuoteCache
	resolver  QuoteResolver
	publisher UpdatePublisher
	holder    string
	stopCh    chan struct{}
}

// New constructs a scheduler. holder identifies this instance in the
// ingestion lock value (useful when debugging contention).
func New(logger *zap.Logger, cfg Config, catalog Catalog, cache QuoteCache, resolver QuoteResolver, publisher UpdatePublisher, holder string) *Scheduler {
	return &Scheduler{
		logger:    logger,
		cfg:       cfg,
		catalog:   catalog,
		cache:     cache,
		resolver:  resolver,
		publisher: publisher,
		holder:    holder,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the tick loop until the context is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("ingest.scheduler_started",
		zap.Duration("interval", s.cfg.PollInterval),
		zap.Duration("lock_ttl", s.cfg.LockTTL))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Immediate first tick so a fresh deployment serves prices without
	// waiting a full interval.
	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("ingest.scheduler_stopped (context canceled)")
			return
		case <-s.stopCh:
			s.logger.Info("ingest.scheduler_stopped (manual stop)")
			return
		}
	}
}

// Stop signals the scheduler to stop gracefully.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// runOnce executes one ingestion tick. Ingestion is best-effort: a store
// outage degrades to a logged no-op tick and the next interval retries.
func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()

	acquired, err := s.cache.AcquireIngestLock(ctx, s.cfg.LockName, s.holder, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("ingest.lock_unavailable", zap.Error(err))
		metrics.IncTick("degraded")
		return
	}
	if !acquired {
		s.logger.Debug("ingest.tick_skipped", zap.String("lock", s.cfg.LockName))
		metrics.IncTick("skipped")
		return
	}

	products, err := s.catalog.ListActiveProducts(ctx)
	if err != nil {
		s.logger.Warn("ingest.load_products_failed", zap.Error(err))
		metrics.IncTick("degraded")
		return
	}
	mappings, err := s.catalog.ListEnabledMappings(ctx)
	if err != nil {
		s.logger.Warn("ingest.load_mappings_failed", zap.Error(err))
		metrics.IncTick("degraded")
		return
	}
	overrides, err := s.catalog.ListEffectiveOverrides(ctx, start.UTC())
	if err != nil {
		s.logger.Warn("ingest.load_overrides_failed", zap.Error(err))
		metrics.IncTick("degraded")
		return
	}

	summary := model.TickSummary{Timestamp: start.UTC()}
	productIDs := make([]string, 0, len(products))

	for _, product := range products {
		productIDs = append(productIDs, product.ID)

		var override *model.AdminOverride
		if o, ok := overrides[product.ID]; ok {
			override = &o
		}

		quote := s.resolver.Resolve(ctx, product, mappings[product.ID], override)

		// One product failing to cache must not abort the rest.
		if err := s.cache.SetQuote(ctx, quote, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("ingest.cache_write_failed",
				zap.String("product_id", product.ID),
				zap.Error(err))
			summary.Failed++
			continue
		}

		if s.publisher != nil {
			update := model.QuoteUpdate{ProductID: product.ID, AsOf: quote.AsOf, Status: quote.Status}
			if err := s.publisher.PublishQuoteUpdate(ctx, update); err != nil {
				s.logger.Debug("ingest.publish_failed",
					zap.String("product_id", product.ID),
					zap.Error(err))
			}
		}

		switch quote.Status {
		case model.StatusOK:
			summary.OK++
		case model.StatusStale:
			summary.Stale++
		case model.StatusNoPrice:
			summary.NoPrice++
		}
		metrics.IncResolved(string(quote.Status))
	}

	if err := s.cache.RefreshActiveIndex(ctx, productIDs, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("ingest.index_refresh_failed", zap.Error(err))
	}

	summary.Duration = time.Since(start).Milliseconds()
	if err := s.cache.SaveTickSummary(ctx, summary, tickSummaryTTL); err != nil {
		s.logger.Warn("ingest.summary_write_failed", zap.Error(err))
	}

	metrics.IncTick("run")
	metrics.SetLastTick("ingest", time.Now())

	s.logger.Info("ingest.tick_complete",
		zap.Int("products", len(products)),
		zap.Int("ok", summary.OK),
		zap.Int("stale", summary.Stale),
		zap.Int("no_price", summary.NoPrice),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", time.Since(start)))
}
