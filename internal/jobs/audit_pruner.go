package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/publisher"
)

// AuditPruner periodically deletes lock audit rows past their retention
// window and emits a NATS event when a sweep completes.
type AuditPruner struct {
	logger    *zap.Logger
	db        DBExecutor // small interface wrapper over pgxpool.Pool
	publisher *publisher.Publisher
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
}

// DBExecutor defines the minimal subset of pgxpool.Pool needed for execution.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewAuditPruner constructs a background job that runs periodically.
func NewAuditPruner(logger *zap.Logger, db DBExecutor, pub *publisher.Publisher, interval, retention time.Duration) *AuditPruner {
	return &AuditPruner{
		logger:    logger,
		db:        db,
		publisher: pub,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the prune loop (typically every 24 h).
func (p *AuditPruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("audit_pruner.started",
		zap.Duration("interval", p.interval),
		zap.Duration("retention", p.retention))

	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-p.stopCh:
			p.logger.Info("audit_pruner.stopped (manual stop)")
			return
		case <-ctx.Done():
			p.logger.Info("audit_pruner.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the pruner.
func (p *AuditPruner) Stop() {
	close(p.stopCh)
}

// runOnce executes one sweep. Rows for locks that never got consumed are
// kept for the same retention window; the expiry timestamp governs both.
func (p *AuditPruner) runOnce(ctx context.Context) {
	start := time.Now()
	cutoff := start.UTC().Add(-p.retention)

	tag, err := p.db.Exec(ctx, `
		DELETE FROM pricing.quote_lock_audit
		WHERE expires_at < $1;
	`, cutoff)
	if err != nil {
		p.logger.Error("audit_pruner.sweep_failed", zap.Error(err))
		return
	}

	// Emit event for downstream analytics systems
	event := map[string]any{
		"event":       "evt.quote.audit.pruned.v1",
		"timestamp":   time.Now().UTC(),
		"rows":        tag.RowsAffected(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err := p.publisher.Publish(ctx, "evt.quote.audit.pruned.v1", event); err != nil {
		p.logger.Warn("audit_pruner.nats_publish_failed", zap.Error(err))
	}

	p.logger.Info("audit_pruner.success",
		zap.Int64("rows", tag.RowsAffected()),
		zap.Duration("duration", time.Since(start)))
}
