package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// InsertLockAudit appends one durable row per minted lock. Rows are
// insert-only; only consumption stamps them later (see MarkLockConsumed).
func (s *HybridStore) InsertLockAudit(ctx context.Context, payload model.LockedQuotePayload) error {
	if s.pg == nil {
		return fmt.Errorf("postgres unavailable")
	}
	_, err := s.pg.Exec(ctx, `
		INSERT INTO pricing.quote_lock_audit (
			quote_id, user_id, product_id, side,
			base_buy, base_sell, display_buy, display_sell,
			executable_price, source_type, source_key,
			as_of, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`,
		payload.QuoteID, payload.UserID, payload.ProductID, string(payload.Side),
		payload.BaseBuy, payload.BaseSell, payload.DisplayBuy, payload.DisplaySell,
		payload.ExecutablePrice, string(payload.Source.Type), sourceKey(payload.Source),
		payload.AsOf, payload.CreatedAt, payload.ExpiresAt,
	)
	if err != nil {
		s.logger.Error("store.pg.lock_audit_insert_failed",
			zap.String("quote_id", payload.QuoteID),
			zap.Error(err))
	}
	return err
}

// MarkLockConsumed stamps completion time and the resulting trade id on the
// audit row(s) for a quote id. Idempotent: a second call with the same trade
// id matches zero un-stamped rows and is a no-op.
func (s *HybridStore) MarkLockConsumed(ctx context.Context, quoteID, tradeID string) error {
	if s.pg == nil {
		return fmt.Errorf("postgres unavailable")
	}
	tag, err := s.pg.Exec(ctx, `
		UPDATE pricing.quote_lock_audit
		SET consumed_at = NOW(), trade_id = $2
		WHERE quote_id = $1 AND consumed_at IS NULL;
	`, quoteID, tradeID)
	if err != nil {
		s.logger.Error("store.pg.lock_audit_stamp_failed",
			zap.String("quote_id", quoteID),
			zap.String("trade_id", tradeID),
			zap.Error(err))
		return err
	}

	s.logger.Info("store.pg.lock_audit_stamped",
		zap.String("quote_id", quoteID),
		zap.String("trade_id", tradeID),
		zap.Int64("rows", tag.RowsAffected()))
	return nil
}

func sourceKey(src model.QuoteSource) string {
	if src.Type == model.SourceProvider {
		return src.ProviderKey
	}
	return src.OverrideID
}
