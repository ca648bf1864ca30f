package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// Catalog reads. All of these tables are owned by external admin tooling;
// this core never writes them.

func (s *HybridStore) ListActiveProducts(ctx context.Context) ([]model.Product, error) {
	if s.pg == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.pg.Query(ctx, `
		SELECT id, code, display_name, product_type, trade_type, unit_type,
		       base_asset_id, base_asset_code, is_active,
		       COALESCE(group_key, ''), COALESCE(sort_order, 0)
		FROM reference.products
		WHERE is_active = TRUE
		ORDER BY group_key, sort_order, code;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.DisplayName, &p.ProductType,
			&p.TradeType, &p.UnitType, &p.BaseAssetID, &p.BaseAssetCode,
			&p.IsActive, &p.GroupKey, &p.SortOrder); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *HybridStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	if s.pg == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	row := s.pg.QueryRow(ctx, `
		SELECT id, code, display_name, product_type, trade_type, unit_type,
		       base_asset_id, base_asset_code, is_active,
		       COALESCE(group_key, ''), COALESCE(sort_order, 0)
		FROM reference.products
		WHERE id = $1;
	`, productID)

	var p model.Product
	if err := row.Scan(&p.ID, &p.Code, &p.DisplayName, &p.ProductType,
		&p.TradeType, &p.UnitType, &p.BaseAssetID, &p.BaseAssetCode,
		&p.IsActive, &p.GroupKey, &p.SortOrder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetProduct scan failed: %w", err)
	}
	return &p, nil
}

// ListEnabledMappings returns enabled provider mappings grouped by product,
// already ordered by ascending priority (ties broken by insertion order).
func (s *HybridStore) ListEnabledMappings(ctx context.Context) (map[string][]model.ProviderMapping, error) {
	if s.pg == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.pg.Query(ctx, `
		SELECT id, product_id, provider_key, symbol, priority, enabled
		FROM reference.provider_mappings
		WHERE enabled = TRUE
		ORDER BY product_id, priority, id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.ProviderMapping)
	for rows.Next() {
		var m model.ProviderMapping
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ProviderKey, &m.Symbol, &m.Priority, &m.Enabled); err != nil {
			return nil, err
		}
		out[m.ProductID] = append(out[m.ProductID], m)
	}
	return out, rows.Err()
}

// ListEffectiveOverrides returns the currently effective override per
// product. When multiple rows qualify, the most recently updated wins, then
// the most recently created. Expiry and revocation are re-checked lazily at
// resolution time; this query is only the candidate selection.
func (s *HybridStore) ListEffectiveOverrides(ctx context.Context, at time.Time) (map[string]model.AdminOverride, error) {
	if s.pg == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.pg.Query(ctx, `
		SELECT id, product_id, buy, sell, starts_at, expires_at,
		       is_active, revoked_at, updated_at, created_at
		FROM pricing.price_overrides
		WHERE is_active = TRUE
		  AND expires_at > $1
		  AND (revoked_at IS NULL OR revoked_at > $1)
		ORDER BY product_id, updated_at DESC, created_at DESC;
	`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.AdminOverride)
	for rows.Next() {
		var o model.AdminOverride
		if err := rows.Scan(&o.ID, &o.ProductID, &o.Buy, &o.Sell, &o.StartsAt,
			&o.ExpiresAt, &o.IsActive, &o.RevokedAt, &o.UpdatedAt, &o.CreatedAt); err != nil {
			return nil, err
		}
		// First row per product wins under the ORDER BY above.
		if _, ok := out[o.ProductID]; !ok {
			out[o.ProductID] = o
		}
	}
	return out, rows.Err()
}

// GetHiddenProductTypes returns the product types hidden from a user by their
// visibility settings.
func (s *HybridStore) GetHiddenProductTypes(ctx context.Context, userID string) (map[model.ProductType]bool, error) {
	if s.pg == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.pg.Query(ctx, `
		SELECT product_type
		FROM reference.user_hidden_product_types
		WHERE user_id = $1;
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hidden := make(map[model.ProductType]bool)
	for rows.Next() {
		var pt model.ProductType
		if err := rows.Scan(&pt); err != nil {
			return nil, err
		}
		hidden[pt] = true
	}
	return hidden, rows.Err()
}
