package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductType classifies tradable products for spread configuration.
type ProductType string

const (
	ProductTypeGold ProductType = "GOLD"
	ProductTypeCoin ProductType = "COIN"
	ProductTypeCash ProductType = "CASH"
)

// Side is the direction a client trades against a quote.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// QuoteStatus describes the freshness of a resolved quote.
type QuoteStatus string

const (
	StatusOK      QuoteStatus = "OK"
	StatusStale   QuoteStatus = "STALE"
	StatusNoPrice QuoteStatus = "NO_PRICE"
)

// SourceType identifies where a resolved price came from.
type SourceType string

const (
	SourceOverride SourceType = "OVERRIDE"
	SourceProvider SourceType = "PROVIDER"
)

// Product is reference data owned by external admin tooling; read-only here.
type Product struct {
	ID            string      `json:"id"`
	Code          string      `json:"code"`
	DisplayName   string      `json:"display_name"`
	ProductType   ProductType `json:"product_type"`
	TradeType     string      `json:"trade_type"`
	UnitType      string      `json:"unit_type"`
	BaseAssetID   string      `json:"base_asset_id"`
	BaseAssetCode string      `json:"base_asset_code"`
	IsActive      bool        `json:"is_active"`
	GroupKey      string      `json:"group_key,omitempty"`
	SortOrder     int         `json:"sort_order,omitempty"`
}

// ProviderMapping links a product to a provider-specific symbol.
// Mappings for a product form a total order by Priority (lower first).
type ProviderMapping struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProviderKey string `json:"provider_key"`
	Symbol      string `json:"symbol"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

// AdminOverride pins absolute buy/sell values for a product inside an
// activation window. Expiry and revocation are evaluated lazily on read.
type AdminOverride struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	Buy       *decimal.Decimal `json:"buy,omitempty"`
	Sell      *decimal.Decimal `json:"sell,omitempty"`
	StartsAt  time.Time        `json:"starts_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	IsActive  bool             `json:"is_active"`
	RevokedAt *time.Time       `json:"revoked_at,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// EffectiveAt reports whether the override governs pricing at time t.
func (o *AdminOverride) EffectiveAt(t time.Time) bool {
	if o == nil || !o.IsActive {
		return false
	}
	if !t.Before(o.ExpiresAt) {
		return false
	}
	if o.RevokedAt != nil && !o.RevokedAt.After(t) {
		return false
	}
	return true
}

// ProviderQuote is the ephemeral raw price a provider capability produced.
type ProviderQuote struct {
	ProductID   string           `json:"product_id"`
	ProviderKey string           `json:"provider_key"`
	Symbol      string           `json:"symbol"`
	AsOf        time.Time        `json:"as_of"`
	Buy         *decimal.Decimal `json:"buy,omitempty"`
	Sell        *decimal.Decimal `json:"sell,omitempty"`
}

// Valid reports whether the quote is usable: both sides present, non-negative.
// Invalid quotes are discarded, never surfaced as errors.
func (q *ProviderQuote) Valid() bool {
	if q == nil || q.Buy == nil || q.Sell == nil {
		return false
	}
	return !q.Buy.IsNegative() && !q.Sell.IsNegative()
}

// QuoteSource records the provenance of a resolved quote.
type QuoteSource struct {
	Type        SourceType `json:"type"`
	ProviderKey string     `json:"provider_key,omitempty"`
	OverrideID  string     `json:"override_id,omitempty"`
}

// ResolvedQuote is the canonical price record for one product, overwritten
// wholesale every ingestion tick (last writer wins). A NO_PRICE quote carries
// no prices and no provenance; use the constructors below to keep that true.
type ResolvedQuote struct {
	ProductID   string           `json:"product_id"`
	Code        string           `json:"code"`
	DisplayName string           `json:"display_name"`
	ProductType ProductType      `json:"product_type"`
	TradeType   string           `json:"trade_type"`
	UnitType    string           `json:"unit_type"`
	Status      QuoteStatus      `json:"status"`
	BaseBuy     *decimal.Decimal `json:"base_buy,omitempty"`
	BaseSell    *decimal.Decimal `json:"base_sell,omitempty"`
	DisplayBuy  *decimal.Decimal `json:"display_buy,omitempty"`
	DisplaySell *decimal.Decimal `json:"display_sell,omitempty"`
	Source      *QuoteSource     `json:"source,omitempty"`
	AsOf        time.Time        `json:"as_of"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewPricedQuote builds an OK or STALE quote. Base and display values come in
// pairs; a side may be absent on both or present on both.
func NewPricedQuote(p Product, status QuoteStatus, baseBuy, baseSell, displayBuy, displaySell *decimal.Decimal, src QuoteSource, asOf, updatedAt time.Time) ResolvedQuote {
	return ResolvedQuote{
		ProductID:   p.ID,
		Code:        p.Code,
		DisplayName: p.DisplayName,
		ProductType: p.ProductType,
		TradeType:   p.TradeType,
		UnitType:    p.UnitType,
		Status:      status,
		BaseBuy:     baseBuy,
		BaseSell:    baseSell,
		DisplayBuy:  displayBuy,
		DisplaySell: displaySell,
		Source:      &src,
		AsOf:        asOf,
		UpdatedAt:   updatedAt,
	}
}

// NewNoPriceQuote builds the NO_PRICE variant: no values, no provenance.
func NewNoPriceQuote(p Product, updatedAt time.Time) ResolvedQuote {
	return ResolvedQuote{
		ProductID:   p.ID,
		Code:        p.Code,
		DisplayName: p.DisplayName,
		ProductType: p.ProductType,
		TradeType:   p.TradeType,
		UnitType:    p.UnitType,
		Status:      StatusNoPrice,
		AsOf:        updatedAt,
		UpdatedAt:   updatedAt,
	}
}

// PriceForSide returns the executable display price for the requested side,
// or nil when that side is absent.
func (q *ResolvedQuote) PriceForSide(side Side) *decimal.Decimal {
	if q == nil {
		return nil
	}
	if side == SideBuy {
		return q.DisplayBuy
	}
	return q.DisplaySell
}

// QuoteUpdate is the broadcast message emitted after each cache write.
type QuoteUpdate struct {
	ProductID string      `json:"product_id"`
	AsOf      time.Time   `json:"as_of"`
	Status    QuoteStatus `json:"status"`
}

// TickSummary is the small observability record persisted after every
// ingestion tick.
type TickSummary struct {
	Timestamp time.Time `json:"timestamp"`
	OK        int       `json:"ok"`
	Stale     int       `json:"stale"`
	NoPrice   int       `json:"no_price"`
	Failed    int       `json:"failed"`
	Duration  int64     `json:"duration_ms"`
}
