package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LockedQuotePayload binds a user to an executable price for a short window.
// The payload is immutable after creation; only its consumption state, tracked
// out-of-band in the store, ever changes.
type LockedQuotePayload struct {
	QuoteID         string           `json:"quote_id"`
	UserID          string           `json:"user_id"`
	ProductID       string           `json:"product_id"`
	Side            Side             `json:"side"`
	UnitType        string           `json:"unit_type"`
	BaseAssetID     string           `json:"base_asset_id"`
	BaseAssetCode   string           `json:"base_asset_code"`
	BaseBuy         *decimal.Decimal `json:"base_buy,omitempty"`
	BaseSell        *decimal.Decimal `json:"base_sell,omitempty"`
	DisplayBuy      *decimal.Decimal `json:"display_buy,omitempty"`
	DisplaySell     *decimal.Decimal `json:"display_sell,omitempty"`
	ExecutablePrice decimal.Decimal  `json:"executable_price"`
	Source          QuoteSource      `json:"source"`
	AsOf            time.Time        `json:"as_of"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
	Nonce           string           `json:"nonce"`
}
