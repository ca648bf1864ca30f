package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/quote-engine/pkg/config"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// Engine converts base buy/sell prices into display prices by applying a
// per-product-type spread in basis points. It is pure and deterministic; all
// arithmetic stays in decimal space to avoid float drift on monetary values.
type Engine struct {
	spreads config.SpreadTable
	scale   int32
}

// NewEngine builds a pricing engine from an explicit spread table.
// scale is the number of fractional digits kept on display prices.
func NewEngine(spreads config.SpreadTable, scale int32) *Engine {
	return &Engine{spreads: spreads, scale: scale}
}

// Apply computes display prices for whichever sides are present.
// An absent base side yields an absent display side, never zero.
func (e *Engine) Apply(productType model.ProductType, baseBuy, baseSell *decimal.Decimal) (displayBuy, displaySell *decimal.Decimal) {
	buyBps, sellBps := e.bps(productType)

	if baseBuy != nil {
		v := applyBps(*baseBuy, buyBps, e.scale)
		displayBuy = &v
	}
	if baseSell != nil {
		v := applyBps(*baseSell, sellBps, e.scale)
		displaySell = &v
	}
	return displayBuy, displaySell
}

func (e *Engine) bps(productType model.ProductType) (buy, sell int64) {
	switch productType {
	case model.ProductTypeGold:
		return e.spreads.GoldBuyBps, e.spreads.GoldSellBps
	case model.ProductTypeCoin:
		return e.spreads.CoinBuyBps, e.spreads.CoinSellBps
	case model.ProductTypeCash:
		return e.spreads.CashBuyBps, e.spreads.CashSellBps
	default:
		return 0, 0
	}
}

var tenThousand = decimal.NewFromInt(10000)

// applyBps returns base * (1 + bps/10000) rounded to scale.
func applyBps(base decimal.Decimal, bps int64, scale int32) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromInt(bps).Div(tenThousand))
	return base.Mul(factor).Round(scale)
}
