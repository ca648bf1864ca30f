package api

import (
	"fmt"
	"strings"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// LockRequest is the body of POST /api/v1/quotes/:productId/lock.
type LockRequest struct {
	Side     string `json:"side"`
	ForceNew bool   `json:"force_new"`
}

// Validate normalizes and checks the request, returning the parsed side.
func (r *LockRequest) Validate() (model.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(r.Side)) {
	case "BUY":
		return model.SideBuy, nil
	case "SELL":
		return model.SideSell, nil
	case "":
		return "", fmt.Errorf("side is required")
	default:
		return "", fmt.Errorf("side must be BUY or SELL")
	}
}

// LockResponse wraps a minted or reused lock.
type LockResponse struct {
	Lock *model.LockedQuotePayload `json:"lock"`
}

// QuotesResponse is the bulk quote listing.
type QuotesResponse struct {
	Quotes []model.ResolvedQuote `json:"quotes"`
}
