package provider

import (
	"context"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// ManualProvider is the no-op capability for products that are priced
// exclusively through admin overrides. It never produces data.
type ManualProvider struct{}

func NewManual() *ManualProvider { return &ManualProvider{} }

func (*ManualProvider) Key() string        { return "MANUAL" }
func (*ManualProvider) SupportsBulk() bool { return false }

func (*ManualProvider) FetchOne(_ context.Context, _ model.ProviderMapping, _ model.Product) (*model.ProviderQuote, error) {
	return nil, nil
}
