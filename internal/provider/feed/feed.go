package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// tick is one upstream price message. Prices arrive as strings.
type tick struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	TS     string `json:"ts"` // RFC 3339
}

type lastTick struct {
	buy  decimal.Decimal
	sell decimal.Decimal
	asOf time.Time
}

// Feed is a streaming price source over a WebSocket market-data feed.
// A background goroutine maintains a last-tick table; FetchOne serves from
// that table and never blocks on the network. Staleness of old ticks is the
// resolver's concern, not the feed's.
type Feed struct {
	key    string
	url    string
	apiKey string
	logger *zap.Logger
	dialer *websocket.Dialer

	mu    sync.RWMutex
	ticks map[string]lastTick

	stopCh chan struct{}
	once   sync.Once
}

// New constructs a WebSocket feed provider registered under key.
func New(key, wsURL, apiKey string, logger *zap.Logger) *Feed {
	return &Feed{
		key:    key,
		url:    wsURL,
		apiKey: apiKey,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ticks:  make(map[string]lastTick),
		stopCh: make(chan struct{}),
	}
}

func (f *Feed) Key() string        { return f.key }
func (f *Feed) SupportsBulk() bool { return true }

// Start runs the connect/read loop until the context is canceled or Stop is
// called. Reconnects with a flat backoff on any failure.
func (f *Feed) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		if err := f.runOnce(ctx); err != nil {
			f.logger.Warn(f.key+".feed_disconnected", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// Stop terminates the read loop.
func (f *Feed) Stop() {
	f.once.Do(func() { close(f.stopCh) })
}

func (f *Feed) runOnce(ctx context.Context) error {
	header := http.Header{}
	if f.apiKey != "" {
		header.Set("X-Api-Key", f.apiKey)
	}

	conn, _, err := f.dialer.DialContext(ctx, f.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.logger.Info(f.key+".feed_connected", zap.String("url", f.url))

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-f.stopCh:
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

func (f *Feed) handleMessage(data []byte) {
	var t tick
	if err := json.Unmarshal(data, &t); err != nil {
		f.logger.Debug(f.key+".feed_bad_message", zap.Error(err))
		return
	}
	if t.Symbol == "" {
		return
	}

	buy, err := decimal.NewFromString(t.Bid)
	if err != nil {
		return
	}
	sell, err := decimal.NewFromString(t.Ask)
	if err != nil {
		return
	}

	asOf, err := time.Parse(time.RFC3339, t.TS)
	if err != nil {
		asOf = time.Now().UTC()
	}

	f.mu.Lock()
	f.ticks[t.Symbol] = lastTick{buy: buy, sell: sell, asOf: asOf}
	f.mu.Unlock()
}

// FetchOne serves the last observed tick for the mapping's symbol, or no data
// when the feed has not seen that symbol yet.
func (f *Feed) FetchOne(_ context.Context, mapping model.ProviderMapping, _ model.Product) (*model.ProviderQuote, error) {
	f.mu.RLock()
	t, ok := f.ticks[mapping.Symbol]
	f.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	buy := t.buy
	sell := t.sell
	return &model.ProviderQuote{
		ProductID:   mapping.ProductID,
		ProviderKey: f.key,
		Symbol:      mapping.Symbol,
		AsOf:        t.asOf,
		Buy:         &buy,
		Sell:        &sell,
	}, nil
}

// FetchMany serves every mapping with a known tick from the table.
func (f *Feed) FetchMany(ctx context.Context, mappings []model.ProviderMapping, _ map[string]model.Product) ([]model.ProviderQuote, error) {
	var out []model.ProviderQuote
	for _, m := range mappings {
		q, err := f.FetchOne(ctx, m, model.Product{})
		if err != nil {
			return nil, err
		}
		if q != nil {
			out = append(out, *q)
		}
	}
	return out, nil
}
