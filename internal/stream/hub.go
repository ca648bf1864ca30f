package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/metrics"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// subscriberBuffer bounds how far a slow reader may lag before it starts
// missing updates.
const subscriberBuffer = 16

// Hub fans quote updates out to streaming API subscribers. Delivery is
// at-most-once: a subscriber with a full buffer misses the update and
// catches up from the cache on its next read.
type Hub struct {
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[int]chan model.QuoteUpdate
	nextID int
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[int]chan model.QuoteUpdate),
	}
}

// Subscribe registers a new reader and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (h *Hub) Subscribe() (<-chan model.QuoteUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan model.QuoteUpdate, subscriberBuffer)
	h.subs[id] = ch
	metrics.StreamSubscribers.Set(float64(len(h.subs)))

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
			metrics.StreamSubscribers.Set(float64(len(h.subs)))
		})
	}
	return ch, unsubscribe
}

// Broadcast delivers an update to every subscriber without blocking.
func (h *Hub) Broadcast(update model.QuoteUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- update:
		default:
			// Slow reader; drop rather than stall the fan-out.
		}
	}
}

// Run bridges the broadcast subject into the hub until the context ends.
func (h *Hub) Run(ctx context.Context, nc *nats.Conn, subject string) error {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var update model.QuoteUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			h.logger.Warn("stream.bad_update_message", zap.Error(err))
			metrics.IncError("stream", "unmarshal_failed")
			return
		}
		h.Broadcast(update)
	})
	if err != nil {
		return err
	}

	h.logger.Info("stream.hub_started", zap.String("subject", subject))
	<-ctx.Done()
	return sub.Unsubscribe()
}
