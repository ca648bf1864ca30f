package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/quote-engine/internal/metrics"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// Publisher wraps a NATS connection for broadcasting quote updates.
// Delivery is fire-and-forget, at-most-once from the subscriber's point of
// view; missed messages are tolerable because readers can always pull the
// latest quote from the cache.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	service string
}

// New creates a new Publisher with JetStream enabled if available.
func New(nc *nats.Conn, subject, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		subject: subject,
		service: service,
	}, nil
}

// PublishQuoteUpdate emits the per-product update event after a cache write.
func (p *Publisher) PublishQuoteUpdate(ctx context.Context, update model.QuoteUpdate) error {
	return p.Publish(ctx, p.subject, update)
}

// Publish publishes a raw JSON payload to a subject.
func (p *Publisher) Publish(_ context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
