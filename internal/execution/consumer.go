package execution

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/metrics"
)

const bookedTradesQueue = "outbound.trades.booked"

// TradeBooked is emitted by the execution system after a locked quote turns
// into a booked trade.
type TradeBooked struct {
	QuoteID string `json:"quote_id"`
	TradeID string `json:"trade_id"`
}

// AuditMarker stamps the durable audit row for a consumed lock.
type AuditMarker interface {
	MarkConsumed(ctx context.Context, quoteID, tradeID string) error
}

// Consumer listens for booked-trade confirmations from the execution system
// and reconciles them into the lock audit trail.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	marker  AuditMarker
	logger  *zap.Logger
	done    chan struct{}
}

// NewConsumer connects to RabbitMQ and opens a channel.
func NewConsumer(url string, marker AuditMarker, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		marker:  marker,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start declares the queue and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	if _, err := c.channel.QueueDeclare(bookedTradesQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", bookedTradesQueue, err)
	}

	msgs, err := c.channel.Consume(bookedTradesQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", bookedTradesQueue, err)
	}

	c.logger.Info("Started consuming from RabbitMQ",
		zap.String("queue", bookedTradesQueue))

	go c.consumeBookedTrades(ctx, msgs)
	return nil
}

func (c *Consumer) consumeBookedTrades(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Booked trades channel closed")
				return
			}

			c.logger.Debug("Received booked trade message", zap.String("body", string(msg.Body)))

			var evt TradeBooked
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				c.logger.Error("Failed to unmarshal TradeBooked", zap.Error(err))
				metrics.IncError("execution", "unmarshal_failed")
				msg.Nack(false, false)
				continue
			}
			if evt.QuoteID == "" || evt.TradeID == "" {
				c.logger.Warn("Dropping incomplete TradeBooked message",
					zap.String("quote_id", evt.QuoteID),
					zap.String("trade_id", evt.TradeID))
				msg.Nack(false, false)
				continue
			}

			if err := c.marker.MarkConsumed(ctx, evt.QuoteID, evt.TradeID); err != nil {
				c.logger.Error("Failed to stamp lock audit",
					zap.String("quote_id", evt.QuoteID),
					zap.Error(err))
				msg.Nack(false, true) // Requeue on failure
				continue
			}

			metrics.IncLockOp("mark_consumed", "ok")
			msg.Ack(false)
		}
	}
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	close(c.done)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
