package api

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/quotelock"
	"github.com/Checker-Finance/quote-engine/internal/stream"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

const userHeader = "X-User-ID"

// QuoteReader is the store slice the read endpoints use.
type QuoteReader interface {
	GetActiveIndex(ctx context.Context) ([]string, error)
	GetQuote(ctx context.Context, productID string) (*model.ResolvedQuote, error)
	GetQuotes(ctx context.Context, productIDs []string) ([]*model.ResolvedQuote, error)
	GetTickSummary(ctx context.Context) (*model.TickSummary, error)
	GetHiddenProductTypes(ctx context.Context, userID string) (map[model.ProductType]bool, error)
}

// LockService is the lock operations surface the handler fronts.
type LockService interface {
	LockQuote(ctx context.Context, userID, productID string, side model.Side, forceNew bool) (*model.LockedQuotePayload, error)
	GetLockForUser(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error)
	ConsumeLock(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error)
}

// Handler serves the quote and lock API.
type Handler struct {
	logger *zap.Logger
	store  QuoteReader
	locks  LockService
	hub    *stream.Hub
}

func NewHandler(logger *zap.Logger, store QuoteReader, locks LockService, hub *stream.Hub) *Handler {
	return &Handler{
		logger: logger,
		store:  store,
		locks:  locks,
		hub:    hub,
	}
}

// ListQuotes returns the cached quote for every active product, filtered by
// the caller's product-type visibility when a user header is present.
func (h *Handler) ListQuotes(c *fiber.Ctx) error {
	ids, err := h.store.GetActiveIndex(c.Context())
	if err != nil {
		return h.serviceError(c, err)
	}
	if len(ids) == 0 {
		return c.JSON(QuotesResponse{Quotes: []model.ResolvedQuote{}})
	}

	quotes, err := h.store.GetQuotes(c.Context(), ids)
	if err != nil {
		return h.serviceError(c, err)
	}

	hidden := map[model.ProductType]bool{}
	if userID := c.Get(userHeader); userID != "" {
		hidden, err = h.store.GetHiddenProductTypes(c.Context(), userID)
		if err != nil {
			return h.serviceError(c, err)
		}
	}

	out := make([]model.ResolvedQuote, 0, len(quotes))
	for _, q := range quotes {
		if q == nil || hidden[q.ProductType] {
			continue
		}
		out = append(out, *q)
	}
	return c.JSON(QuotesResponse{Quotes: out})
}

// GetQuote returns one cached quote. Products hidden from the caller look
// exactly like products that do not exist.
func (h *Handler) GetQuote(c *fiber.Ctx) error {
	productID := c.Params("productId")

	quote, err := h.store.GetQuote(c.Context(), productID)
	if err != nil {
		return h.serviceError(c, err)
	}
	if quote == nil {
		return notFound(c, productID)
	}

	if userID := c.Get(userHeader); userID != "" {
		hidden, err := h.store.GetHiddenProductTypes(c.Context(), userID)
		if err != nil {
			return h.serviceError(c, err)
		}
		if hidden[quote.ProductType] {
			return notFound(c, productID)
		}
	}
	return c.JSON(quote)
}

// GetTickSummary exposes the last ingestion tick record.
func (h *Handler) GetTickSummary(c *fiber.Ctx) error {
	summary, err := h.store.GetTickSummary(c.Context())
	if err != nil {
		return h.serviceError(c, err)
	}
	if summary == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fiber.Map{"code": "NO_TICK_YET", "message": "no ingestion tick has completed"},
		})
	}
	return c.JSON(summary)
}

// LockQuote mints or reuses a price lock for the caller.
func (h *Handler) LockQuote(c *fiber.Ctx) error {
	userID := c.Get(userHeader)
	if userID == "" {
		return unauthorized(c)
	}

	var req LockRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err.Error())
	}
	side, err := req.Validate()
	if err != nil {
		return badRequest(c, err.Error())
	}

	lock, err := h.locks.LockQuote(c.Context(), userID, c.Params("productId"), side, req.ForceNew)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(LockResponse{Lock: lock})
}

// GetLock returns the caller's live lock.
func (h *Handler) GetLock(c *fiber.Ctx) error {
	userID := c.Get(userHeader)
	if userID == "" {
		return unauthorized(c)
	}

	lock, err := h.locks.GetLockForUser(c.Context(), userID, c.Params("quoteId"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(LockResponse{Lock: lock})
}

// ConsumeLock redeems a lock exactly once.
func (h *Handler) ConsumeLock(c *fiber.Ctx) error {
	userID := c.Get(userHeader)
	if userID == "" {
		return unauthorized(c)
	}

	lock, err := h.locks.ConsumeLock(c.Context(), userID, c.Params("quoteId"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(LockResponse{Lock: lock})
}

// StreamQuotes pushes quote updates to the client as server-sent events.
// Missed events are fine; the client re-reads the cache.
func (h *Handler) StreamQuotes(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	updates, unsubscribe := h.hub.Subscribe()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				data, err := json.Marshal(update)
				if err != nil {
					continue
				}
				if _, err := w.WriteString("data: " + string(data) + "\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-heartbeat.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// serviceError maps typed lock-service errors onto HTTP statuses; anything
// untyped is a plain 500.
func (h *Handler) serviceError(c *fiber.Ctx, err error) error {
	if typed, ok := quotelock.AsError(err); ok {
		return c.Status(statusForCode(typed.Code)).JSON(fiber.Map{"error": typed})
	}
	h.logger.Error("api.internal_error",
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{"code": "INTERNAL", "message": "internal error"},
	})
}

func statusForCode(code string) int {
	switch code {
	case quotelock.CodeProductNotFound, quotelock.CodeLockNotFound:
		return fiber.StatusNotFound
	case quotelock.CodeProductHidden, quotelock.CodeLockForbidden:
		return fiber.StatusForbidden
	case quotelock.CodeLockAlreadyUsed, quotelock.CodeNoExecutableQuote, quotelock.CodeQuoteStale:
		return fiber.StatusConflict
	case quotelock.CodeStoreUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func notFound(c *fiber.Ctx, productID string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    quotelock.CodeProductNotFound,
			"message": "product " + productID + " not found",
		},
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": fiber.Map{"code": "UNAUTHENTICATED", "message": userHeader + " header is required"},
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fiber.Map{"code": "BAD_REQUEST", "message": msg},
	})
}
