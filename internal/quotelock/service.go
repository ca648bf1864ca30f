package quotelock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quote-engine/internal/metrics"
	"github.com/Checker-Finance/quote-engine/internal/store"
	"github.com/Checker-Finance/quote-engine/pkg/model"
)

// LockStore is the slice of the store the lock service needs.
type LockStore interface {
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	GetHiddenProductTypes(ctx context.Context, userID string) (map[model.ProductType]bool, error)
	GetQuote(ctx context.Context, productID string) (*model.ResolvedQuote, error)

	PutLock(ctx context.Context, payload model.LockedQuotePayload, ttl time.Duration) error
	GetLock(ctx context.Context, quoteID string) (*model.LockedQuotePayload, error)
	SetLockPointer(ctx context.Context, userID, productID string, side model.Side, quoteID string, ttl time.Duration) error
	GetLockPointer(ctx context.Context, userID, productID string, side model.Side) (string, error)
	IsLockConsumed(ctx context.Context, quoteID string) (bool, error)
	ConsumeLock(ctx context.Context, quoteID string) (*model.LockedQuotePayload, error)

	InsertLockAudit(ctx context.Context, payload model.LockedQuotePayload) error
	MarkLockConsumed(ctx context.Context, quoteID, tradeID string) error
}

// Service mints, serves and consumes short-lived quote locks. All lock state
// lives in the store; expiry is enforced by TTLs there, never by timers here.
type Service struct {
	logger  *zap.Logger
	store   LockStore
	lockTTL time.Duration
	now     func() time.Time
	newID   func() string
}

func NewService(logger *zap.Logger, st LockStore, lockTTL time.Duration) *Service {
	return &Service{
		logger:  logger,
		store:   st,
		lockTTL: lockTTL,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// LockQuote returns the user's live lock for (product, side) when one exists,
// or mints a fresh one from the cached quote. forceNew always mints, leaving
// any previous lock to expire on its own.
func (s *Service) LockQuote(ctx context.Context, userID, productID string, side model.Side, forceNew bool) (*model.LockedQuotePayload, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, s.storeErr("get_product", err)
	}
	if product == nil || !product.IsActive {
		return nil, newError(CodeProductNotFound, "product %s not found", productID)
	}

	hidden, err := s.store.GetHiddenProductTypes(ctx, userID)
	if err != nil {
		return nil, s.storeErr("get_hidden_types", err)
	}
	if hidden[product.ProductType] {
		return nil, newError(CodeProductHidden, "product %s is not available to this user", productID)
	}

	if !forceNew {
		if existing, err := s.reusableLock(ctx, userID, productID, side); err != nil {
			return nil, err
		} else if existing != nil {
			metrics.IncLockOp("lock", "reused")
			return existing, nil
		}
	}

	quote, err := s.store.GetQuote(ctx, productID)
	if err != nil {
		return nil, s.storeErr("get_quote", err)
	}
	if quote == nil || quote.Status == model.StatusNoPrice {
		return nil, newError(CodeNoExecutableQuote, "no executable quote for product %s", productID)
	}
	if quote.Status == model.StatusStale {
		return nil, newError(CodeQuoteStale, "quote for product %s is stale", productID)
	}
	price := quote.PriceForSide(side)
	if price == nil {
		return nil, newError(CodeNoExecutableQuote, "product %s has no %s price", productID, side)
	}

	now := s.now().UTC()
	payload := model.LockedQuotePayload{
		QuoteID:         s.newID(),
		UserID:          userID,
		ProductID:       productID,
		Side:            side,
		UnitType:        product.UnitType,
		BaseAssetID:     product.BaseAssetID,
		BaseAssetCode:   product.BaseAssetCode,
		BaseBuy:         quote.BaseBuy,
		BaseSell:        quote.BaseSell,
		DisplayBuy:      quote.DisplayBuy,
		DisplaySell:     quote.DisplaySell,
		ExecutablePrice: *price,
		AsOf:            quote.AsOf,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.lockTTL),
		Nonce:           s.newID(),
	}
	if quote.Source != nil {
		payload.Source = *quote.Source
	}

	if err := s.store.PutLock(ctx, payload, s.lockTTL); err != nil {
		return nil, s.storeErr("put_lock", err)
	}
	if err := s.store.SetLockPointer(ctx, userID, productID, side, payload.QuoteID, s.lockTTL); err != nil {
		return nil, s.storeErr("set_lock_pointer", err)
	}

	// The audit row is durable paperwork, not part of the serving path. A
	// write failure is logged and the lock still stands.
	if err := s.store.InsertLockAudit(ctx, payload); err != nil {
		s.logger.Warn("quotelock.audit_insert_failed",
			zap.String("quote_id", payload.QuoteID),
			zap.Error(err))
	}

	metrics.IncLockOp("lock", "ok")
	s.logger.Info("quotelock.locked",
		zap.String("quote_id", payload.QuoteID),
		zap.String("product_id", productID),
		zap.String("side", string(side)),
		zap.String("price", payload.ExecutablePrice.String()))
	return &payload, nil
}

// reusableLock follows the user's pointer and returns the live lock behind it,
// or nil when the pointer is absent, dangling, or points at a consumed lock.
func (s *Service) reusableLock(ctx context.Context, userID, productID string, side model.Side) (*model.LockedQuotePayload, error) {
	quoteID, err := s.store.GetLockPointer(ctx, userID, productID, side)
	if err != nil {
		return nil, s.storeErr("get_lock_pointer", err)
	}
	if quoteID == "" {
		return nil, nil
	}
	payload, err := s.store.GetLock(ctx, quoteID)
	if err != nil {
		return nil, s.storeErr("get_lock", err)
	}
	if payload == nil {
		return nil, nil
	}
	consumed, err := s.store.IsLockConsumed(ctx, quoteID)
	if err != nil {
		return nil, s.storeErr("is_lock_consumed", err)
	}
	if consumed {
		return nil, nil
	}
	return payload, nil
}

// GetLockForUser returns a live, unconsumed lock. Locks are private: a
// mismatched user gets FORBIDDEN, not someone else's price. A consumed lock
// is never served again, even to its owner.
func (s *Service) GetLockForUser(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error) {
	payload, err := s.store.GetLock(ctx, quoteID)
	if err != nil {
		return nil, s.storeErr("get_lock", err)
	}
	if payload == nil {
		return nil, newError(CodeLockNotFound, "lock %s not found or expired", quoteID)
	}
	if payload.UserID != userID {
		return nil, newError(CodeLockForbidden, "lock %s belongs to another user", quoteID)
	}
	consumed, err := s.store.IsLockConsumed(ctx, quoteID)
	if err != nil {
		return nil, s.storeErr("is_lock_consumed", err)
	}
	if consumed {
		return nil, newError(CodeLockAlreadyUsed, "lock %s was already consumed", quoteID)
	}
	return payload, nil
}

// ConsumeLock redeems a lock exactly once on behalf of its owner. The winner
// gets the immutable payload; every later caller gets ALREADY_USED.
func (s *Service) ConsumeLock(ctx context.Context, userID, quoteID string) (*model.LockedQuotePayload, error) {
	existing, err := s.store.GetLock(ctx, quoteID)
	if err != nil {
		return nil, s.storeErr("get_lock", err)
	}
	if existing != nil && existing.UserID != userID {
		metrics.IncLockOp("consume", "forbidden")
		return nil, newError(CodeLockForbidden, "lock %s belongs to another user", quoteID)
	}

	payload, err := s.store.ConsumeLock(ctx, quoteID)
	switch {
	case errors.Is(err, store.ErrLockNotFound):
		metrics.IncLockOp("consume", "not_found")
		return nil, newError(CodeLockNotFound, "lock %s not found or expired", quoteID)
	case errors.Is(err, store.ErrLockConsumed):
		metrics.IncLockOp("consume", "already_used")
		return nil, newError(CodeLockAlreadyUsed, "lock %s was already consumed", quoteID)
	case err != nil:
		return nil, s.storeErr("consume_lock", err)
	}

	metrics.IncLockOp("consume", "ok")
	s.logger.Info("quotelock.consumed",
		zap.String("quote_id", quoteID),
		zap.String("product_id", payload.ProductID),
		zap.String("price", payload.ExecutablePrice.String()))
	return payload, nil
}

// MarkConsumed stamps the durable audit row once execution reports a booked
// trade for the lock.
func (s *Service) MarkConsumed(ctx context.Context, quoteID, tradeID string) error {
	if err := s.store.MarkLockConsumed(ctx, quoteID, tradeID); err != nil {
		return s.storeErr("mark_consumed", err)
	}
	return nil
}

func (s *Service) storeErr(op string, err error) error {
	metrics.IncError("quotelock", op)
	s.logger.Error("quotelock.store_error", zap.String("op", op), zap.Error(err))
	return newError(CodeStoreUnavailable, "store unavailable")
}
