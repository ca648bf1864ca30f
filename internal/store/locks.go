package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

const (
	lockKeyPrefix     = "quotes:lock:"
	lockPtrKeyPrefix  = "quotes:lockptr:"
	consumedKeyPrefix = "quotes:lockused:"
)

func lockKey(quoteID string) string { return lockKeyPrefix + quoteID }

func lockPtrKey(userID, productID string, side model.Side) string {
	return fmt.Sprintf("%s%s:%s:%s", lockPtrKeyPrefix, userID, productID, side)
}

func consumedKey(quoteID string) string { return consumedKeyPrefix + quoteID }

// consumeScript is the single indivisible consume operation: read the lock
// payload, check the consumed marker, and set the marker with a TTL bounded
// by the payload's remaining TTL. Splitting this into separate read/write
// calls would break the at-most-once guarantee under concurrent consumers.
var consumeScript = redis.NewScript(`
local payload = redis.call('GET', KEYS[1])
if not payload then
  return {'NOT_FOUND', ''}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {'USED', ''}
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
  ttl = tonumber(ARGV[1])
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
return {'OK', payload}
`)

// PutLock stores an immutable lock payload under its quote-id key.
func (s *HybridStore) PutLock(ctx context.Context, payload model.LockedQuotePayload, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, lockKey(payload.QuoteID), data, ttl).Err()
}

// GetLock returns the lock payload, or (nil, nil) when the key is absent
// (expired or never existed).
func (s *HybridStore) GetLock(ctx context.Context, quoteID string) (*model.LockedQuotePayload, error) {
	data, err := s.redis.Get(ctx, lockKey(quoteID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var payload model.LockedQuotePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// SetLockPointer points (user, product, side) at the live lock id. A single
// SET with TTL keeps the mutation atomic.
func (s *HybridStore) SetLockPointer(ctx context.Context, userID, productID string, side model.Side, quoteID string, ttl time.Duration) error {
	return s.redis.Set(ctx, lockPtrKey(userID, productID, side), quoteID, ttl).Err()
}

// GetLockPointer returns the pointed-at lock id, or "" when none is live.
func (s *HybridStore) GetLockPointer(ctx context.Context, userID, productID string, side model.Side) (string, error) {
	id, err := s.redis.Get(ctx, lockPtrKey(userID, productID, side)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	return id, nil
}

// IsLockConsumed reports whether a consumed marker exists for the quote id.
func (s *HybridStore) IsLockConsumed(ctx context.Context, quoteID string) (bool, error) {
	n, err := s.redis.Exists(ctx, consumedKey(quoteID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ConsumeLock atomically consumes the lock: exactly one concurrent caller
// gets the payload; the rest get ErrLockConsumed, or ErrLockNotFound when the
// lock had already expired.
func (s *HybridStore) ConsumeLock(ctx context.Context, quoteID string) (*model.LockedQuotePayload, error) {
	// Fallback marker TTL if the payload key somehow carries no expiry.
	fallbackMs := strconv.FormatInt((30 * time.Second).Milliseconds(), 10)
	consumedAt := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)

	res, err := consumeScript.Run(ctx, s.redis,
		[]string{lockKey(quoteID), consumedKey(quoteID)},
		fallbackMs, consumedAt,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("consume script: %w", err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("consume script: unexpected reply %v", res)
	}

	status, _ := parts[0].(string)
	switch status {
	case "OK":
		raw, _ := parts[1].(string)
		var payload model.LockedQuotePayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("consume script: decode payload: %w", err)
		}
		return &payload, nil
	case "USED":
		return nil, ErrLockConsumed
	case "NOT_FOUND":
		return nil, ErrLockNotFound
	default:
		return nil, fmt.Errorf("consume script: unknown status %q", status)
	}
}
