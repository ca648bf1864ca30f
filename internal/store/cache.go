package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Checker-Finance/quote-engine/pkg/model"
)

const (
	quoteKeyPrefix = "quotes:px:"
	indexKey       = "quotes:index"
	tickSummaryKey = "quotes:ingest:last_tick"
)

func quoteKey(productID string) string { return quoteKeyPrefix + productID }

// SetQuote overwrites the cached canonical quote for a product wholesale
// (last writer wins). The TTL must be at least the polling interval so a slow
// tick does not open a hole for readers.
func (s *HybridStore) SetQuote(ctx context.Context, quote model.ResolvedQuote, ttl time.Duration) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, quoteKey(quote.ProductID), data, ttl).Err()
}

// GetQuote returns the cached quote, or (nil, nil) on a miss. Callers treat a
// miss as NO_PRICE, never as an error.
func (s *HybridStore) GetQuote(ctx context.Context, productID string) (*model.ResolvedQuote, error) {
	data, err := s.redis.Get(ctx, quoteKey(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var quote model.ResolvedQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// GetQuotes returns quotes aligned with productIDs, nil where missing.
func (s *HybridStore) GetQuotes(ctx context.Context, productIDs []string) ([]*model.ResolvedQuote, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = quoteKey(id)
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*model.ResolvedQuote, len(productIDs))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var quote model.ResolvedQuote
		if err := json.Unmarshal([]byte(raw), &quote); err != nil {
			s.logger.Warn("store.quote_decode_failed")
			continue
		}
		out[i] = &quote
	}
	return out, nil
}

// RefreshActiveIndex replaces the index of currently active product ids.
func (s *HybridStore) RefreshActiveIndex(ctx context.Context, productIDs []string, ttl time.Duration) error {
	data, err := json.Marshal(productIDs)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, indexKey, data, ttl).Err()
}

// GetActiveIndex returns the active product ids, or (nil, nil) when the index
// has not been written yet (or has expired).
func (s *HybridStore) GetActiveIndex(ctx context.Context) ([]string, error) {
	data, err := s.redis.Get(ctx, indexKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveTickSummary persists the last ingestion tick's counters.
func (s *HybridStore) SaveTickSummary(ctx context.Context, summary model.TickSummary, ttl time.Duration) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, tickSummaryKey, data, ttl).Err()
}

func (s *HybridStore) GetTickSummary(ctx context.Context) (*model.TickSummary, error) {
	data, err := s.redis.Get(ctx, tickSummaryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var summary model.TickSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// AcquireIngestLock attempts the cross-instance ingestion lock with an atomic
// set-if-absent. The lock is never renewed mid-tick; release happens purely
// by TTL expiry.
func (s *HybridStore) AcquireIngestLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, name, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ingest lock setnx: %w", err)
	}
	return ok, nil
}
