package batch

import (
	"context"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/internal/cache"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// DefaultResultTTL is how long a batched result stays available for pickup
const DefaultResultTTL = 5 * time.Minute

// ResultStore keeps batched call results under their request id until the
// TTL expires. Results that are not picked up in time are lost.
type ResultStore struct {
	cache *cache.Service
	ttl   time.Duration
}

// NewResultStore creates a result store on the given cache service
func NewResultStore(cache *cache.Service, ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultStore{cache: cache, ttl: ttl}
}

// Save stores result under its request id
func (s *ResultStore) Save(ctx context.Context, result types.CallResult) error {
	if result.RequestID == "" {
		return errors.NewValidationError("batch result has no request id")
	}
	return s.cache.Set(ctx, resultKey(result.RequestID), result, s.ttl)
}

// Get returns the stored result of id. found is false once the TTL expired
// or if id was never stored.
func (s *ResultStore) Get(ctx context.Context, id string) (*types.CallResult, bool, error) {
	var result types.CallResult
	if err := s.cache.Get(ctx, resultKey(id), &result); err != nil {
		if errors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &result, true, nil
}

// TTL returns the result retention period
func (s *ResultStore) TTL() time.Duration {
	return s.ttl
}

func resultKey(id string) cache.CacheKey {
	return cache.CacheKey{Prefix: cache.PrefixBatchResult, ID: id}
}
