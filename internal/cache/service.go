package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
)

// Service provides typed JSON caching on top of a Store
type Service struct {
	store  Store
	config *Config

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

// Config holds cache configuration
type Config struct {
	DefaultTTL     time.Duration `json:"default_ttl"`
	BatchResultTTL time.Duration `json:"batch_result_ttl"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:     1 * time.Hour,
		BatchResultTTL: 5 * time.Minute,
	}
}

// NewService creates a new cache service
func NewService(store Store, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}

	return &Service{
		store:  store,
		config: config,
	}
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Cache key prefixes
const (
	PrefixCall        = "gw"
	PrefixBatchResult = "batch_result"
)

// Stats are the hit, miss and error counters of a Service
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// Store returns the underlying store
func (s *Service) Store() Store {
	return s.store
}

// Config returns the cache configuration
func (s *Service) Config() *Config {
	return s.config
}

// Set stores a value in cache with the specified TTL. A zero TTL uses DefaultTTL.
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration, tags ...string) error {
	return s.SetRaw(ctx, key.String(), value, ttl, tags...)
}

// SetRaw is Set for keys that are already fully formed
func (s *Service) SetRaw(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	data, err := s.serialize(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	if err := s.store.Set(ctx, key, data, ttl, tags...); err != nil {
		s.failures.Add(1)
		return err
	}

	return nil
}

// Get retrieves a value from cache into dest. A miss returns a not-found error.
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	return s.GetRaw(ctx, key.String(), dest)
}

// GetRaw is Get for keys that are already fully formed
func (s *Service) GetRaw(ctx context.Context, key string, dest interface{}) error {
	data, hit, err := s.store.Get(ctx, key)
	if err != nil {
		s.failures.Add(1)
		return err
	}
	if !hit {
		s.misses.Add(1)
		return errors.NewNotFoundError("cache key")
	}

	if err := s.deserialize(data, dest); err != nil {
		s.failures.Add(1)
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}

	s.hits.Add(1)
	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key CacheKey) error {
	return s.store.Delete(ctx, key.String())
}

// InvalidateTag removes all values written with tag
func (s *Service) InvalidateTag(ctx context.Context, tag string) (int64, error) {
	return s.store.InvalidateTag(ctx, tag)
}

// Health checks the underlying store
func (s *Service) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

// Stats returns a snapshot of the counters
func (s *Service) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Errors: s.failures.Load(),
	}
}

// serialize converts a value to JSON bytes
func (s *Service) serialize(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	}

	return json.Marshal(value)
}

// deserialize converts JSON bytes to a value
func (s *Service) deserialize(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	case *json.RawMessage:
		*d = append((*d)[:0], data...)
		return nil
	}

	return json.Unmarshal(data, dest)
}
