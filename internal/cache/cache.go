package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/brainsait/claimguard/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize, 0), nil

	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg, remote), nil
		}
		return remote, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis behind a circuit breaker
//
// While the breaker is open L2 is skipped: reads miss through to the
// caller, writes land in L1 only, and counters fall back to L1.
type TwoPhaseCache struct {
	local   *LRUCache
	remote  domain.Cache
	breaker *gobreaker.CircuitBreaker
	l1TTL   time.Duration
}

// NewTwoPhaseCache layers an LRU in front of remote.
func NewTwoPhaseCache(cfg domain.CacheConfig, remote domain.Cache) *TwoPhaseCache {
	l1TTL := time.Duration(cfg.LocalTTL) * time.Second
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-l2",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("cache breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &TwoPhaseCache{
		local:   NewLRUCache(cfg.LocalMaxSize, l1TTL),
		remote:  remote,
		breaker: breaker,
		l1TTL:   l1TTL,
	}
}

func isOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	// Check L1 first
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	// Check L2
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.remote.Get(ctx, tenantID, key)
	})
	if isOpen(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	val, _ = res.([]byte)
	if val != nil {
		// Populate L1 for future reads
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	// Write to L1 with shorter TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}

	// Write to L2 with full TTL
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.remote.Set(ctx, tenantID, key, value, ttl)
	})
	if isOpen(err) {
		return nil
	}
	return err
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.remote.Delete(ctx, tenantID, key)
	})
	if isOpen(err) {
		return nil
	}
	return err
}

// IncrementCounter uses Redis for distributed atomic counters.
// L1 is only used while the breaker is open.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.remote.IncrementCounter(ctx, tenantID, key, window)
	})
	if isOpen(err) {
		return c.local.IncrementCounter(ctx, tenantID, key, window)
	}
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// BreakerState reports the L2 circuit breaker state.
func (c *TwoPhaseCache) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// ReportKey is the cache key for a stored report.
func ReportKey(reportID string) string {
	return "report:" + reportID
}

// HistoryKey is the cache key for a tenant's historical claims since a date.
func HistoryKey(since time.Time) string {
	if since.IsZero() {
		return "history:all"
	}
	return "history:" + since.UTC().Format(domain.DateLayout)
}

// GetJSON decodes a cached JSON value into a new T. A miss is (nil, nil).
func GetJSON[T any](ctx context.Context, c domain.Cache, tenantID, key string) (*T, error) {
	data, err := c.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return &v, nil
}

// SetJSON caches v encoded as JSON.
func SetJSON(ctx context.Context, c domain.Cache, tenantID, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, tenantID, key, data, ttl)
}
