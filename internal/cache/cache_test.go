package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/brainsait/claimguard/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100, 0)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("MaxTTLCapsEntries", func(t *testing.T) {
		capped := NewLRUCache(10, 10*time.Millisecond)
		_ = capped.Set(ctx, tenantID, "k", []byte("v"), time.Hour)

		time.Sleep(30 * time.Millisecond)

		val, _ := capped.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected entry to expire at the cache-wide TTL")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3, 0)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.IncrementCounter(ctx, "", "key", time.Second); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, tenantID, "requests", window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, tenantID, "requests", window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, tenantID, "requests", window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50, 0)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10, 0)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

// flakyRemote is an in-memory L2 that can be switched to fail.
type flakyRemote struct {
	*LRUCache
	fail  bool
	calls int
}

var errRemoteDown = errors.New("remote down")

func (r *flakyRemote) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	r.calls++
	if r.fail {
		return nil, errRemoteDown
	}
	return r.LRUCache.Get(ctx, tenantID, key)
}

func (r *flakyRemote) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	r.calls++
	if r.fail {
		return errRemoteDown
	}
	return r.LRUCache.Set(ctx, tenantID, key, value, ttl)
}

func (r *flakyRemote) IncrementCounter(ctx context.Context, tenantID, key string, window time.Duration) (int64, error) {
	r.calls++
	if r.fail {
		return 0, errRemoteDown
	}
	return r.LRUCache.IncrementCounter(ctx, tenantID, key, window)
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"
	cfg := domain.CacheConfig{LocalMaxSize: 100, LocalTTL: 60, BreakerFailures: 2}

	t.Run("L2HitPopulatesL1", func(t *testing.T) {
		remote := &flakyRemote{LRUCache: NewLRUCache(100, 0)}
		c := NewTwoPhaseCache(cfg, remote)

		_ = remote.LRUCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		val, err := c.Get(ctx, tenantID, "k")
		if err != nil || string(val) != "v" {
			t.Fatalf("expected L2 hit, got %q, %v", val, err)
		}

		if size, _ := c.Stats(); size != 1 {
			t.Errorf("expected L1 to hold 1 entry, got %d", size)
		}

		calls := remote.calls
		_, _ = c.Get(ctx, tenantID, "k")
		if remote.calls != calls {
			t.Error("expected second read to be served by L1")
		}
	})

	t.Run("BreakerOpensAndDegrades", func(t *testing.T) {
		remote := &flakyRemote{LRUCache: NewLRUCache(100, 0), fail: true}
		c := NewTwoPhaseCache(cfg, remote)

		for i := 0; i < 2; i++ {
			if _, err := c.Get(ctx, tenantID, "missing"); !errors.Is(err, errRemoteDown) {
				t.Fatalf("expected remote error before trip, got: %v", err)
			}
		}
		if c.BreakerState() != gobreaker.StateOpen {
			t.Fatalf("expected breaker open, got %s", c.BreakerState())
		}

		calls := remote.calls
		val, err := c.Get(ctx, tenantID, "missing")
		if err != nil || val != nil {
			t.Errorf("expected silent miss while open, got %q, %v", val, err)
		}

		if err := c.Set(ctx, tenantID, "k", []byte("local"), time.Minute); err != nil {
			t.Errorf("expected L1-only write while open, got: %v", err)
		}
		val, _ = c.Get(ctx, tenantID, "k")
		if string(val) != "local" {
			t.Errorf("expected L1 value, got %q", val)
		}

		n, err := c.IncrementCounter(ctx, tenantID, "requests", time.Minute)
		if err != nil || n != 1 {
			t.Errorf("expected local counter fallback, got %d, %v", n, err)
		}

		if remote.calls != calls {
			t.Errorf("expected no remote calls while open, got %d", remote.calls-calls)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10, 0)

	report := &domain.FraudAnalysisReport{ID: "rpt-1", TotalAlerts: 3}
	if err := SetJSON(ctx, c, "tenant-001", ReportKey(report.ID), report, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	got, err := GetJSON[domain.FraudAnalysisReport](ctx, c, "tenant-001", ReportKey("rpt-1"))
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got == nil || got.TotalAlerts != 3 {
		t.Errorf("expected cached report, got %+v", got)
	}

	miss, err := GetJSON[domain.FraudAnalysisReport](ctx, c, "tenant-001", ReportKey("rpt-2"))
	if err != nil || miss != nil {
		t.Errorf("expected (nil, nil) on miss, got %+v, %v", miss, err)
	}

	_ = c.Set(ctx, "tenant-001", "bad", []byte("{"), time.Minute)
	if _, err := GetJSON[domain.FraudAnalysisReport](ctx, c, "tenant-001", "bad"); err == nil {
		t.Error("expected decode error")
	}
}

func TestHistoryKey(t *testing.T) {
	if got := HistoryKey(time.Time{}); got != "history:all" {
		t.Errorf("HistoryKey(zero) = %q", got)
	}
	since := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	if got := HistoryKey(since); got != "history:2026-01-05" {
		t.Errorf("HistoryKey() = %q", got)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
