package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/polyglot/pkg/cache/sqlite"
	"github.com/pario-ai/polyglot/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memTier is an in-memory Tier that lets tests plant arbitrary payloads.
type memTier struct {
	mu   sync.Mutex
	rows map[string]memRow
}

type memRow struct {
	payload   []byte
	expiresAt time.Time
}

func newMemTier() *memTier { return &memTier{rows: make(map[string]memRow)} }

func (m *memTier) Load(fp string) ([]byte, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[fp]
	return r.payload, r.expiresAt, ok, nil
}

func (m *memTier) Save(fp string, payload []byte, _, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[fp] = memRow{payload: payload, expiresAt: expiresAt}
	return nil
}

func (m *memTier) Delete(fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, fp)
	return nil
}

func (m *memTier) Purge(bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.rows))
	m.rows = make(map[string]memRow)
	return n, nil
}

func (m *memTier) has(fp string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[fp]
	return ok
}

func sampleResult() models.ConversionResult {
	return models.ConversionResult{
		Code:          "const add = (a, b) => a + b;",
		Confidence:    85,
		Warnings:      []string{"provider a: quota exhausted"},
		ExecutionTime: 120 * time.Millisecond,
		Provider:      "b",
		Attempts:      2,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Hour})
	c.Put("fp", sampleResult(), 0)

	got, ok := c.Get("fp")
	require.True(t, ok)
	assert.True(t, got.CacheHit)
	assert.Equal(t, sampleResult().Code, got.Code)
	assert.Equal(t, 85, got.Confidence)
	assert.Equal(t, "b", got.Provider)
	assert.Equal(t, 120*time.Millisecond, got.ExecutionTime)
	assert.Equal(t, sampleResult().Warnings, got.Warnings)
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Hour})
	c.Put("fp", sampleResult(), 0)

	got, _ := c.Get("fp")
	got.Warnings[0] = "mutated"

	again, _ := c.Get("fp")
	assert.Equal(t, "provider a: quota exhausted", again.Warnings[0])
}

func TestMiss(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Hour})
	_, ok := c.Get("nope")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestTTLExpiry(t *testing.T) {
	clk := newFakeClock()
	c := New(Options{Capacity: 10, TTL: time.Minute}, WithClock(clk.Now))

	c.Put("default", sampleResult(), 0)
	c.Put("long", sampleResult(), time.Hour)

	clk.Advance(59 * time.Second)
	_, ok := c.Get("default")
	assert.True(t, ok, "entry should live until its TTL")

	clk.Advance(time.Second)
	_, ok = c.Get("default")
	assert.False(t, ok, "entry must not be returned once its TTL elapsed")

	_, ok = c.Get("long")
	assert.True(t, ok, "per-entry TTL overrides the default")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Expired)
	assert.Equal(t, 1, stats.Entries)
}

func TestInvalidateExpired(t *testing.T) {
	clk := newFakeClock()
	c := New(Options{Capacity: 10, TTL: time.Minute}, WithClock(clk.Now))

	c.Put("a", sampleResult(), 0)
	c.Put("b", sampleResult(), 0)
	c.Put("c", sampleResult(), time.Hour)

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 2, c.InvalidateExpired())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.InvalidateExpired())
}

func TestLRUEviction(t *testing.T) {
	c := New(Options{Capacity: 2, TTL: time.Hour})

	c.Put("a", sampleResult(), 0)
	c.Put("b", sampleResult(), 0)
	_, _ = c.Get("a") // a is now most recent
	c.Put("c", sampleResult(), 0)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestPutReplacesLastWriterWins(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Hour})
	first := sampleResult()
	second := sampleResult()
	second.Code = "function add(a, b) { return a + b; }"

	c.Put("fp", first, 0)
	c.Put("fp", second, 0)

	got, ok := c.Get("fp")
	require.True(t, ok)
	assert.Equal(t, second.Code, got.Code)
	assert.Equal(t, 1, c.Len())
}

func TestPutStripsCacheHitFlag(t *testing.T) {
	tier := newMemTier()
	c := New(Options{Capacity: 10, TTL: time.Hour, Tier: tier})
	res := sampleResult()
	res.CacheHit = true
	c.Put("fp", res, 0)

	payload, _, ok, err := tier.Load("fp")
	require.NoError(t, err)
	require.True(t, ok)
	stored, err := decodeResult(payload)
	require.NoError(t, err)
	assert.False(t, stored.CacheHit)
}

func TestCorruptedTierEntryIsMiss(t *testing.T) {
	tier := newMemTier()
	c := New(Options{Capacity: 10, TTL: time.Hour, Tier: tier})

	require.NoError(t, tier.Save("bad", []byte("{not json"), time.Time{}, time.Now().Add(time.Hour)))
	require.NoError(t, tier.Save("empty", []byte(`{"confidence":50}`), time.Time{}, time.Now().Add(time.Hour)))

	_, ok := c.Get("bad")
	assert.False(t, ok)
	_, ok = c.Get("empty")
	assert.False(t, ok)

	assert.False(t, tier.has("bad"), "corrupted entry should be removed")
	assert.False(t, tier.has("empty"))

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Corrupted)
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestDecodeResultWrapsCorruption(t *testing.T) {
	_, err := decodeResult([]byte("garbage"))
	assert.ErrorIs(t, err, ErrCacheCorruption)
}

func TestTierPromotion(t *testing.T) {
	clk := newFakeClock()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"), sqlite.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	first := New(Options{Capacity: 10, TTL: time.Hour, Tier: store}, WithClock(clk.Now))
	first.Put("fp", sampleResult(), 0)

	// a fresh cache sharing the store simulates a restart
	second := New(Options{Capacity: 10, TTL: time.Hour, Tier: store}, WithClock(clk.Now))
	got, ok := second.Get("fp")
	require.True(t, ok)
	assert.Equal(t, sampleResult().Code, got.Code)
	assert.True(t, got.CacheHit)
	assert.Equal(t, 1, second.Len(), "tier hit should be promoted into memory")

	clk.Advance(2 * time.Hour)
	third := New(Options{Capacity: 10, TTL: time.Hour, Tier: store}, WithClock(clk.Now))
	_, ok = third.Get("fp")
	assert.False(t, ok, "expired tier rows are misses")
}

func TestClear(t *testing.T) {
	tier := newMemTier()
	c := New(Options{Capacity: 10, TTL: time.Hour, Tier: tier})
	c.Put("a", sampleResult(), 0)
	c.Put("b", sampleResult(), 0)

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Len())
	assert.False(t, tier.has("a"))
}

func TestStatsHitRate(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Hour})
	c.Put("a", sampleResult(), 0)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("b")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 0.001)
	assert.Equal(t, 10, stats.Capacity)
}

func TestDefaultCapacity(t *testing.T) {
	c := New(Options{TTL: time.Hour})
	assert.Equal(t, DefaultCapacity, c.Stats().Capacity)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{Capacity: 50, TTL: time.Hour})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i%5))
			for range 100 {
				c.Put(key, sampleResult(), 0)
				_, _ = c.Get(key)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}

func TestStartSweeperStopsOnCancel(t *testing.T) {
	c := New(Options{Capacity: 10, TTL: time.Nanosecond})
	c.Put("a", sampleResult(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.StartSweeper(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
