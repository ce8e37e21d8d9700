package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/billing/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func counter(calls *atomic.Int64, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestFetchTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.WithClock(clock.Now))

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		v, err := c.FetchString(ctx, "k", time.Minute, counter(&calls, "v1"))
		if err != nil || v != "v1" {
			t.Fatalf("FetchString = %q, %v", v, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("compute calls = %d, want 1", calls.Load())
	}

	clock.Advance(59 * time.Second)
	if _, err := c.FetchString(ctx, "k", time.Minute, counter(&calls, "v2")); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("recomputed before expiry: calls = %d", calls.Load())
	}

	clock.Advance(time.Second)
	v, err := c.FetchString(ctx, "k", time.Minute, counter(&calls, "v2"))
	if err != nil || v != "v2" {
		t.Fatalf("after expiry FetchString = %q, %v", v, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("compute calls = %d, want 2", calls.Load())
	}

	stats := c.Stats()
	if stats.Hits != 3 || stats.Misses != 2 {
		t.Errorf("stats = %+v, want 3 hits 2 misses", stats)
	}
}

func TestFetchErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	c := cache.New()
	boom := errors.New("boom")

	var calls atomic.Int64
	failing := func(context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	}

	for i := 0; i < 2; i++ {
		if _, err := c.FetchString(ctx, "k", time.Minute, failing); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("compute calls = %d, want 2", calls.Load())
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	c := cache.New()

	var calls atomic.Int64
	_, _ = c.FetchString(ctx, "pol:a", time.Hour, counter(&calls, "old"))
	_, _ = c.FetchString(ctx, "pol:b", time.Hour, counter(&calls, "old"))
	_, _ = c.FetchString(ctx, "cmd:x", time.Hour, counter(&calls, "old"))

	c.Invalidate("pol:a")
	v, _ := c.FetchString(ctx, "pol:a", time.Hour, counter(&calls, "new"))
	if v != "new" {
		t.Errorf("after Invalidate got %q, want new", v)
	}

	if n := c.InvalidatePrefix("pol:"); n != 2 {
		t.Errorf("InvalidatePrefix removed %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestInvalidateDuringCompute(t *testing.T) {
	ctx := context.Background()
	c := cache.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string)

	go func() {
		v, _ := c.FetchString(ctx, "k", time.Hour, func(context.Context) (string, error) {
			close(entered)
			<-release
			return "stale", nil
		})
		done <- v
	}()

	<-entered
	c.Invalidate("k")
	close(release)

	if v := <-done; v != "stale" {
		t.Fatalf("in-flight caller got %q, want stale", v)
	}

	var calls atomic.Int64
	v, _ := c.FetchString(ctx, "k", time.Hour, counter(&calls, "fresh"))
	if v != "fresh" || calls.Load() != 1 {
		t.Errorf("value computed across invalidation was stored: got %q", v)
	}
}

func TestConcurrentMissesShareCompute(t *testing.T) {
	ctx := context.Background()
	c := cache.New()

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := c.FetchString(ctx, "k", time.Hour, compute); err != nil || v != "v" {
				t.Errorf("FetchString = %q, %v", v, err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("compute calls = %d, want 1", calls.Load())
	}
}

func TestSizeBound(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.WithSize(2))

	var calls atomic.Int64
	for _, k := range []string{"a", "b", "c"} {
		_, _ = c.FetchString(ctx, k, time.Hour, counter(&calls, k))
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	// "a" was least recently used and must be recomputed.
	_, _ = c.FetchString(ctx, "a", time.Hour, counter(&calls, "a"))
	if calls.Load() != 4 {
		t.Errorf("compute calls = %d, want 4", calls.Load())
	}
}

func TestFetchAsTypedNil(t *testing.T) {
	type row struct{ n int }
	ctx := context.Background()
	c := cache.New()

	var calls atomic.Int64
	absent := func(context.Context) (*row, error) {
		calls.Add(1)
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		got, err := cache.FetchAs(ctx, c, "row", time.Minute, absent)
		if err != nil || got != nil {
			t.Fatalf("FetchAs = %v, %v", got, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("absence was not cached: calls = %d", calls.Load())
	}
}

func TestCanceledCallerDoesNotFailSharedCompute(t *testing.T) {
	c := cache.New()

	var (
		calls   atomic.Int64
		once    sync.Once
		started = make(chan struct{})
		release = make(chan struct{})
	)
	compute := func(ctx context.Context) (string, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "v", nil
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.FetchString(ctxA, "k", time.Hour, compute)
		errA <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.FetchString(context.Background(), "k", time.Hour, compute)
		resB <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller error = %v, want context.Canceled", err)
	}

	close(release)
	r := <-resB
	if r.err != nil || r.v != "v" {
		t.Fatalf("waiting caller got %q, %v; want v, nil", r.v, r.err)
	}
	if calls.Load() != 1 {
		t.Errorf("compute calls = %d, want 1", calls.Load())
	}

	// The shared result was stored even though its first caller left.
	if v, _ := c.FetchString(context.Background(), "k", time.Hour, counter(&calls, "other")); v != "v" {
		t.Errorf("stored value = %q, want v", v)
	}
}

func TestStatsCountsCapacityEvictions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		run  func(c *cache.Cache)
		want uint64
	}{
		{
			name: "over capacity",
			run: func(c *cache.Cache) {
				var calls atomic.Int64
				for _, k := range []string{"a", "b", "c", "d"} {
					_, _ = c.FetchString(ctx, k, time.Hour, counter(&calls, k))
				}
			},
			want: 2,
		},
		{
			name: "invalidations are not evictions",
			run: func(c *cache.Cache) {
				var calls atomic.Int64
				for _, k := range []string{"policy:a", "policy:b"} {
					_, _ = c.FetchString(ctx, k, time.Hour, counter(&calls, k))
				}
				c.Invalidate("policy:a")
				c.InvalidatePrefix("policy:")
				_, _ = c.FetchString(ctx, "x", time.Hour, counter(&calls, "x"))
				c.Purge()
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cache.New(cache.WithSize(2))
			tt.run(c)
			if got := c.Stats().Evictions; got != tt.want {
				t.Errorf("Evictions = %d, want %d", got, tt.want)
			}
		})
	}
}
