package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirocosta/solr-exporter/pkg/resolver"
	"github.com/cirocosta/solr-exporter/pkg/scheduler"
	"github.com/cirocosta/solr-exporter/pkg/scraper"
	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

type staticResolver struct {
	mu      sync.Mutex
	err     error
	targets []resolver.Target
}

func (r *staticResolver) Resolve(ctx context.Context) ([]resolver.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	return r.targets, nil
}

func (r *staticResolver) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}

// fakeCollector produces a successful round for every target after `delay`,
// or returns as soon as the round context gets cancelled.
//
type fakeCollector struct {
	delay atomic.Int64

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *fakeCollector) setDelay(d time.Duration) {
	c.delay.Store(int64(d))
}

func (c *fakeCollector) Collect(
	ctx context.Context, id uint64, targets []resolver.Target, timeout time.Duration,
) *scraper.Round {
	c.calls.Add(1)

	current := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	for {
		prev := c.maxInFlight.Load()
		if current <= prev || c.maxInFlight.CompareAndSwap(prev, current) {
			break
		}
	}

	started := time.Now()

	select {
	case <-time.After(time.Duration(c.delay.Load())):
	case <-ctx.Done():
	}

	results := make([]*scraper.TargetResult, len(targets))
	for idx, target := range targets {
		results[idx] = &scraper.TargetResult{Target: target}
	}

	return scraper.NewRound(id, started, time.Now(), results)
}

func targets() []resolver.Target {
	return []resolver.Target{
		{Address: "http://solr:8983/solr", Role: resolver.RoleStandalone},
	}
}

func TestScheduler_FirstTickIsImmediate(t *testing.T) {
	cache := snapshot.New()
	s := scheduler.New(
		&staticResolver{targets: targets()},
		&fakeCollector{},
		cache,
		scheduler.WithInterval(time.Hour),
	)

	s.Start()
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		return cache.LastID() == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, ok := cache.Read()
	require.True(t, ok)
	assert.Equal(t, scraper.StatusComplete, snap.Round.Status)
	assert.Equal(t, uint64(1), s.Stats().Rounds[scraper.StatusComplete])
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	collector := &fakeCollector{}
	collector.setDelay(100 * time.Millisecond)

	cache := snapshot.New()
	s := scheduler.New(
		&staticResolver{targets: targets()},
		collector,
		cache,
		scheduler.WithInterval(10*time.Millisecond),
	)

	s.Start()
	time.Sleep(350 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	stats := s.Stats()

	assert.Equal(t, int32(1), collector.maxInFlight.Load())
	assert.Greater(t, stats.SkippedTicks, uint64(0))
	assert.Equal(t, stats.Ticks-stats.SkippedTicks, uint64(collector.calls.Load()))
	assert.Equal(t, uint64(collector.calls.Load()), cache.LastID())
	assert.Equal(t, scheduler.StateIdle, s.State())
}

func TestScheduler_ResolutionFailureKeepsPreviousSnapshot(t *testing.T) {
	r := &staticResolver{targets: targets()}
	cache := snapshot.New()

	s := scheduler.New(r, &fakeCollector{}, cache,
		scheduler.WithInterval(20*time.Millisecond),
	)

	s.Start()
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		return cache.LastID() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	r.setErr(&resolver.ResolutionError{
		Mode: resolver.ModeCluster,
		Err:  errors.New("session expired"),
	})

	require.Eventually(t, func() bool {
		return s.Stats().ResolutionFailures >= 2
	}, 2*time.Second, 5*time.Millisecond)

	last := cache.LastID()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, last, cache.LastID(), "no round published while failing")

	snap, ok := cache.Read()
	require.True(t, ok)
	assert.Equal(t, scraper.StatusComplete, snap.Round.Status)

	r.setErr(nil)

	require.Eventually(t, func() bool {
		return cache.LastID() > last
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_EmptyTargetsPublishesFailedRound(t *testing.T) {
	cache := snapshot.New()
	s := scheduler.New(&staticResolver{}, &fakeCollector{}, cache,
		scheduler.WithInterval(time.Hour),
	)

	s.Start()
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool {
		return cache.LastID() == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, _ := cache.Read()
	assert.Equal(t, scraper.StatusFailed, snap.Round.Status)
	assert.Empty(t, snap.Round.Results)
}

// A round stalled past the grace period gets cancelled and never replaces
// the live snapshot.
//
func TestScheduler_StopCancelsStalledRound(t *testing.T) {
	collector := &fakeCollector{}
	cache := snapshot.New()

	s := scheduler.New(&staticResolver{targets: targets()}, collector, cache,
		scheduler.WithInterval(20*time.Millisecond),
	)

	s.Start()

	require.Eventually(t, func() bool {
		return cache.LastID() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	collector.setDelay(time.Hour)
	callsBefore := collector.calls.Load()

	require.Eventually(t, func() bool {
		return collector.calls.Load() > callsBefore &&
			collector.inFlight.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := s.Stop(ctx)

	assert.Less(t, time.Since(started), 2*time.Second)

	var timeoutErr *scheduler.ShutdownTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Less(t, cache.LastID(), timeoutErr.RoundID,
		"cancelled round must not be published")
	assert.Equal(t, int32(0), collector.inFlight.Load())
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := scheduler.New(&staticResolver{targets: targets()}, &fakeCollector{},
		snapshot.New(), scheduler.WithInterval(time.Hour),
	)

	s.Start()

	assert.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := scheduler.New(&staticResolver{}, &fakeCollector{}, snapshot.New())

	assert.NoError(t, s.Stop(context.Background()))

	// starting after a stop is a no-op
	s.Start()
	assert.Zero(t, s.Stats().Ticks)
}

func TestScheduler_DrainWithExpiredContextAndNothingInFlight(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		s := scheduler.New(&staticResolver{}, &fakeCollector{}, snapshot.New())

		s.Halt()
		require.NoError(t, s.Drain(expired))
	}

	s := scheduler.New(&staticResolver{targets: targets()}, &fakeCollector{},
		snapshot.New(), scheduler.WithInterval(time.Hour),
	)

	s.Start()
	require.Eventually(t, func() bool {
		return s.Stats().Rounds[scraper.StatusComplete] == 1
	}, 2*time.Second, 5*time.Millisecond)

	// let the round goroutine unwind
	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, s.Stop(expired))
	assert.NoError(t, s.Stop(expired))
}
