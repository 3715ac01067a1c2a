package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"

	"github.com/cirocosta/solr-exporter/pkg/resolver"
	"github.com/cirocosta/solr-exporter/pkg/scraper"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Collector performs one collection round against a set of targets.
//
type Collector interface {
	Collect(
		ctx context.Context, id uint64, targets []resolver.Target, timeout time.Duration,
	) *scraper.Round
}

// Publisher receives every round that ran to completion.
//
type Publisher interface {
	Publish(round *scraper.Round) bool
}

var (
	_ Collector = (*scraper.Scraper)(nil)
)

// State tells whether a round is in flight.
//
type State int32

const (
	StateIdle State = iota
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCollecting:
		return "COLLECTING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ShutdownTimeoutError is returned when a round was still in flight after
// the grace period given to Stop and had to be cancelled.
//
type ShutdownTimeoutError struct {
	RoundID uint64
	Err     error
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("round %d cancelled on shutdown: %v", e.RoundID, e.Err)
}

func (e *ShutdownTimeoutError) Unwrap() error {
	return e.Err
}

// Stats are counters about what the scheduler has been up to.
//
type Stats struct {
	Ticks              uint64
	SkippedTicks       uint64
	ResolutionFailures uint64
	Rounds             map[scraper.Status]uint64
}

// Scheduler triggers a collection round at every tick of a fixed-interval
// timer, making sure that there's never more than one round in flight: a
// tick that fires while a round is still going is skipped, not queued.
//
type Scheduler struct {
	resolver  resolver.Resolver
	collector Collector
	publisher Publisher

	interval time.Duration
	timeout  time.Duration

	// inFlight is a single-slot semaphore held for the whole duration of
	// a round.
	//
	inFlight *semaphore.Weighted
	state    atomic.Int32
	lastID   atomic.Uint64

	ticks              atomic.Uint64
	skippedTicks       atomic.Uint64
	resolutionFailures atomic.Uint64
	rounds             map[scraper.Status]*atomic.Uint64

	startOnce sync.Once
	haltOnce  sync.Once

	// roundsCtx is handed to every round; cancelling it aborts whatever
	// is in flight.
	//
	roundsCtx    context.Context
	cancelRounds context.CancelFunc

	stopC      chan struct{}
	tickerDone chan struct{}
	roundsWg   sync.WaitGroup

	log logr.Logger
}

// Option is a type used by functional arguments to mutate the scheduler to
// override default behavior.
//
type Option func(s *Scheduler)

// WithInterval sets the amount of time between ticks.
//
func WithInterval(v time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = v
	}
}

// WithTimeout sets the per-target deadline used in every round.
//
func WithTimeout(v time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = v
	}
}

func WithLogger(v logr.Logger) Option {
	return func(s *Scheduler) {
		s.log = v
	}
}

func New(
	r resolver.Resolver, c Collector, p Publisher, opts ...Option,
) *Scheduler {
	s := &Scheduler{
		resolver:   r,
		collector:  c,
		publisher:  p,
		interval:   DefaultInterval,
		timeout:    DefaultTimeout,
		inFlight:   semaphore.NewWeighted(1),
		rounds:     map[scraper.Status]*atomic.Uint64{},
		stopC:      make(chan struct{}),
		tickerDone: make(chan struct{}),
		log:        logr.Discard(),
	}

	for _, status := range scraper.Statuses {
		s.rounds[status] = new(atomic.Uint64)
	}

	for _, opt := range opts {
		opt(s)
	}

	s.roundsCtx, s.cancelRounds = context.WithCancel(context.Background())

	return s
}

// Start kicks off the timer. The first round is triggered right away.
//
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.log.Info("starting",
			"interval", s.interval,
			"timeout", s.timeout,
		)

		go s.loop()
	})
}

// Stop halts the timer and drains the in-flight round, if any.
//
func (s *Scheduler) Stop(ctx context.Context) error {
	s.Halt()
	return s.Drain(ctx)
}

// Halt stops the timer: no new round gets started after Halt returns.
//
func (s *Scheduler) Halt() {
	s.haltOnce.Do(func() {
		close(s.stopC)

		started := true
		s.startOnce.Do(func() {
			started = false
		})

		if started {
			<-s.tickerDone
		}
	})
}

// Drain waits for the in-flight round to finish. If `ctx` is done before
// that, the round is cancelled (never making it to the publisher) and a
// ShutdownTimeoutError is returned.
//
// Drain must only be called after Halt.
//
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.roundsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelRounds()
		return nil
	case <-ctx.Done():
	}

	// nothing in flight: an expired ctx is not a timeout.
	if s.inFlight.TryAcquire(1) {
		s.inFlight.Release(1)
		s.cancelRounds()
		<-done
		return nil
	}

	id := s.lastID.Load()

	s.log.Info("cancelling in-flight round", "round", id)
	s.cancelRounds()
	<-done

	return &ShutdownTimeoutError{RoundID: id, Err: ctx.Err()}
}

// State reports whether a round is currently in flight.
//
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) Stats() Stats {
	stats := Stats{
		Ticks:              s.ticks.Load(),
		SkippedTicks:       s.skippedTicks.Load(),
		ResolutionFailures: s.resolutionFailures.Load(),
		Rounds:             make(map[scraper.Status]uint64, len(s.rounds)),
	}

	for status, counter := range s.rounds {
		stats.Rounds[status] = counter.Load()
	}

	return stats
}

func (s *Scheduler) loop() {
	defer close(s.tickerDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()

	for {
		select {
		case <-s.stopC:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick dispatches a round unless one is already in flight.
//
func (s *Scheduler) tick() {
	select {
	case <-s.stopC:
		return
	default:
	}

	s.ticks.Add(1)

	if !s.inFlight.TryAcquire(1) {
		s.skippedTicks.Add(1)
		s.log.V(1).Info("skipping tick: previous round still in flight",
			"round", s.lastID.Load(),
		)

		return
	}

	s.state.Store(int32(StateCollecting))
	s.roundsWg.Add(1)

	go func() {
		defer s.roundsWg.Done()
		defer s.inFlight.Release(1)
		defer s.state.Store(int32(StateIdle))

		s.runRound(s.roundsCtx)
	}()
}

func (s *Scheduler) runRound(ctx context.Context) {
	id := s.lastID.Add(1)
	log := s.log.WithValues("round", id)

	targets, err := s.resolver.Resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("round abandoned while resolving targets")
			return
		}

		s.resolutionFailures.Add(1)
		log.Error(err, "resolve targets")

		return
	}

	round := s.collector.Collect(ctx, id, targets, s.timeout)
	if ctx.Err() != nil {
		log.Info("discarding cancelled round")
		return
	}

	s.rounds[round.Status].Add(1)

	published := s.publisher.Publish(round)

	log.V(1).Info("round finished",
		"status", round.Status,
		"targets", len(round.Results),
		"failed", round.Failed(),
		"duration", round.Duration(),
		"published", published,
	)
}
