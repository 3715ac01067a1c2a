// Package snapshot holds the most recently completed collection round,
// handing it over from the scheduler (single writer) to however many
// readers are serving pull requests.
//
package snapshot

import (
	"sync/atomic"
	"time"

	"github.com/cirocosta/solr-exporter/pkg/scraper"
)

// Snapshot is the externally visible view of the live round.
//
type Snapshot struct {
	Round       *scraper.Round
	PublishedAt time.Time

	// Age is how long ago the round was published, as of the Read that
	// produced this snapshot.
	//
	Age time.Duration
}

type entry struct {
	round       *scraper.Round
	publishedAt time.Time
}

// Cache keeps the live round behind an atomic pointer: publishing is a
// single compare-and-swap and reading is a single load, so readers never
// wait on a writer.
//
type Cache struct {
	live atomic.Pointer[entry]

	// now is injectable for deterministic tests.
	//
	now func() time.Time
}

type Option func(c *Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Publish installs `round` as the live one, unless a round with the same or
// a higher id has already been published, in which case it is dropped.
//
// Returns whether `round` became live.
//
func (c *Cache) Publish(round *scraper.Round) bool {
	if round == nil {
		return false
	}

	next := &entry{round: round, publishedAt: c.now()}

	for {
		current := c.live.Load()
		if current != nil && current.round.ID >= round.ID {
			return false
		}

		if c.live.CompareAndSwap(current, next) {
			return true
		}
	}
}

// Read returns the live snapshot. The boolean is false until the first round
// gets published.
//
func (c *Cache) Read() (Snapshot, bool) {
	current := c.live.Load()
	if current == nil {
		return Snapshot{}, false
	}

	return Snapshot{
		Round:       current.round,
		PublishedAt: current.publishedAt,
		Age:         c.now().Sub(current.publishedAt),
	}, true
}

// LastID is the id of the live round, or zero if none was published yet.
//
func (c *Cache) LastID() uint64 {
	current := c.live.Load()
	if current == nil {
		return 0
	}

	return current.round.ID
}
