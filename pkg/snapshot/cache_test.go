package snapshot_test

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirocosta/solr-exporter/pkg/scraper"
	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

func round(id uint64) *scraper.Round {
	now := time.Now()
	return scraper.NewRound(id, now, now, nil)
}

func TestCache_NotInitialized(t *testing.T) {
	c := snapshot.New()

	snap, ok := c.Read()
	assert.False(t, ok)
	assert.Nil(t, snap.Round)
	assert.Zero(t, c.LastID())
}

func TestCache_PublishAndRead(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := snapshot.New(snapshot.WithClock(clock))
	require.True(t, c.Publish(round(1)))

	now = now.Add(3 * time.Second)

	snap, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Round.ID)
	assert.Equal(t, 3*time.Second, snap.Age)
}

func TestCache_Monotonic(t *testing.T) {
	c := snapshot.New()

	require.True(t, c.Publish(round(2)))
	assert.False(t, c.Publish(round(1)), "older round must be dropped")
	assert.False(t, c.Publish(round(2)), "same round must be dropped")
	assert.False(t, c.Publish(nil))

	snap, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Round.ID)

	require.True(t, c.Publish(round(5)))
	assert.Equal(t, uint64(5), c.LastID())
}

func TestCache_ConcurrentPublishers(t *testing.T) {
	const n = 500

	c := snapshot.New()

	ids := rand.Perm(n)
	var wg sync.WaitGroup

	stop := make(chan struct{})
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)

		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}

			snap, ok := c.Read()
			if !ok {
				continue
			}

			if snap.Round.ID < last {
				t.Errorf("read went backwards: %d after %d", snap.Round.ID, last)
				return
			}
			last = snap.Round.ID
		}
	}()

	for _, id := range ids {
		wg.Add(1)

		go func(id uint64) {
			defer wg.Done()
			c.Publish(round(id))
		}(uint64(id + 1))
	}

	wg.Wait()
	close(stop)
	<-readerDone

	assert.Equal(t, uint64(n), c.LastID())
}
