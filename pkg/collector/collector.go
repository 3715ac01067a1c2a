package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cirocosta/solr-exporter/pkg/scheduler"
	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

const (
	// LabelClusterID and LabelBaseURL are added to every series re-emitted
	// from a node, unless the node already reports them.
	//
	LabelClusterID = "cluster_id"
	LabelBaseURL   = "base_url"

	collectTimeout = 30 * time.Second
)

// SnapshotReader gives access to the live snapshot.
//
type SnapshotReader interface {
	Read() (snapshot.Snapshot, bool)
}

// StatsFunc provides the scheduler counters to expose alongside the round.
//
type StatsFunc func() scheduler.Stats

var _ SnapshotReader = (*snapshot.Cache)(nil)

// Collector implements the prometheus Collector interface, rendering the
// live snapshot whenever a pull request is received.
//
// It never talks to Solr itself: everything it emits comes from the round
// that the scheduler last published.
//
type Collector struct {
	snapshots SnapshotReader

	// clusterID is attached to every node series so that multiple
	// exporters can be told apart.
	//
	clusterID string

	// stats, if set, adds the scheduler counters to the output.
	//
	stats StatsFunc

	log logr.Logger
}

// ensure that we implement prometheus' collector interface.
//
var _ prometheus.Collector = &Collector{}

// Option is a type used by functional arguments to mutate the collector to
// override default behavior.
//
type Option func(c *Collector)

func WithClusterID(v string) Option {
	return func(c *Collector) {
		c.clusterID = v
	}
}

// WithStats is a functional argument that makes the collector expose the
// counters returned by `v`.
//
func WithStats(v StatsFunc) Option {
	return func(c *Collector) {
		c.stats = v
	}
}

func WithLogger(v logr.Logger) Option {
	return func(c *Collector) {
		c.log = v
	}
}

func New(snapshots SnapshotReader, opts ...Option) *Collector {
	c := &Collector{
		snapshots: snapshots,
		log:       logr.Discard(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Describe implements the Describe function of the Collector interface.
//
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	// The set of families depends on what the nodes report, so the
	// collector stays unchecked and describes nothing.
}

// CustomCollector is implemented by each of the pieces that render a part
// of the snapshot.
//
type CustomCollector interface {
	Name() string
	Collect(ctx context.Context) error
}

// Collect implements the Collect function of the Collector interface.
//
// Before the first round, or while the live round has no targets, nothing
// is emitted.
//
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap, ok := c.snapshots.Read()
	if !ok || len(snap.Round.Results) == 0 {
		return
	}

	var g *errgroup.Group

	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	g, ctx = errgroup.WithContext(ctx)

	collectors := []CustomCollector{
		NewFamiliesCollector(snap, c.clusterID, ch),
		NewNodeInfoCollector(snap, ch),
		NewRoundCollector(snap, ch),
		NewTargetsCollector(snap, ch),
	}

	if c.stats != nil {
		collectors = append(collectors, NewSchedulerCollector(c.stats(), ch))
	}

	for _, collector := range collectors {
		collector := collector

		g.Go(func() error {
			if err := collector.Collect(ctx); err != nil {
				return fmt.Errorf("%s collect: %w",
					collector.Name(), err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.log.Error(err, "wait", "round", snap.Round.ID)
	}
}
