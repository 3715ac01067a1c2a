package collector

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

// TargetsCollector exposes per-target health of the live round.
//
type TargetsCollector struct {
	snapshot snapshot.Snapshot
	metricsC chan<- prometheus.Metric
}

var _ CustomCollector = (*TargetsCollector)(nil)

func NewTargetsCollector(
	snap snapshot.Snapshot, metricsC chan<- prometheus.Metric,
) *TargetsCollector {
	return &TargetsCollector{
		snapshot: snap,
		metricsC: metricsC,
	}
}

func (c *TargetsCollector) Name() string {
	return "targets"
}

func (c *TargetsCollector) Collect(_ context.Context) error {
	c.collectUp()
	c.collectDurations()

	return nil
}

func (c *TargetsCollector) collectUp() {
	desc := prometheus.NewDesc(
		"solr_exporter_target_up",
		"whether the target was scraped successfully in the live round",
		[]string{"base_url", "role", "error"}, nil,
	)

	for _, res := range c.snapshot.Round.Results {
		var (
			up   float64 = 1
			kind string
		)

		if !res.OK() {
			up = 0
			kind = string(res.Err.Kind)
		}

		c.metricsC <- prometheus.MustNewConstMetric(
			desc,
			prometheus.GaugeValue,
			up,
			res.Target.Address,
			string(res.Target.Role),
			kind,
		)
	}
}

func (c *TargetsCollector) collectDurations() {
	summary := NewSummary()
	for _, res := range c.snapshot.Round.Results {
		summary.Insert(res.Duration.Seconds())
	}

	c.metricsC <- prometheus.MustNewConstSummary(
		prometheus.NewDesc(
			"solr_exporter_target_scrape_duration_seconds",
			"distribution of the time taken to scrape each target",
			nil, nil,
		),
		summary.Count(), summary.Sum(), summary.Quantiles(),
	)
}
