package collector

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cirocosta/solr-exporter/pkg/scheduler"
	"github.com/cirocosta/solr-exporter/pkg/scraper"
)

type SchedulerCollector struct {
	stats    scheduler.Stats
	metricsC chan<- prometheus.Metric
}

var _ CustomCollector = (*SchedulerCollector)(nil)

func NewSchedulerCollector(
	stats scheduler.Stats, metricsC chan<- prometheus.Metric,
) *SchedulerCollector {
	return &SchedulerCollector{
		stats:    stats,
		metricsC: metricsC,
	}
}

func (c *SchedulerCollector) Name() string {
	return "scheduler"
}

func (c *SchedulerCollector) Collect(_ context.Context) error {
	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_ticks_total",
			"number of ticks of the collection timer",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(c.stats.Ticks),
	)

	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_ticks_skipped_total",
			"ticks skipped because a round was still in flight",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(c.stats.SkippedTicks),
	)

	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_resolution_failures_total",
			"rounds aborted because targets could not be resolved",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(c.stats.ResolutionFailures),
	)

	roundsDesc := prometheus.NewDesc(
		"solr_exporter_rounds_total",
		"rounds that ran to completion, by status",
		[]string{"status"}, nil,
	)

	for _, status := range scraper.Statuses {
		c.metricsC <- prometheus.MustNewConstMetric(
			roundsDesc,
			prometheus.CounterValue,
			float64(c.stats.Rounds[status]),
			string(status),
		)
	}

	return nil
}
