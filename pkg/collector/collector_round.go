package collector

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cirocosta/solr-exporter/pkg/scraper"
	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

// RoundCollector exposes metadata about the live round.
//
type RoundCollector struct {
	snapshot snapshot.Snapshot
	metricsC chan<- prometheus.Metric
}

var _ CustomCollector = (*RoundCollector)(nil)

func NewRoundCollector(
	snap snapshot.Snapshot, metricsC chan<- prometheus.Metric,
) *RoundCollector {
	return &RoundCollector{
		snapshot: snap,
		metricsC: metricsC,
	}
}

func (c *RoundCollector) Name() string {
	return "round"
}

func (c *RoundCollector) Collect(_ context.Context) error {
	round := c.snapshot.Round

	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_snapshot_age_seconds",
			"how long ago the live round was published",
			nil, nil,
		),
		prometheus.GaugeValue,
		c.snapshot.Age.Seconds(),
	)

	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_round_id",
			"id of the live round",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(round.ID),
	)

	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_round_duration_seconds",
			"how long the live round took from start to finish",
			nil, nil,
		),
		prometheus.GaugeValue,
		round.Duration().Seconds(),
	)

	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_round_targets",
			"number of targets in the live round",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(round.Results)),
	)

	c.metricsC <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			"solr_exporter_round_failed_targets",
			"number of targets that could not be scraped in the live round",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(round.Failed()),
	)

	statusDesc := prometheus.NewDesc(
		"solr_exporter_round_status",
		"status of the live round (1 for the current one)",
		[]string{"status"}, nil,
	)

	for _, status := range scraper.Statuses {
		var v float64
		if status == round.Status {
			v = 1
		}

		c.metricsC <- prometheus.MustNewConstMetric(
			statusDesc,
			prometheus.GaugeValue,
			v,
			string(status),
		)
	}

	return nil
}
