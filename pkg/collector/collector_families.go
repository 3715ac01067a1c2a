package collector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

// FamiliesCollector re-emits the metric families parsed from every target
// that was scraped successfully, tagging each series with the cluster id
// and the target's base url.
//
type FamiliesCollector struct {
	snapshot  snapshot.Snapshot
	clusterID string
	metricsC  chan<- prometheus.Metric
}

var _ CustomCollector = (*FamiliesCollector)(nil)

func NewFamiliesCollector(
	snap snapshot.Snapshot, clusterID string, metricsC chan<- prometheus.Metric,
) *FamiliesCollector {
	return &FamiliesCollector{
		snapshot:  snap,
		clusterID: clusterID,
		metricsC:  metricsC,
	}
}

func (c *FamiliesCollector) Name() string {
	return "families"
}

func (c *FamiliesCollector) Collect(ctx context.Context) error {
	var failed int

	for _, res := range c.snapshot.Round.Results {
		if !res.OK() {
			continue
		}

		extra := map[string]string{
			LabelClusterID: c.clusterID,
			LabelBaseURL:   res.Target.Address,
		}

		for _, family := range sortedFamilies(res.Families) {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("families of '%s': %w",
					res.Target.Address, err)
			}

			for _, m := range family.GetMetric() {
				metric, err := ConstMetric(family, m, extra)
				if err != nil {
					failed++
					continue
				}

				c.metricsC <- metric
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d series could not be converted", failed)
	}

	return nil
}

// ConstMetric turns a single parsed series into a prometheus const metric.
// Labels in `extra` are appended unless the series already carries a label
// with the same name.
//
func ConstMetric(
	family *dto.MetricFamily, m *dto.Metric, extra map[string]string,
) (prometheus.Metric, error) {
	names, values := labelPairs(m.GetLabel(), extra)

	desc := prometheus.NewDesc(
		family.GetName(), family.GetHelp(), names, nil,
	)

	var (
		metric prometheus.Metric
		err    error
	)

	switch family.GetType() {
	case dto.MetricType_COUNTER:
		metric, err = prometheus.NewConstMetric(desc,
			prometheus.CounterValue, m.GetCounter().GetValue(), values...)
	case dto.MetricType_GAUGE:
		metric, err = prometheus.NewConstMetric(desc,
			prometheus.GaugeValue, m.GetGauge().GetValue(), values...)
	case dto.MetricType_UNTYPED:
		metric, err = prometheus.NewConstMetric(desc,
			prometheus.UntypedValue, m.GetUntyped().GetValue(), values...)
	case dto.MetricType_SUMMARY:
		s := m.GetSummary()

		quantiles := make(map[float64]float64, len(s.GetQuantile()))
		for _, q := range s.GetQuantile() {
			quantiles[q.GetQuantile()] = q.GetValue()
		}

		metric, err = prometheus.NewConstSummary(desc,
			s.GetSampleCount(), s.GetSampleSum(), quantiles, values...)
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()

		buckets := make(map[float64]uint64, len(h.GetBucket()))
		for _, b := range h.GetBucket() {
			if math.IsInf(b.GetUpperBound(), +1) {
				continue
			}

			buckets[b.GetUpperBound()] = b.GetCumulativeCount()
		}

		metric, err = prometheus.NewConstHistogram(desc,
			h.GetSampleCount(), h.GetSampleSum(), buckets, values...)
	default:
		return nil, fmt.Errorf("%s: unsupported type %s",
			family.GetName(), family.GetType())
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", family.GetName(), err)
	}

	if m.TimestampMs != nil {
		metric = prometheus.NewMetricWithTimestamp(
			time.UnixMilli(m.GetTimestampMs()), metric,
		)
	}

	return metric, nil
}

func labelPairs(
	pairs []*dto.LabelPair, extra map[string]string,
) (names, values []string) {
	present := make(map[string]struct{}, len(pairs))

	for _, lp := range pairs {
		present[lp.GetName()] = struct{}{}
		names = append(names, lp.GetName())
		values = append(values, lp.GetValue())
	}

	extraNames := make([]string, 0, len(extra))
	for name := range extra {
		if _, found := present[name]; !found {
			extraNames = append(extraNames, name)
		}
	}

	sort.Strings(extraNames)

	for _, name := range extraNames {
		names = append(names, name)
		values = append(values, extra[name])
	}

	return names, values
}

func sortedFamilies(families map[string]*dto.MetricFamily) []*dto.MetricFamily {
	res := make([]*dto.MetricFamily, 0, len(families))
	for _, family := range families {
		res = append(res, family)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].GetName() < res[j].GetName()
	})

	return res
}
