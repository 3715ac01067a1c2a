package collector_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirocosta/solr-exporter/internal/solrtest"
	"github.com/cirocosta/solr-exporter/pkg/collector"
	"github.com/cirocosta/solr-exporter/pkg/resolver"
	"github.com/cirocosta/solr-exporter/pkg/scheduler"
	"github.com/cirocosta/solr-exporter/pkg/scraper"
	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

const (
	nodeA = "http://solr-a:8983/solr"
	nodeB = "http://solr-b:8983/solr"
)

func parse(t *testing.T, text string) map[string]*dto.MetricFamily {
	t.Helper()

	var parser expfmt.TextParser

	families, err := parser.TextToMetricFamilies(strings.NewReader(text))
	require.NoError(t, err)

	return families
}

func okResult(t *testing.T, addr, text string) *scraper.TargetResult {
	return &scraper.TargetResult{
		Target:   resolver.Target{Address: addr, Role: resolver.RoleClusterNode},
		Families: parse(t, text),
		Info: scraper.NodeInfo{
			Mode:          "solrcloud",
			Node:          "solr-a:8983_solr",
			SolrVersion:   "9.6.1",
			LuceneVersion: "9.10.0",
			JVMVersion:    "17.0.11",
		},
		Duration: 20 * time.Millisecond,
	}
}

func failedResult(addr string) *scraper.TargetResult {
	return &scraper.TargetResult{
		Target:   resolver.Target{Address: addr, Role: resolver.RoleClusterNode},
		Duration: 10 * time.Second,
		Err: &scraper.TargetError{
			Address: addr,
			Kind:    scraper.KindTimeout,
		},
	}
}

func cacheWith(results ...*scraper.TargetResult) *snapshot.Cache {
	cache := snapshot.New()

	started := time.Now()
	cache.Publish(scraper.NewRound(3, started, started.Add(time.Second), results))

	return cache
}

func TestCollector_NoSnapshot(t *testing.T) {
	c := collector.New(snapshot.New(),
		collector.WithStats(func() scheduler.Stats { return scheduler.Stats{} }),
	)

	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCollector_EmptyRound(t *testing.T) {
	c := collector.New(cacheWith(),
		collector.WithStats(func() scheduler.Stats { return scheduler.Stats{} }),
	)

	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCollector_RelabelsNodeFamilies(t *testing.T) {
	c := collector.New(
		cacheWith(okResult(t, nodeA, solrtest.Metrics), failedResult(nodeB)),
		collector.WithClusterID("c0ffee"),
	)

	expected := `
# HELP solr_metrics_jvm_threads JVM threads.
# TYPE solr_metrics_jvm_threads gauge
solr_metrics_jvm_threads{base_url="http://solr-a:8983/solr",cluster_id="c0ffee",item="count"} 42
solr_metrics_jvm_threads{base_url="http://solr-a:8983/solr",cluster_id="c0ffee",item="daemon.count"} 21
# HELP solr_metrics_core_requests_total Requests served by a core handler.
# TYPE solr_metrics_core_requests_total counter
solr_metrics_core_requests_total{base_url="http://solr-a:8983/solr",cluster_id="c0ffee",core="techproducts_shard1_replica_n1",handler="/select"} 123
`

	assert.NoError(t, testutil.CollectAndCompare(c,
		strings.NewReader(expected),
		"solr_metrics_jvm_threads",
		"solr_metrics_core_requests_total",
	))
}

func TestCollector_KeepsReportedBaseURL(t *testing.T) {
	const text = `# HELP solr_ping ping.
# TYPE solr_ping gauge
solr_ping{base_url="http://elsewhere:8983/solr"} 1
`

	c := collector.New(cacheWith(okResult(t, nodeA, text)),
		collector.WithClusterID("c0ffee"),
	)

	expected := `
# HELP solr_ping ping.
# TYPE solr_ping gauge
solr_ping{base_url="http://elsewhere:8983/solr",cluster_id="c0ffee"} 1
`

	assert.NoError(t, testutil.CollectAndCompare(c,
		strings.NewReader(expected), "solr_ping"))
}

func TestCollector_TargetsAndInfo(t *testing.T) {
	c := collector.New(
		cacheWith(okResult(t, nodeA, solrtest.Metrics), failedResult(nodeB)),
	)

	expected := `
# HELP solr_exporter_target_up whether the target was scraped successfully in the live round
# TYPE solr_exporter_target_up gauge
solr_exporter_target_up{base_url="http://solr-a:8983/solr",error="",role="cluster-node"} 1
solr_exporter_target_up{base_url="http://solr-b:8983/solr",error="timeout",role="cluster-node"} 0
# HELP solr_node_info information about a solr node, always 1
# TYPE solr_node_info gauge
solr_node_info{base_url="http://solr-a:8983/solr",jvm_version="17.0.11",lucene_version="9.10.0",mode="solrcloud",node="solr-a:8983_solr",solr_version="9.6.1"} 1
`

	assert.NoError(t, testutil.CollectAndCompare(c,
		strings.NewReader(expected),
		"solr_exporter_target_up",
		"solr_node_info",
	))

	assert.Equal(t, 1, testutil.CollectAndCount(c,
		"solr_exporter_target_scrape_duration_seconds"))
}

func TestCollector_Round(t *testing.T) {
	c := collector.New(
		cacheWith(okResult(t, nodeA, solrtest.Metrics), failedResult(nodeB)),
	)

	expected := `
# HELP solr_exporter_round_id id of the live round
# TYPE solr_exporter_round_id gauge
solr_exporter_round_id 3
# HELP solr_exporter_round_duration_seconds how long the live round took from start to finish
# TYPE solr_exporter_round_duration_seconds gauge
solr_exporter_round_duration_seconds 1
# HELP solr_exporter_round_targets number of targets in the live round
# TYPE solr_exporter_round_targets gauge
solr_exporter_round_targets 2
# HELP solr_exporter_round_failed_targets number of targets that could not be scraped in the live round
# TYPE solr_exporter_round_failed_targets gauge
solr_exporter_round_failed_targets 1
# HELP solr_exporter_round_status status of the live round (1 for the current one)
# TYPE solr_exporter_round_status gauge
solr_exporter_round_status{status="COMPLETE"} 0
solr_exporter_round_status{status="FAILED"} 0
solr_exporter_round_status{status="PARTIAL"} 1
`

	assert.NoError(t, testutil.CollectAndCompare(c,
		strings.NewReader(expected),
		"solr_exporter_round_id",
		"solr_exporter_round_duration_seconds",
		"solr_exporter_round_targets",
		"solr_exporter_round_failed_targets",
		"solr_exporter_round_status",
	))
}

func TestCollector_SchedulerStats(t *testing.T) {
	c := collector.New(
		cacheWith(okResult(t, nodeA, solrtest.Metrics)),
		collector.WithStats(func() scheduler.Stats {
			return scheduler.Stats{
				Ticks:              10,
				SkippedTicks:       2,
				ResolutionFailures: 1,
				Rounds: map[scraper.Status]uint64{
					scraper.StatusComplete: 7,
				},
			}
		}),
	)

	expected := `
# HELP solr_exporter_ticks_skipped_total ticks skipped because a round was still in flight
# TYPE solr_exporter_ticks_skipped_total counter
solr_exporter_ticks_skipped_total 2
# HELP solr_exporter_resolution_failures_total rounds aborted because targets could not be resolved
# TYPE solr_exporter_resolution_failures_total counter
solr_exporter_resolution_failures_total 1
# HELP solr_exporter_rounds_total rounds that ran to completion, by status
# TYPE solr_exporter_rounds_total counter
solr_exporter_rounds_total{status="COMPLETE"} 7
solr_exporter_rounds_total{status="FAILED"} 0
solr_exporter_rounds_total{status="PARTIAL"} 0
`

	assert.NoError(t, testutil.CollectAndCompare(c,
		strings.NewReader(expected),
		"solr_exporter_ticks_skipped_total",
		"solr_exporter_resolution_failures_total",
		"solr_exporter_rounds_total",
	))
}

// The same family reported by several nodes is merged into one.
//
func TestCollector_MergesFamiliesAcrossNodes(t *testing.T) {
	registry := prometheus.NewRegistry()

	cache := cacheWith(
		okResult(t, nodeA, solrtest.Metrics),
		okResult(t, nodeB, solrtest.Metrics),
	)

	require.NoError(t, registry.Register(collector.New(cache,
		collector.WithClusterID("one"))))

	families, err := registry.Gather()
	require.NoError(t, err)

	var threads *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "solr_metrics_jvm_threads" {
			threads = family
		}
	}

	require.NotNil(t, threads)
	assert.Len(t, threads.GetMetric(), 4)
}

func TestConstMetric_SummaryAndHistogram(t *testing.T) {
	families := parse(t, `# HELP solr_qtime query time.
# TYPE solr_qtime summary
solr_qtime{quantile="0.5"} 3
solr_qtime{quantile="0.99"} 40
solr_qtime_sum 1200
solr_qtime_count 100
# HELP solr_size doc sizes.
# TYPE solr_size histogram
solr_size_bucket{le="10"} 2
solr_size_bucket{le="100"} 5
solr_size_bucket{le="+Inf"} 6
solr_size_sum 320
solr_size_count 6
`)

	extra := map[string]string{collector.LabelBaseURL: nodeA}

	summary := families["solr_qtime"]
	metric, err := collector.ConstMetric(summary, summary.GetMetric()[0], extra)
	require.NoError(t, err)

	var out dto.Metric
	require.NoError(t, metric.Write(&out))

	assert.Equal(t, uint64(100), out.GetSummary().GetSampleCount())
	assert.Equal(t, float64(1200), out.GetSummary().GetSampleSum())
	assert.Len(t, out.GetSummary().GetQuantile(), 2)
	require.Len(t, out.GetLabel(), 1)
	assert.Equal(t, collector.LabelBaseURL, out.GetLabel()[0].GetName())

	histogram := families["solr_size"]
	metric, err = collector.ConstMetric(histogram, histogram.GetMetric()[0], extra)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, metric.Write(&out))

	assert.Equal(t, uint64(6), out.GetHistogram().GetSampleCount())
	require.Len(t, out.GetHistogram().GetBucket(), 2)
	assert.Equal(t, uint64(5), out.GetHistogram().GetBucket()[1].GetCumulativeCount())
}

func TestConstMetric_Timestamp(t *testing.T) {
	families := parse(t, `# TYPE solr_up gauge
solr_up 1 1700000000000
`)

	family := families["solr_up"]
	metric, err := collector.ConstMetric(family, family.GetMetric()[0], nil)
	require.NoError(t, err)

	var out dto.Metric
	require.NoError(t, metric.Write(&out))
	assert.Equal(t, int64(1700000000000), out.GetTimestampMs())
}
