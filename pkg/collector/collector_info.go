package collector

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

// NodeInfoCollector exposes what each node told us about itself.
//
type NodeInfoCollector struct {
	snapshot snapshot.Snapshot
	metricsC chan<- prometheus.Metric
}

var _ CustomCollector = (*NodeInfoCollector)(nil)

func NewNodeInfoCollector(
	snap snapshot.Snapshot, metricsC chan<- prometheus.Metric,
) *NodeInfoCollector {
	return &NodeInfoCollector{
		snapshot: snap,
		metricsC: metricsC,
	}
}

func (c *NodeInfoCollector) Name() string {
	return "info"
}

func (c *NodeInfoCollector) Collect(_ context.Context) error {
	desc := prometheus.NewDesc(
		"solr_node_info",
		"information about a solr node, always 1",
		[]string{
			"base_url", "mode", "node",
			"solr_version", "lucene_version", "jvm_version",
		}, nil,
	)

	for _, res := range c.snapshot.Round.Results {
		if !res.OK() {
			continue
		}

		c.metricsC <- prometheus.MustNewConstMetric(
			desc,
			prometheus.GaugeValue,
			1,
			res.Target.Address,
			res.Info.Mode,
			res.Info.Node,
			res.Info.SolrVersion,
			res.Info.LuceneVersion,
			res.Info.JVMVersion,
		)
	}

	return nil
}
