// Package solrtest provides fake Solr nodes for tests.
//
package solrtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Metrics is a small but realistic sample of what a node renders under
// `/admin/metrics?wt=prometheus`.
//
const Metrics = `# HELP solr_metrics_jvm_threads JVM threads.
# TYPE solr_metrics_jvm_threads gauge
solr_metrics_jvm_threads{item="count"} 42
solr_metrics_jvm_threads{item="daemon.count"} 21
# HELP solr_metrics_core_requests_total Requests served by a core handler.
# TYPE solr_metrics_core_requests_total counter
solr_metrics_core_requests_total{core="techproducts_shard1_replica_n1",handler="/select"} 123
`

// SystemInfo mimics the relevant parts of `/admin/info/system?wt=json`.
//
const SystemInfo = `{
  "responseHeader": {"status": 0, "QTime": 3},
  "mode": "solrcloud",
  "node": "127.0.0.1:8983_solr",
  "lucene": {"solr-spec-version": "9.6.1", "lucene-spec-version": "9.10.0"},
  "jvm": {"version": "17.0.11 17.0.11+9", "name": "Eclipse Adoptium OpenJDK"}
}`

// Node is a fake Solr node served over HTTP.
//
type Node struct {
	server *httptest.Server

	mu      sync.Mutex
	delay   time.Duration
	status  int
	metrics string

	requests int32
}

type NodeOption func(n *Node)

// WithDelay makes the metrics endpoint take `d` before answering (or until
// the client gives up).
//
func WithDelay(d time.Duration) NodeOption {
	return func(n *Node) {
		n.delay = d
	}
}

// WithStatus makes every endpoint answer with `code`.
//
func WithStatus(code int) NodeOption {
	return func(n *Node) {
		n.status = code
	}
}

// WithMetrics replaces the exposition served by the metrics endpoint.
//
func WithMetrics(v string) NodeOption {
	return func(n *Node) {
		n.metrics = v
	}
}

// NewNode starts a fake node that is shut down when the test ends.
//
func NewNode(t testing.TB, opts ...NodeOption) *Node {
	n := &Node{
		status:  http.StatusOK,
		metrics: Metrics,
	}

	for _, opt := range opts {
		opt(n)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/solr/admin/metrics", n.handleMetrics)
	mux.HandleFunc("/solr/admin/info/system", n.handleSystemInfo)

	n.server = httptest.NewServer(mux)
	t.Cleanup(n.server.Close)

	return n
}

// BaseURL is the node's base url, as a resolver would report it.
//
func (n *Node) BaseURL() string {
	return n.server.URL + "/solr"
}

// SetDelay changes the delay of subsequent metrics requests.
//
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.delay = d
}

// Requests is the number of metrics requests received so far.
//
func (n *Node) Requests() int {
	return int(atomic.LoadInt32(&n.requests))
}

func (n *Node) handleMetrics(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&n.requests, 1)

	n.mu.Lock()
	delay, status, metrics := n.delay, n.status, n.metrics
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if r.URL.Query().Get("wt") != "prometheus" {
		http.Error(w, "expected wt=prometheus", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(status)
	fmt.Fprint(w, metrics)
}

func (n *Node) handleSystemInfo(w http.ResponseWriter, _ *http.Request) {
	n.mu.Lock()
	status := n.status
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, SystemInfo)
}
