package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	// MetricsPath is queried with `wt=prometheus` so that the node renders
	// its metrics registry in the text exposition format.
	//
	MetricsPath = "/admin/metrics"

	// SystemInfoPath reports facts about the node (mode, versions, jvm).
	//
	SystemInfoPath = "/admin/info/system"
)

// probe is one request made against a target during its scrape.
//
type probe interface {
	Name() string
	Fetch(ctx context.Context, baseURL string) error
}

type metricsProbe struct {
	client *http.Client

	families map[string]*dto.MetricFamily
}

var _ probe = (*metricsProbe)(nil)

func (p *metricsProbe) Name() string {
	return "metrics"
}

func (p *metricsProbe) Fetch(ctx context.Context, baseURL string) error {
	body, err := get(ctx, p.client,
		baseURL+MetricsPath+"?wt=prometheus",
		string(expfmt.NewFormat(expfmt.TypeTextPlain)),
	)
	if err != nil {
		return err
	}
	defer body.Close()

	var parser expfmt.TextParser

	families, err := parser.TextToMetricFamilies(body)
	if err != nil && len(families) == 0 {
		return fmt.Errorf("parse exposition: %w", err)
	}

	p.families = families

	return nil
}

type systemInfoProbe struct {
	client *http.Client

	info NodeInfo
}

var _ probe = (*systemInfoProbe)(nil)

func (p *systemInfoProbe) Name() string {
	return "system_info"
}

func (p *systemInfoProbe) Fetch(ctx context.Context, baseURL string) error {
	body, err := get(ctx, p.client,
		baseURL+SystemInfoPath+"?wt=json",
		"application/json",
	)
	if err != nil {
		return err
	}
	defer body.Close()

	resp := struct {
		Mode   string `json:"mode"`
		Node   string `json:"node"`
		Lucene struct {
			SolrSpecVersion   string `json:"solr-spec-version"`
			LuceneSpecVersion string `json:"lucene-spec-version"`
		} `json:"lucene"`
		JVM struct {
			Version string `json:"version"`
		} `json:"jvm"`
	}{}

	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return fmt.Errorf("decode system info: %w", err)
	}

	p.info = NodeInfo{
		Mode:          resp.Mode,
		Node:          resp.Node,
		SolrVersion:   resp.Lucene.SolrSpecVersion,
		LuceneVersion: resp.Lucene.LuceneSpecVersion,
		JVMVersion:    resp.JVM.Version,
	}

	return nil
}

// get issues a GET against `url`, returning the body only for 200 OK
// responses. Callers must close the body.
//
func get(
	ctx context.Context, client *http.Client, url, accept string,
) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		return nil, fmt.Errorf("get '%s': unexpected status %d",
			url, resp.StatusCode)
	}

	return resp.Body, nil
}
