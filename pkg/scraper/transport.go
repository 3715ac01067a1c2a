package scraper

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
)

// TransportConfig carries the optional credentials used when talking to
// Solr nodes.
//
type TransportConfig struct {
	Username string
	Password string

	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// basicAuthRoundTripper injects basic-auth credentials into every outgoing
// request.
//
type basicAuthRoundTripper struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)

	return t.base.RoundTrip(req)
}

func (t *basicAuthRoundTripper) CloseIdleConnections() {
	if closer, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// NewHTTPClient builds the client shared by every target scrape.
//
// No client-wide timeout is set: each request is bounded by the per-target
// deadline carried in its context.
//
func NewHTTPClient(cfg TransportConfig, workers int) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}

		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs found in ca file '%s'",
				cfg.CAFile)
		}

		tlsCfg.RootCAs = pool
	}

	var transport http.RoundTripper = newTransport(tlsCfg, workers)

	if cfg.Username != "" {
		transport = &basicAuthRoundTripper{
			base:     transport,
			username: cfg.Username,
			password: cfg.Password,
		}
	}

	return &http.Client{Transport: transport}, nil
}

func newTransport(tlsCfg *tls.Config, workers int) *http.Transport {
	if workers < 1 {
		workers = 1
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsCfg,
		MaxIdleConnsPerHost: workers,
	}
}
