package scraper

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/cirocosta/solr-exporter/pkg/resolver"
)

// Scraper collects metrics from a set of Solr nodes.
//
type Scraper struct {
	// client is shared across every target so that connections get
	// reused between rounds.
	//
	client *http.Client

	// workers bounds how many targets are scraped at the same time.
	//
	workers int

	log logr.Logger
}

// Option is a type used by functional arguments to mutate the scraper to
// override default behavior.
//
type Option func(s *Scraper)

// WithWorkers sets how many targets may be scraped concurrently.
//
func WithWorkers(v int) Option {
	return func(s *Scraper) {
		s.workers = v
	}
}

// WithHTTPClient overrides the default client (no credentials, no tls
// customization).
//
func WithHTTPClient(v *http.Client) Option {
	return func(s *Scraper) {
		s.client = v
	}
}

func WithLogger(v logr.Logger) Option {
	return func(s *Scraper) {
		s.log = v
	}
}

func New(opts ...Option) *Scraper {
	s := &Scraper{
		workers: 1,
		log:     logr.Discard(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.workers < 1 {
		s.workers = 1
	}

	if s.client == nil {
		s.client = &http.Client{
			Transport: newTransport(&tls.Config{}, s.workers),
		}
	}

	return s
}

// Collect scrapes every target, at most `workers` at a time, each bounded by
// `timeout`, and returns the resulting round.
//
// Collect never fails as a whole: targets that could not be scraped are
// reported as such in their results. Cancelling `ctx` makes every
// outstanding scrape fail promptly.
//
func (s *Scraper) Collect(
	ctx context.Context, id uint64, targets []resolver.Target, timeout time.Duration,
) *Round {
	startedAt := time.Now()
	results := make([]*TargetResult, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for idx, target := range targets {
		idx, target := idx, target

		g.Go(func() error {
			results[idx] = s.scrapeTarget(ctx, target, timeout)
			return nil
		})
	}

	_ = g.Wait()

	return NewRound(id, startedAt, time.Now(), results)
}

func (s *Scraper) scrapeTarget(
	ctx context.Context, target resolver.Target, timeout time.Duration,
) *TargetResult {
	targetCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	res := &TargetResult{Target: target}

	metrics := &metricsProbe{client: s.client}
	sysInfo := &systemInfoProbe{client: s.client}

	g, gctx := errgroup.WithContext(targetCtx)

	for _, p := range []probe{metrics, sysInfo} {
		p := p

		g.Go(func() error {
			if err := p.Fetch(gctx, target.Address); err != nil {
				return fmt.Errorf("%s fetch: %w", p.Name(), err)
			}

			return nil
		})
	}

	err := g.Wait()
	res.Duration = time.Since(started)

	if err != nil {
		res.Err = classify(ctx, targetCtx, target.Address, err)
		s.log.V(1).Info("target failed",
			"target", target.Address,
			"kind", res.Err.Kind,
			"err", err.Error(),
		)

		return res
	}

	res.Families = metrics.families
	res.Info = sysInfo.info

	return res
}

// Close releases idle connections held by the transport.
//
func (s *Scraper) Close() {
	s.client.CloseIdleConnections()
}
