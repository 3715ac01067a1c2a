package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cirocosta/solr-exporter/pkg/collector"
	"github.com/cirocosta/solr-exporter/pkg/resolver"
	"github.com/cirocosta/solr-exporter/pkg/scheduler"
	"github.com/cirocosta/solr-exporter/pkg/scraper"
	"github.com/cirocosta/solr-exporter/pkg/snapshot"
)

const (
	DefaultListenAddress = ":8989"
	DefaultTelemetryPath = "/metrics"
	DefaultGracePeriod   = 10 * time.Second
)

// State is where an exporter is in its lifecycle.
//
//	STOPPED -> STARTING -> RUNNING -> STOPPING -> STOPPED
//
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StartupError is returned by Start when the exporter could not be brought
// up. Nothing is left running when it's returned.
//
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup: %v", e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Exporter is responsible for periodically scraping a set of Solr nodes and
// bringing up a web server that serves what was last scraped.
//
type Exporter struct {
	// listenAddress is the full address used by prometheus
	// to listen for scraping requests.
	//
	// Examples:
	// - :8989
	// - 127.0.0.2:1313
	//
	listenAddress string

	// telemetryPath configures the path under which
	// the prometheus metrics are reported.
	//
	// For instance:
	// - /metrics
	// - /telemetry
	//
	telemetryPath string

	// baseURL and zkHost describe the topology: either a single node, or
	// a SolrCloud cluster whose live nodes are discovered through
	// ZooKeeper.
	//
	baseURL string
	zkHost  string

	interval    time.Duration
	timeout     time.Duration
	gracePeriod time.Duration
	workers     int
	clusterID   string
	transport   scraper.TransportConfig

	// resolver, if set, is used instead of one built out of `baseURL` or
	// `zkHost`.
	//
	resolver resolver.Resolver

	log logr.Logger

	mu    sync.Mutex
	state State
	run   *instance
}

// instance holds everything that lives between a Start and a Stop.
//
type instance struct {
	resolver  resolver.Resolver
	closer    io.Closer
	scraper   *scraper.Scraper
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
	collector *collector.Collector
	listener  net.Listener
	server    *http.Server

	// serveErr receives the error that made the server stop serving
	// before being asked to.
	//
	serveErr chan error

	// stopped is closed once Stop has released everything.
	//
	stopped chan struct{}
}

// Option is a type used by functional arguments to mutate the exporter to
// override default behavior.
//
type Option func(e *Exporter)

func WithListenAddress(v string) Option {
	return func(e *Exporter) {
		e.listenAddress = v
	}
}

func WithTelemetryPath(v string) Option {
	return func(e *Exporter) {
		e.telemetryPath = v
	}
}

// WithBaseURL targets a single node.
//
func WithBaseURL(v string) Option {
	return func(e *Exporter) {
		e.baseURL = v
	}
}

// WithZkHost targets every live node of a SolrCloud cluster.
//
func WithZkHost(v string) Option {
	return func(e *Exporter) {
		e.zkHost = v
	}
}

func WithScrapeInterval(v time.Duration) Option {
	return func(e *Exporter) {
		e.interval = v
	}
}

// WithScrapeTimeout sets the deadline for scraping a single target.
//
func WithScrapeTimeout(v time.Duration) Option {
	return func(e *Exporter) {
		e.timeout = v
	}
}

// WithGracePeriod sets for how long Stop waits on an in-flight round before
// cancelling it.
//
func WithGracePeriod(v time.Duration) Option {
	return func(e *Exporter) {
		e.gracePeriod = v
	}
}

func WithWorkers(v int) Option {
	return func(e *Exporter) {
		e.workers = v
	}
}

// WithClusterID overrides the id derived from the topology.
//
func WithClusterID(v string) Option {
	return func(e *Exporter) {
		e.clusterID = v
	}
}

func WithTransport(v scraper.TransportConfig) Option {
	return func(e *Exporter) {
		e.transport = v
	}
}

func WithResolver(v resolver.Resolver) Option {
	return func(e *Exporter) {
		e.resolver = v
	}
}

func WithLogger(v logr.Logger) Option {
	return func(e *Exporter) {
		e.log = v
	}
}

func New(opts ...Option) (*Exporter, error) {
	defaultLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("zap new development: %w", err)
	}

	e := &Exporter{
		listenAddress: DefaultListenAddress,
		telemetryPath: DefaultTelemetryPath,
		interval:      scheduler.DefaultInterval,
		timeout:       scheduler.DefaultTimeout,
		gracePeriod:   DefaultGracePeriod,
		workers:       1,
		log:           zapr.NewLogger(defaultLogger.Named("exporter")),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// DefaultClusterID derives a short, stable id out of whatever identifies the
// topology (zk host or base url).
//
func DefaultClusterID(source string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(source))[:10]
}

// State reports where the exporter is in its lifecycle.
//
func (e *Exporter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Addr is the address the server is bound to, or nil if not running.
//
func (e *Exporter) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil {
		return nil
	}

	return e.run.listener.Addr()
}

// Start brings the exporter up: the server starts accepting pull requests
// right away (with an empty body until the first round completes) and the
// first round is triggered immediately.
//
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateStopped {
		return fmt.Errorf("start: exporter is %s", e.state)
	}

	e.state = StateStarting

	run := &instance{
		serveErr: make(chan error, 1),
		stopped:  make(chan struct{}),
	}
	if err := e.start(run); err != nil {
		_ = e.release(run)
		e.state = StateStopped

		return &StartupError{Err: err}
	}

	e.run = run
	e.state = StateRunning

	return nil
}

func (e *Exporter) start(run *instance) error {
	if err := e.validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	clusterID := e.clusterID
	if clusterID == "" {
		clusterID = DefaultClusterID(e.zkHost + e.baseURL)
	}

	log := e.log.WithValues("cluster_id", clusterID)

	if err := e.buildResolver(run, log); err != nil {
		return fmt.Errorf("build resolver: %w", err)
	}

	client, err := scraper.NewHTTPClient(e.transport, e.workers)
	if err != nil {
		return fmt.Errorf("new http client: %w", err)
	}

	cache := snapshot.New()

	run.scraper = scraper.New(
		scraper.WithWorkers(e.workers),
		scraper.WithHTTPClient(client),
		scraper.WithLogger(log.WithName("scraper")),
	)

	run.scheduler = scheduler.New(run.resolver, run.scraper, cache,
		scheduler.WithInterval(e.interval),
		scheduler.WithTimeout(e.timeout),
		scheduler.WithLogger(log.WithName("scheduler")),
	)

	run.registry = prometheus.NewRegistry()
	run.collector = collector.New(cache,
		collector.WithClusterID(clusterID),
		collector.WithStats(run.scheduler.Stats),
		collector.WithLogger(log.WithName("collector")),
	)

	if err := run.registry.Register(run.collector); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	run.listener, err = net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("listen on '%s': %w", e.listenAddress, err)
	}

	mux := http.NewServeMux()
	mux.Handle(e.telemetryPath, promhttp.HandlerFor(run.registry,
		promhttp.HandlerOpts{
			ErrorLog:      promLogger{log: log.WithName("http")},
			ErrorHandling: promhttp.ContinueOnError,
		},
	))

	run.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithValues(
			"addr", run.listener.Addr().String(),
			"path", e.telemetryPath,
		).Info("listening")

		err := run.server.Serve(run.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			run.serveErr <- fmt.Errorf(
				"failed serving on address %s: %w",
				run.listener.Addr(), err,
			)
		}
	}()

	run.scheduler.Start()

	return nil
}

func (e *Exporter) validate() error {
	if e.resolver == nil {
		switch {
		case e.baseURL == "" && e.zkHost == "":
			return fmt.Errorf("one of base url or zk host must be set")
		case e.baseURL != "" && e.zkHost != "":
			return fmt.Errorf("base url and zk host are mutually exclusive")
		}
	}

	if e.interval <= 0 {
		return fmt.Errorf("scrape interval must be positive, got %s", e.interval)
	}

	if e.timeout <= 0 {
		return fmt.Errorf("scrape timeout must be positive, got %s", e.timeout)
	}

	if e.workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", e.workers)
	}

	return nil
}

func (e *Exporter) buildResolver(run *instance, log logr.Logger) error {
	if e.resolver != nil {
		run.resolver = e.resolver
		return nil
	}

	if e.baseURL != "" {
		static, err := resolver.NewStatic(e.baseURL)
		if err != nil {
			return fmt.Errorf("new static: %w", err)
		}

		run.resolver = static
		return nil
	}

	zk, err := resolver.DialZooKeeper(e.zkHost,
		resolver.DefaultSessionTimeout, log.WithName("zookeeper"))
	if err != nil {
		return fmt.Errorf("dial zookeeper: %w", err)
	}

	run.closer = zk
	run.resolver = resolver.NewCluster(zk,
		resolver.WithClusterLogger(log.WithName("resolver")),
	)

	return nil
}

// Stop brings the exporter down, waiting up to the grace period for the
// round in flight (if any) before cancelling it.
//
// Calling Stop on an exporter that isn't running is a no-op. A Stop issued
// while another one is in progress waits for it to finish (or for `ctx`).
//
// State and Addr keep answering, with STOPPING, while draining.
//
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()

	switch e.state {
	case StateRunning:
	case StateStopping:
		stopped := e.run.stopped
		e.mu.Unlock()

		select {
		case <-stopped:
		case <-ctx.Done():
		}

		return nil
	default:
		e.mu.Unlock()
		return nil
	}

	e.state = StateStopping
	run := e.run
	e.mu.Unlock()

	e.log.Info("stopping")

	err := e.shutdown(ctx, run)

	e.mu.Lock()
	e.run = nil
	e.state = StateStopped
	e.mu.Unlock()

	close(run.stopped)
	e.log.Info("stopped")

	return err
}

// shutdown halts the timer, closes the server and drains the scheduler, all
// bounded by the same grace period, and then releases `run`.
//
func (e *Exporter) shutdown(ctx context.Context, run *instance) error {
	run.scheduler.Halt()

	ctx, cancel := context.WithTimeout(ctx, e.gracePeriod)
	defer cancel()

	if err := run.server.Shutdown(ctx); err != nil {
		e.log.Error(err, "server shutdown")
		_ = run.server.Close()
	}

	if err := run.scheduler.Drain(ctx); err != nil {
		e.log.Error(err, "drain")
	}

	return e.release(run)
}

// release frees whatever `run` holds. The collector is unregistered before
// the transport and the coordination session are closed.
//
func (e *Exporter) release(run *instance) error {
	if run.listener != nil && run.server == nil {
		_ = run.listener.Close()
	}

	if run.registry != nil && run.collector != nil {
		run.registry.Unregister(run.collector)
	}

	if run.scraper != nil {
		run.scraper.Close()
	}

	if run.closer != nil {
		if err := run.closer.Close(); err != nil {
			return fmt.Errorf("close resolver: %w", err)
		}
	}

	return nil
}

// Run starts the exporter, blocking until `ctx` is done or the server fails,
// after which the exporter is stopped.
//
func (e *Exporter) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}

	e.mu.Lock()
	run := e.run
	e.mu.Unlock()

	if run == nil {
		return nil
	}

	var runErr error

	select {
	case <-ctx.Done():
	case runErr = <-run.serveErr:
	}

	if err := e.Stop(context.Background()); err != nil {
		e.log.Error(err, "stop")
	}

	return runErr
}

// promLogger adapts a logr.Logger to what promhttp expects for reporting
// errors gathering metrics.
//
type promLogger struct {
	log logr.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.log.Error(nil, fmt.Sprint(v...))
}
