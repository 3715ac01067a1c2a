package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cirocosta/solr-exporter/pkg/config"
	"github.com/cirocosta/solr-exporter/pkg/exporter"
)

// zkHostEnv names the topology used when neither the flags nor the config
// file pick one.
//
const zkHostEnv = "ZK_HOST"

type command struct {
	configFile     string
	solrURL        string
	zkHost         string
	bindAddr       string
	port           int
	telemetryPath  string
	scrapeInterval time.Duration
	scrapeTimeout  time.Duration
	numThreads     int
	clusterID      string
	credentials    string
	logLevel       string
}

func (c *command) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "solr-exporter",
		Short:        "Prometheus exporter for solr metrics",
		SilenceUsage: true,
		RunE:         c.RunE,
	}

	cmd.Flags().StringVar(&c.configFile, "config-file",
		"", "path to a yaml configuration file (watched for log level "+
			"changes)")
	_ = cmd.MarkFlagFilename("config-file", "yaml", "yml")

	cmd.Flags().StringVarP(&c.solrURL, "solr-url", "s",
		"", "base url of a single solr node (default "+
			config.DefaultBaseURL+")")

	cmd.Flags().StringVarP(&c.zkHost, "zk-host", "z",
		"", "zookeeper connection string of a solrcloud cluster, "+
			"e.g. zk1:2181,zk2:2181/solr (falls back to $"+zkHostEnv+")")

	cmd.Flags().StringVar(&c.bindAddr, "bind-addr",
		config.DefaultListenAddress, "address to bind the prometheus "+
			"server to")

	cmd.Flags().IntVarP(&c.port, "port", "p",
		0, "port to bind the prometheus server to on all interfaces "+
			"(shorthand for --bind-addr :<port>)")

	cmd.Flags().StringVar(&c.telemetryPath, "telemetry-path",
		config.DefaultTelemetryPath, "endpoint at which prometheus "+
			"metrics are served")

	cmd.Flags().DurationVar(&c.scrapeInterval, "scrape-interval",
		config.DefaultScrapeInterval, "interval between collection rounds")

	cmd.Flags().DurationVar(&c.scrapeTimeout, "scrape-timeout",
		config.DefaultScrapeTimeout, "deadline for scraping a single node")

	cmd.Flags().IntVar(&c.numThreads, "num-threads",
		config.DefaultNumThreads, "number of nodes scraped concurrently")

	cmd.Flags().StringVar(&c.clusterID, "cluster-id",
		"", "id attached to every series (default: derived from "+
			"--zk-host or --solr-url)")

	cmd.Flags().StringVar(&c.credentials, "credentials",
		"", "basic auth credentials in the form 'user:pass'")

	cmd.Flags().StringVar(&c.logLevel, "log-level",
		config.DefaultLogLevel, "one of debug, info, warn, error")

	return cmd
}

// loadConfig reads the config file, if any, and applies the flags that were
// explicitly set on top of it.
//
func (c *command) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if c.configFile != "" {
		var err error

		cfg, err = config.Load(c.configFile)
		if err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
	}

	flags := cmd.Flags()

	if flags.Changed("solr-url") && flags.Changed("zk-host") {
		return nil, fmt.Errorf("--solr-url and --zk-host are mutually exclusive")
	}

	if flags.Changed("solr-url") {
		cfg.Solr.BaseURL, cfg.Solr.ZkHost = c.solrURL, ""
	}

	if flags.Changed("zk-host") {
		cfg.Solr.ZkHost, cfg.Solr.BaseURL = c.zkHost, ""
	}

	if cfg.Solr.BaseURL == "" && cfg.Solr.ZkHost == "" {
		cfg.Solr.ZkHost = strings.TrimSpace(os.Getenv(zkHostEnv))
	}

	if flags.Changed("bind-addr") && flags.Changed("port") {
		return nil, fmt.Errorf("--bind-addr and --port are mutually exclusive")
	}

	if flags.Changed("bind-addr") {
		cfg.ListenAddress = c.bindAddr
	}

	if flags.Changed("port") {
		if c.port <= 0 || c.port > 65535 {
			return nil, fmt.Errorf("--port %d: out of range", c.port)
		}

		cfg.ListenAddress = net.JoinHostPort("", strconv.Itoa(c.port))
	}

	if flags.Changed("telemetry-path") {
		cfg.TelemetryPath = c.telemetryPath
	}

	if flags.Changed("scrape-interval") {
		cfg.ScrapeInterval = c.scrapeInterval
	}

	if flags.Changed("scrape-timeout") {
		cfg.ScrapeTimeout = c.scrapeTimeout
	}

	if flags.Changed("num-threads") {
		cfg.NumThreads = c.numThreads
	}

	if flags.Changed("cluster-id") {
		cfg.ClusterID = c.clusterID
	}

	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}

	if flags.Changed("credentials") {
		if err := cfg.Solr.SetCredentials(c.credentials); err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	return cfg, nil
}

func (c *command) RunE(cmd *cobra.Command, _ []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, err := cfg.Level()
	if err != nil {
		return fmt.Errorf("level: %w", err)
	}

	atomicLevel := zap.NewAtomicLevelAt(level)

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atomicLevel

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return fmt.Errorf("zap build: %w", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	log := zapr.NewLogger(zapLogger)

	ctx, cancel := signal.NotifyContext(cmd.Context(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if c.configFile != "" {
		go c.watchConfig(ctx, log, atomicLevel)
	}

	baseURL, zkHost := cfg.Solr.Topology()

	prometheusExporter, err := exporter.New(
		exporter.WithListenAddress(cfg.ListenAddress),
		exporter.WithTelemetryPath(cfg.TelemetryPath),
		exporter.WithBaseURL(baseURL),
		exporter.WithZkHost(zkHost),
		exporter.WithScrapeInterval(cfg.ScrapeInterval),
		exporter.WithScrapeTimeout(cfg.ScrapeTimeout),
		exporter.WithWorkers(cfg.NumThreads),
		exporter.WithClusterID(cfg.ClusterID),
		exporter.WithGracePeriod(cfg.ShutdownGracePeriod),
		exporter.WithTransport(cfg.Solr.Transport()),
		exporter.WithLogger(log.WithName("exporter")),
	)
	if err != nil {
		return fmt.Errorf("new exporter: %w", err)
	}

	err = prometheusExporter.Run(ctx)
	if err != nil {
		return fmt.Errorf("prometheus exporter run: %w", err)
	}

	return nil
}

func (c *command) watchConfig(
	ctx context.Context, log logr.Logger, level zap.AtomicLevel,
) {
	log = log.WithName("config")

	err := config.Watch(ctx, c.configFile, log, func(cfg *config.Config) {
		newLevel, err := cfg.Level()
		if err != nil {
			log.Error(err, "level")
			return
		}

		if newLevel != level.Level() {
			log.Info("changing log level", "level", newLevel.String())
			level.SetLevel(newLevel)
		}
	})
	if err != nil {
		log.Error(err, "watch")
	}
}
