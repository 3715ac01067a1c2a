package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/cirocosta/solr-exporter/pkg/scraper"
)

const (
	DefaultListenAddress       = ":8989"
	DefaultTelemetryPath       = "/metrics"
	DefaultScrapeInterval      = 60 * time.Second
	DefaultScrapeTimeout       = 10 * time.Second
	DefaultNumThreads          = 1
	DefaultShutdownGracePeriod = 10 * time.Second
	DefaultLogLevel            = "info"
	DefaultBaseURL             = "http://localhost:8983/solr"
	DefaultPasswordEnv         = "SOLR_EXPORTER_PASSWORD"
)

// Config is the root of the configuration file.
//
//	listen_address: :8989
//	scrape_interval: 60s
//	solr:
//	  zk_host: zk1:2181,zk2:2181/solr
//	  username: exporter
//	  password_env: SOLR_EXPORTER_PASSWORD
//
type Config struct {
	ListenAddress       string        `yaml:"listen_address"`
	TelemetryPath       string        `yaml:"telemetry_path"`
	ScrapeInterval      time.Duration `yaml:"scrape_interval"`
	ScrapeTimeout       time.Duration `yaml:"scrape_timeout"`
	NumThreads          int           `yaml:"num_threads"`
	ClusterID           string        `yaml:"cluster_id"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
	LogLevel            string        `yaml:"log_level"`

	Solr SolrConfig `yaml:"solr"`
}

// SolrConfig describes how to reach the nodes. At most one of BaseURL and
// ZkHost may be set; with neither, DefaultBaseURL is used.
//
type SolrConfig struct {
	BaseURL string `yaml:"base_url"`
	ZkHost  string `yaml:"zk_host"`

	Username string `yaml:"username"`

	// PasswordEnv names the environment variable holding the password.
	//
	PasswordEnv string `yaml:"password_env"`

	// password is set from the command line only.
	//
	password string

	TLS TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Password resolves the basic-auth password: an explicit one wins over the
// environment.
//
func (s SolrConfig) Password() string {
	if s.password != "" {
		return s.password
	}

	return os.Getenv(s.PasswordEnv)
}

// SetCredentials overrides username and password with a `user:pass` pair.
//
func (s *SolrConfig) SetCredentials(v string) error {
	user, pass, found := strings.Cut(v, ":")
	if !found || user == "" {
		return fmt.Errorf("credentials must be in the form 'user:pass'")
	}

	s.Username, s.password = user, pass

	return nil
}

// Topology returns the base url and zk host to use, falling back to
// DefaultBaseURL when neither is set.
//
func (s SolrConfig) Topology() (baseURL, zkHost string) {
	if s.BaseURL == "" && s.ZkHost == "" {
		return DefaultBaseURL, ""
	}

	return s.BaseURL, s.ZkHost
}

func (s SolrConfig) Transport() scraper.TransportConfig {
	return scraper.TransportConfig{
		Username:           s.Username,
		Password:           s.Password(),
		CAFile:             s.TLS.CAFile,
		CertFile:           s.TLS.CertFile,
		KeyFile:            s.TLS.KeyFile,
		InsecureSkipVerify: s.TLS.InsecureSkipVerify,
	}
}

// Level parses LogLevel.
//
func (c *Config) Level() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("parse level '%s': %w", c.LogLevel, err)
	}

	return level, nil
}

// Default returns the configuration used when no file is given.
//
func Default() *Config {
	return defaults()
}

// Load reads and parses the YAML config file at path. Missing fields are
// filled with defaults.
//
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddress:       DefaultListenAddress,
		TelemetryPath:       DefaultTelemetryPath,
		ScrapeInterval:      DefaultScrapeInterval,
		ScrapeTimeout:       DefaultScrapeTimeout,
		NumThreads:          DefaultNumThreads,
		ShutdownGracePeriod: DefaultShutdownGracePeriod,
		LogLevel:            DefaultLogLevel,
		Solr: SolrConfig{
			PasswordEnv: DefaultPasswordEnv,
		},
	}
}

// Validate checks structural constraints. It's exported so that it can be
// run again once command line overrides are applied.
//
func (c *Config) Validate() error {
	if c.Solr.BaseURL != "" && c.Solr.ZkHost != "" {
		return fmt.Errorf("solr.base_url and solr.zk_host are mutually exclusive")
	}

	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}

	if !strings.HasPrefix(c.TelemetryPath, "/") {
		return fmt.Errorf("telemetry_path must start with '/', got %q", c.TelemetryPath)
	}

	if c.ScrapeInterval <= 0 {
		return fmt.Errorf("scrape_interval must be positive")
	}

	if c.ScrapeTimeout <= 0 {
		return fmt.Errorf("scrape_timeout must be positive")
	}

	if c.NumThreads < 1 {
		return fmt.Errorf("num_threads must be at least 1")
	}

	if c.ShutdownGracePeriod < 0 {
		return fmt.Errorf("shutdown_grace_period must not be negative")
	}

	if _, err := c.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	return nil
}
