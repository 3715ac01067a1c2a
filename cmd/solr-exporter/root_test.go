package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cirocosta/solr-exporter/pkg/config"
)

func parse(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	c := &command{}
	cmd := c.Cmd()
	require.NoError(t, cmd.ParseFlags(args))

	return c.loadConfig(cmd)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(zkHostEnv, "")

	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scrape_interval: 30s
num_threads: 2
solr:
  zk_host: zk1:2181/solr
`), 0o600))

	cfg, err := parse(t,
		"--config-file", path,
		"--solr-url", "http://solr:8983/solr",
		"--num-threads", "8",
		"--credentials", "admin:secret",
	)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.ScrapeInterval)
	assert.Equal(t, 8, cfg.NumThreads)

	baseURL, zkHost := cfg.Solr.Topology()
	assert.Equal(t, "http://solr:8983/solr", baseURL)
	assert.Empty(t, zkHost)

	assert.Equal(t, "admin", cfg.Solr.Username)
	assert.Equal(t, "secret", cfg.Solr.Password())
}

func TestLoadConfig_Invalid(t *testing.T) {
	for name, args := range map[string][]string{
		"both topologies": {"--solr-url", "http://solr:8983/solr", "--zk-host", "zk:2181"},
		"bad credentials": {"--credentials", "admin"},
		"zero threads":    {"--num-threads", "0"},
		"bad log level":   {"--log-level", "chatty"},
		"missing file":    {"--config-file", "/does/not/exist.yaml"},
		"port and addr":   {"--port", "9854", "--bind-addr", ":9999"},
		"bad port":        {"-p", "70000"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_ShortFlags(t *testing.T) {
	cfg, err := parse(t, "-z", "zk1:2181/solr", "-p", "9854")
	require.NoError(t, err)

	baseURL, zkHost := cfg.Solr.Topology()
	assert.Empty(t, baseURL)
	assert.Equal(t, "zk1:2181/solr", zkHost)
	assert.Equal(t, ":9854", cfg.ListenAddress)

	cfg, err = parse(t, "-s", "http://solr:8983/solr")
	require.NoError(t, err)

	baseURL, _ = cfg.Solr.Topology()
	assert.Equal(t, "http://solr:8983/solr", baseURL)
}

func TestLoadConfig_ZkHostFromEnv(t *testing.T) {
	t.Setenv(zkHostEnv, " zk1:2181,zk2:2181/solr ")

	cfg, err := parse(t)
	require.NoError(t, err)

	baseURL, zkHost := cfg.Solr.Topology()
	assert.Empty(t, baseURL)
	assert.Equal(t, "zk1:2181,zk2:2181/solr", zkHost)

	cfg, err = parse(t, "--solr-url", "http://solr:8983/solr")
	require.NoError(t, err)

	baseURL, zkHost = cfg.Solr.Topology()
	assert.Equal(t, "http://solr:8983/solr", baseURL)
	assert.Empty(t, zkHost, "flags win over the environment")
}
