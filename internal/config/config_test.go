package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
broker:
  provider: memory
  requests_topic: crawl.requests
  results_topic: crawl.results
  topics:
    - crawl.requests
    - crawl.results
    - crawl.deadletter
  subscriptions:
    crawl.results: results-relay
correlation:
  provider: memory
  retention_hours: 12
worker:
  enabled: true
  user_agent: test-agent
  timeout_seconds: 5
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 12*time.Hour, cfg.Retention())
	require.Equal(t, []string{"crawl.requests", "crawl.results", "crawl.deadletter"}, cfg.ManagedTopics())
	require.Equal(t, "results-relay", cfg.SubscriptionFor("crawl.results"))
	require.Equal(t, "crawl.requests.relay", cfg.SubscriptionFor("crawl.requests"))
	require.False(t, cfg.Logging.Development)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Broker.Provider)
	require.Equal(t, "crawl.requests", cfg.Broker.RequestsTopic)
	require.Equal(t, "crawl.results", cfg.Broker.ResultsTopic)
	require.Equal(t, []string{"crawl.requests", "crawl.results"}, cfg.ManagedTopics())
	require.Equal(t, 24*time.Hour, cfg.Retention())
	require.True(t, cfg.Worker.Enabled)
}

func TestValidateRejectsMissingRedisAddr(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Correlation.Provider = "redis"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsAuthWithoutKey(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsPubSubWithoutProject(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Broker.Provider = "pubsub"
	require.Error(t, cfg.Validate())
}
