package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 0, cfg.Crawl.Workers)
	require.Equal(t, 1.0, cfg.Crawl.DelaySeconds)
	require.Equal(t, 3, cfg.Crawl.MaxRetries)
	require.Equal(t, "bolt", cfg.Store.Backend)
	require.Equal(t, "crawl_state.db", cfg.Store.Path)
	require.Equal(t, "scraped_data.jsonl", cfg.Output.Path)
	require.Equal(t, 15, cfg.HTTP.TimeoutSeconds)
	require.False(t, cfg.Admin.Enabled)
	require.Equal(t, 8080, cfg.Admin.Port)
	require.Equal(t, time.Second, cfg.Delay())
	require.Equal(t, 15*time.Second, cfg.Timeout())
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawl:
  workers: 8
  delay_seconds: 0.25
store:
  backend: memory
admin:
  enabled: true
  port: 9090
logging:
  development: false
  file: ""
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Crawl.Workers)
	require.Equal(t, 8, cfg.EffectiveWorkers())
	require.Equal(t, 250*time.Millisecond, cfg.Delay())
	require.Equal(t, "memory", cfg.Store.Backend)
	require.True(t, cfg.Admin.Enabled)
	require.Equal(t, 9090, cfg.Admin.Port)
	require.False(t, cfg.Logging.Development)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CRAWLD_CRAWL_WORKERS", "12")
	t.Setenv("CRAWLD_STORE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Crawl.Workers)
	require.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Crawl.Workers = -1
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Backend = "sqlite"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Backend = "postgres"
	require.Error(t, cfg.Validate(), "postgres requires a dsn")
	cfg.Store.DSN = "postgres://crawld@localhost/crawld"
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Store.Backend = "bolt"
	cfg.Store.Path = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.HTTP.TimeoutSeconds = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Output.Path = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Admin.Enabled = true
	cfg.Admin.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestEffectiveWorkers_AutoIsClamped(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	n := cfg.EffectiveWorkers()
	require.GreaterOrEqual(t, n, 2)
	require.LessOrEqual(t, n, 32)
}
