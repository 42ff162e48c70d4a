package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/funnelsnap/internal/dates"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "funnelsnap.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultAddr, cfg.Server.Addr)
	require.Equal(t, "fs", cfg.Storage.Backend)
	require.Equal(t, DefaultStorageDir, cfg.Storage.Dir)
	require.Equal(t, int64(DefaultMaxUploadBytes), cfg.Limits.MaxUploadBytes)
	require.NotNil(t, cfg.Retry.MaxRetries)
	require.Equal(t, uint64(DefaultRetryMaxRetries), *cfg.Retry.MaxRetries)
	require.Equal(t, DefaultModel, cfg.MCP.Model)
	require.False(t, cfg.MCP.EnableWrites)

	cal, err := cfg.BuildCalendar()
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC), cal.Start)
	require.Equal(t, time.Date(2025, time.August, 11, 0, 0, 0, 0, time.UTC), cal.WeekAnchor)
	require.True(t, cal.End.IsZero())
	require.Equal(t, dates.DayFirst, cfg.DateParser().Policy)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeYAML(t, `
server:
  addr: ":9090"
  admin_key: from-yaml
storage:
  backend: S3
  prefix: funnel
  s3:
    bucket: dashboards
    region: us-east-1
cache:
  redis_addr: localhost:6379
  ttl: 30s
calendar:
  period_end: "2025-12-31"
  date_policy: month_first
limits:
  max_upload_bytes: 1024
retry:
  base_delay: 50ms
mcp:
  allowed_dirs: ["/data/a"]
`)
	t.Setenv("FUNNELSNAP_ADMIN_KEY", "from-env")
	t.Setenv("FUNNELSNAP_ALLOWED_DIRS", "/data/x, /data/y")
	t.Setenv("FUNNELSNAP_ENABLE_WRITES", "true")
	t.Setenv("FUNNELSNAP_RETRY_MAX_RETRIES", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "from-env", cfg.Server.AdminKey)
	require.Equal(t, "s3", cfg.Storage.Backend)
	require.Equal(t, "dashboards", cfg.Storage.S3.Bucket)
	require.Equal(t, 30*time.Second, cfg.Cache.TTL)
	require.Equal(t, int64(1024), cfg.Limits.MaxUploadBytes)
	require.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, uint64(2), *cfg.Retry.MaxRetries)
	require.Equal(t, []string{"/data/x", "/data/y"}, cfg.MCP.AllowedDirs)
	require.True(t, cfg.MCP.EnableWrites)
	require.Equal(t, dates.MonthFirst, cfg.DateParser().Policy)

	cal, err := cfg.BuildCalendar()
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.December, 31, 23, 59, 59, 999999999, time.UTC), cal.End)
}

func TestLoadZeroRetries(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(writeYAML(t, "retry:\n  max_retries: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Retry.MaxRetries)
	require.Zero(t, *cfg.Retry.MaxRetries, "an explicit zero disables retries")

	t.Setenv("FUNNELSNAP_RETRY_MAX_RETRIES", "0")
	cfg, err = Load("")
	require.NoError(t, err)
	require.Zero(t, *cfg.Retry.MaxRetries)
}

func TestLoadErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeYAML(t, "storage: [oops"))
	require.Error(t, err)

	_, err = Load(writeYAML(t, "storage:\n  backend: mongo\n"))
	require.ErrorContains(t, err, "backend")

	_, err = Load(writeYAML(t, "storage:\n  backend: s3\n"))
	require.ErrorContains(t, err, "bucket")

	_, err = Load(writeYAML(t, "storage:\n  backend: postgres\n"))
	require.ErrorContains(t, err, "dsn")

	_, err = Load(writeYAML(t, "calendar:\n  week_anchor: \"2025-08-12\"\n"))
	require.ErrorContains(t, err, "Monday")

	_, err = Load(writeYAML(t, "calendar:\n  campaign_start: \"01/08/2025\"\n"))
	require.ErrorContains(t, err, "YYYY-MM-DD")

	_, err = Load(writeYAML(t, "limits:\n  page_size: 5000\n"))
	require.ErrorContains(t, err, "max_page_size")

	t.Setenv("FUNNELSNAP_MAX_SHEET_ROWS", "many")
	_, err = Load("")
	require.ErrorContains(t, err, "FUNNELSNAP_MAX_SHEET_ROWS")
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FUNNELSNAP_STORAGE_DIR=/srv/funnel\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FUNNELSNAP_STORAGE_DIR") })

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/srv/funnel", cfg.Storage.Dir)
}
