package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultReadsEnvironment(t *testing.T) {
	t.Setenv("POOL_MAX_BROWSERS", "6")
	t.Setenv("BREAKER_RESET_TIMEOUT", "90s")
	t.Setenv("CRAWL_LOCATIONS", "Palermo, Recoleta ,,Belgrano")
	t.Setenv("RETRY_MULTIPLIER", "1.5")
	t.Setenv("CHROME_HEADLESS", "false")

	cfg := Default()
	assert.Equal(t, 6, cfg.MaxBrowsers)
	assert.Equal(t, 90*time.Second, cfg.BreakerResetTimeout)
	assert.Equal(t, []string{"Palermo", "Recoleta", "Belgrano"}, cfg.Locations)
	assert.InDelta(t, 1.5, cfg.RetryMultiplier, 1e-9)
	assert.False(t, cfg.Headless)
}

func TestDefaultIgnoresMalformedValues(t *testing.T) {
	t.Setenv("POOL_MAX_BROWSERS", "many")
	t.Setenv("CACHE_TTL", "forever")

	cfg := Default()
	assert.Equal(t, 4, cfg.MaxBrowsers)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsUndersizedPool(t *testing.T) {
	cfg := Default()
	cfg.MaxBrowsers = 3
	cfg.DetailConcurrency = 3
	assert.Error(t, cfg.Validate())

	cfg.MaxBrowsers = 4
	assert.NoError(t, cfg.Validate())

	cfg.MinBrowsers = 5
	assert.Error(t, cfg.Validate())
}

func TestValidateGlobalTimeout(t *testing.T) {
	cfg := Default()
	cfg.GlobalTimeout = 0
	assert.NoError(t, cfg.Validate(), "zero disables the limit")

	cfg.GlobalTimeout = -time.Second
	assert.ErrorContains(t, cfg.Validate(), "CRAWL_GLOBAL_TIMEOUT")
}

func TestLoadEnvOverlaysDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CRAWL_KEYWORD=parrillas\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CRAWL_KEYWORD", "")

	LoadEnv(logrus.New())
	assert.Equal(t, "parrillas", Default().Keyword)
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	assert.Equal(t, logrus.DebugLevel, GetLogLevel())
	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, logrus.InfoLevel, GetLogLevel())
}
