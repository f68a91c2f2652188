package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "bridgeping.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://opendata.ndw.nu/brugopeningen.xml.gz", cfg.Openings.FeedURL)
	assert.Equal(t, 3, cfg.Openings.MaxRetries)
	assert.Equal(t, "https://overpass-api.de/api/interpreter", cfg.Overpass.URL)
	assert.Equal(t, 2000, cfg.Overpass.RegionDelayMS)
	assert.InDelta(t, 50.0, cfg.Overpass.NearbyRadiusM, 0.001)
	assert.Equal(t, "BridgePing/1.0", cfg.Nominatim.UserAgent)
	assert.Equal(t, 1000, cfg.Enrich.DelayMS)
	assert.Equal(t, 100, cfg.Enrich.CommitEvery)
	assert.InDelta(t, 0.001, cfg.Link.Tolerance, 1e-9)
	assert.Equal(t, 336, cfg.Watchlist.HorizonHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/bridgeping
log:
  level: debug
  format: console
enrich:
  commit_every: 25
overpass:
  regions_file: regions.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/bridgeping", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 25, cfg.Enrich.CommitEvery)
	assert.Equal(t, "regions.yaml", cfg.Overpass.RegionsFile)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Enrich.DelayMS)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  database_url: from-file.db
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("BRIDGEPING_STORE_DATABASE_URL", "from-env.db")
	t.Setenv("BRIDGEPING_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BRIDGEPING_STORE_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:  StoreConfig{Driver: "sqlite", DatabaseURL: "x.db"},
			Link:   LinkConfig{Tolerance: 0.001},
			Enrich: EnrichConfig{CommitEvery: 100},
		}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.Store.DatabaseURL = ""
	assert.ErrorContains(t, c.Validate(), "database_url")

	c = valid()
	c.Link.Tolerance = 0
	assert.ErrorContains(t, c.Validate(), "link.tolerance")

	c = valid()
	c.Enrich.CommitEvery = -1
	assert.ErrorContains(t, c.Validate(), "commit_every")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
