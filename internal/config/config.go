package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Openings  OpeningsConfig  `yaml:"openings" mapstructure:"openings"`
	Overpass  OverpassConfig  `yaml:"overpass" mapstructure:"overpass"`
	Nominatim NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Link      LinkConfig      `yaml:"link" mapstructure:"link"`
	Watchlist WatchlistConfig `yaml:"watchlist" mapstructure:"watchlist"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OpeningsConfig configures the NDW bridge-opening feed.
type OpeningsConfig struct {
	FeedURL     string `yaml:"feed_url" mapstructure:"feed_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// OverpassConfig configures the OpenStreetMap Overpass API client.
type OverpassConfig struct {
	URL           string  `yaml:"url" mapstructure:"url"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RegionDelayMS int     `yaml:"region_delay_ms" mapstructure:"region_delay_ms"`
	RegionsFile   string  `yaml:"regions_file" mapstructure:"regions_file"`
	NearbyRadiusM float64 `yaml:"nearby_radius_m" mapstructure:"nearby_radius_m"`
}

// NominatimConfig configures the Nominatim reverse geocoder.
type NominatimConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// EnrichConfig configures the bridge enrichment pass.
type EnrichConfig struct {
	DelayMS     int `yaml:"delay_ms" mapstructure:"delay_ms"`
	CommitEvery int `yaml:"commit_every" mapstructure:"commit_every"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// LinkConfig configures the spatial linking pass.
type LinkConfig struct {
	Tolerance float64 `yaml:"tolerance" mapstructure:"tolerance"`
}

// WatchlistConfig configures watchlist queries.
type WatchlistConfig struct {
	HorizonHours int `yaml:"horizon_hours" mapstructure:"horizon_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BRIDGEPING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "bridgeping.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("openings.feed_url", "https://opendata.ndw.nu/brugopeningen.xml.gz")
	v.SetDefault("openings.timeout_secs", 120)
	v.SetDefault("openings.max_retries", 3)
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.timeout_secs", 300)
	v.SetDefault("overpass.region_delay_ms", 2000)
	v.SetDefault("overpass.nearby_radius_m", 50.0)
	v.SetDefault("nominatim.url", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("nominatim.user_agent", "BridgePing/1.0")
	v.SetDefault("nominatim.timeout_secs", 10)
	v.SetDefault("enrich.delay_ms", 1000)
	v.SetDefault("enrich.commit_every", 100)
	v.SetDefault("enrich.max_attempts", 2)
	v.SetDefault("link.tolerance", 0.001)
	v.SetDefault("watchlist.horizon_hours", 24*14)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that no pass can run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q (valid: sqlite, postgres)", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Link.Tolerance <= 0 {
		return eris.Errorf("config: link.tolerance must be positive, got %v", c.Link.Tolerance)
	}
	if c.Enrich.CommitEvery <= 0 {
		return eris.Errorf("config: enrich.commit_every must be positive, got %d", c.Enrich.CommitEvery)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
