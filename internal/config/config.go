// Package config loads contentmill settings from a YAML file, environment
// variables (CONTENTMILL_ prefix) and defaults, in that order of precedence
// below explicit CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"contentmill/internal/logging"
)

const (
	// AppName is the config file base name searched for.
	AppName = "contentmill"
	// EnvPrefix prefixes environment overrides, e.g. CONTENTMILL_BATCH_CONCURRENCY.
	EnvPrefix = "CONTENTMILL"
)

// Config is the full application configuration.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Generation struct {
		Provider          string        `mapstructure:"provider"` // stub | gemini
		Model             string        `mapstructure:"model"`
		APIKey            string        `mapstructure:"api_key"`
		APIKeyEnv         string        `mapstructure:"api_key_env"`
		Temperature       float32       `mapstructure:"temperature"`
		MaxOutputTokens   int32         `mapstructure:"max_output_tokens"`
		StepTimeout       time.Duration `mapstructure:"step_timeout"`
		RequestsPerMinute int           `mapstructure:"requests_per_minute"`
		Burst             int           `mapstructure:"burst"`
	} `mapstructure:"generation"`

	Batch struct {
		Concurrency   int           `mapstructure:"concurrency"`
		ChunkPause    time.Duration `mapstructure:"chunk_pause"`
		ProgressEvery int           `mapstructure:"progress_every"`
		TargetCount   int           `mapstructure:"target_count"`
		Mode          string        `mapstructure:"mode"` // chunked | saturating
		Candidates    string        `mapstructure:"candidates"`
	} `mapstructure:"batch"`

	Scoring struct {
		Strategy         string        `mapstructure:"strategy"`
		UntappedHalfLife time.Duration `mapstructure:"untapped_half_life"`
	} `mapstructure:"scoring"`

	Ranking struct {
		Reorder  bool          `mapstructure:"reorder"`
		TopN     int           `mapstructure:"top_n"`
		Timeout  time.Duration `mapstructure:"timeout"`
		Audience string        `mapstructure:"audience"`
	} `mapstructure:"ranking"`

	Store struct {
		Driver string `mapstructure:"driver"` // memory | sqlite | postgres
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Archive struct {
		Endpoint  string `mapstructure:"endpoint"`
		Bucket    string `mapstructure:"bucket"`
		Region    string `mapstructure:"region"`
		Prefix    string `mapstructure:"prefix"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		UseSSL    bool   `mapstructure:"use_ssl"`
	} `mapstructure:"archive"`

	Catalog struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"catalog"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("generation.provider", "stub")
	v.SetDefault("generation.model", "gemini-2.5-flash")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.max_output_tokens", 2048)
	v.SetDefault("generation.step_timeout", 2*time.Minute)
	v.SetDefault("generation.requests_per_minute", 0)
	v.SetDefault("generation.burst", 1)

	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.chunk_pause", 2*time.Second)
	v.SetDefault("batch.progress_every", 10)
	v.SetDefault("batch.target_count", 10)
	v.SetDefault("batch.mode", "chunked")
	v.SetDefault("batch.candidates", "")

	v.SetDefault("scoring.strategy", "balanced")
	v.SetDefault("scoring.untapped_half_life", 90*24*time.Hour)

	v.SetDefault("ranking.reorder", false)
	v.SetDefault("ranking.top_n", 15)
	v.SetDefault("ranking.timeout", 60*time.Second)
	v.SetDefault("ranking.audience", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", ".contentmill/contentmill.db")

	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.bucket", "contentmill")
	v.SetDefault("archive.region", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.use_ssl", false)

	v.SetDefault("catalog.path", "")
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Load reads path (or searches ./contentmill.yaml and
// $HOME/.config/contentmill/ when empty), applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/" + AppName)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logging.New("config").Debug("no config file found, using defaults and environment")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.File = v.ConfigFileUsed()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.Generation.Provider {
	case "stub", "gemini":
	default:
		errs = append(errs, fmt.Errorf("generation.provider must be stub or gemini, got %q", c.Generation.Provider))
	}
	if c.Generation.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("generation.requests_per_minute must be >= 0"))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be >= 1, got %d", c.Batch.Concurrency))
	}
	if c.Batch.ProgressEvery < 1 {
		errs = append(errs, fmt.Errorf("batch.progress_every must be >= 1, got %d", c.Batch.ProgressEvery))
	}
	if c.Batch.ChunkPause < 0 {
		errs = append(errs, errors.New("batch.chunk_pause must be >= 0"))
	}
	switch c.Batch.Mode {
	case "chunked", "saturating":
	default:
		errs = append(errs, fmt.Errorf("batch.mode must be chunked or saturating, got %q", c.Batch.Mode))
	}
	switch c.Scoring.Strategy {
	case "balanced", "prefer-untapped", "prefer-trending":
	default:
		errs = append(errs, fmt.Errorf("scoring.strategy %q is not known", c.Scoring.Strategy))
	}
	if c.Ranking.TopN < 1 {
		errs = append(errs, fmt.Errorf("ranking.top_n must be >= 1, got %d", c.Ranking.TopN))
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory, sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for postgres"))
	}
	return errors.Join(errs...)
}

// APIKey resolves the generation API key: explicit value first, then the
// named environment variable.
func (c *Config) APIKey() string {
	if c.Generation.APIKey != "" {
		return c.Generation.APIKey
	}
	if c.Generation.APIKeyEnv != "" {
		return os.Getenv(c.Generation.APIKeyEnv)
	}
	return ""
}
