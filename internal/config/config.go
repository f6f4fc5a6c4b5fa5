// Package config loads service settings from defaults, an optional YAML
// file and NOVACL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NEXORA-Studios/NovaCL/internal/downloadcfg"
	"github.com/NEXORA-Studios/NovaCL/internal/progress"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOVACL_"

// Config defines configuration for the NovaCL service and CLI.
type Config struct {
	Addr                  string
	APIToken              string
	DefaultSegments       int
	MaxConcurrentSegments int
	MaxActiveDownloads    int
	CollisionPolicy       downloadcfg.CollisionPolicy
	// BandwidthLimit caps total bytes per second. Zero means unlimited.
	BandwidthLimit     int64
	CheckpointInterval time.Duration
	SpeedWindow        time.Duration
	ResumeOnStart      bool
	CheckFreeSpace     bool
	// DatabaseURL selects the Postgres repository. Empty keeps records in
	// memory.
	DatabaseURL string
	HTTP        HTTPConfig
	Retry       RetryConfig
	Log         LogConfig
}

type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// RetryConfig defines retry behavior for transient network failures.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	// File enables a rotating log file next to stdout output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Addr:                  "127.0.0.1:9090",
		DefaultSegments:       4,
		MaxConcurrentSegments: 16,
		MaxActiveDownloads:    5,
		CollisionPolicy:       downloadcfg.CollisionError,
		CheckpointInterval:    time.Second,
		SpeedWindow:           2 * time.Second,
		CheckFreeSpace:        true,
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "NovaCL/1.0",
		},
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// yamlConfig mirrors Config with string durations and sizes. Pointers
// distinguish unset keys from explicit zero values.
type yamlConfig struct {
	Addr                  *string  `yaml:"addr"`
	APIToken              *string  `yaml:"api_token"`
	DefaultSegments       *int     `yaml:"default_segments"`
	MaxConcurrentSegments *int     `yaml:"max_concurrent_segments"`
	MaxActiveDownloads    *int     `yaml:"max_active_downloads"`
	CollisionPolicy       *string  `yaml:"collision_policy"`
	BandwidthLimit        *string  `yaml:"bandwidth_limit"`
	CheckpointInterval    *string  `yaml:"checkpoint_interval"`
	SpeedWindow           *string  `yaml:"speed_window"`
	ResumeOnStart         *bool    `yaml:"resume_on_start"`
	CheckFreeSpace        *bool    `yaml:"check_free_space"`
	DatabaseURL           *string  `yaml:"database_url"`
	HTTP                  yamlHTTP `yaml:"http"`
	Retry                 struct {
		Attempts   *int    `yaml:"attempts"`
		Backoff    *string `yaml:"backoff"`
		MaxBackoff *string `yaml:"max_backoff"`
	} `yaml:"retry"`
	Log struct {
		Level      *string `yaml:"level"`
		Format     *string `yaml:"format"`
		File       *string `yaml:"file"`
		MaxSizeMB  *int    `yaml:"max_size_mb"`
		MaxBackups *int    `yaml:"max_backups"`
		MaxAgeDays *int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

type yamlHTTP struct {
	Timeout   *string `yaml:"timeout"`
	UserAgent *string `yaml:"user_agent"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg := Default()
	if err := cfg.apply(yc); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(yc yamlConfig) error {
	setString(&c.Addr, yc.Addr)
	setString(&c.APIToken, yc.APIToken)
	setInt(&c.DefaultSegments, yc.DefaultSegments)
	setInt(&c.MaxConcurrentSegments, yc.MaxConcurrentSegments)
	setInt(&c.MaxActiveDownloads, yc.MaxActiveDownloads)
	if yc.CollisionPolicy != nil {
		p, err := downloadcfg.ParseCollisionPolicy(*yc.CollisionPolicy)
		if err != nil {
			return fmt.Errorf("parse collision_policy: %w", err)
		}
		c.CollisionPolicy = p
	}
	if yc.BandwidthLimit != nil {
		n, err := progress.ParseBytes(*yc.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("parse bandwidth_limit: %w", err)
		}
		c.BandwidthLimit = n
	}
	if err := setDuration(&c.CheckpointInterval, yc.CheckpointInterval, "checkpoint_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.SpeedWindow, yc.SpeedWindow, "speed_window"); err != nil {
		return err
	}
	setBool(&c.ResumeOnStart, yc.ResumeOnStart)
	setBool(&c.CheckFreeSpace, yc.CheckFreeSpace)
	setString(&c.DatabaseURL, yc.DatabaseURL)

	if err := setDuration(&c.HTTP.Timeout, yc.HTTP.Timeout, "http.timeout"); err != nil {
		return err
	}
	setString(&c.HTTP.UserAgent, yc.HTTP.UserAgent)

	setInt(&c.Retry.Attempts, yc.Retry.Attempts)
	if err := setDuration(&c.Retry.Backoff, yc.Retry.Backoff, "retry.backoff"); err != nil {
		return err
	}
	if err := setDuration(&c.Retry.MaxBackoff, yc.Retry.MaxBackoff, "retry.max_backoff"); err != nil {
		return err
	}

	setString(&c.Log.Level, yc.Log.Level)
	setString(&c.Log.Format, yc.Log.Format)
	setString(&c.Log.File, yc.Log.File)
	setInt(&c.Log.MaxSizeMB, yc.Log.MaxSizeMB)
	setInt(&c.Log.MaxBackups, yc.Log.MaxBackups)
	setInt(&c.Log.MaxAgeDays, yc.Log.MaxAgeDays)
	return nil
}

// LoadFromEnv applies NOVACL_* environment overrides. Keys mirror the YAML
// keys upper-cased with dots replaced by underscores, e.g.
// NOVACL_RETRY_MAX_BACKOFF.
func (c *Config) LoadFromEnv() error {
	var yc yamlConfig
	yc.Addr = env("ADDR")
	yc.APIToken = env("API_TOKEN")
	yc.CollisionPolicy = env("COLLISION_POLICY")
	yc.BandwidthLimit = env("BANDWIDTH_LIMIT")
	yc.CheckpointInterval = env("CHECKPOINT_INTERVAL")
	yc.SpeedWindow = env("SPEED_WINDOW")
	yc.DatabaseURL = env("DATABASE_URL")
	yc.HTTP.Timeout = env("HTTP_TIMEOUT")
	yc.HTTP.UserAgent = env("HTTP_USER_AGENT")
	yc.Retry.Backoff = env("RETRY_BACKOFF")
	yc.Retry.MaxBackoff = env("RETRY_MAX_BACKOFF")
	yc.Log.Level = env("LOG_LEVEL")
	yc.Log.Format = env("LOG_FORMAT")
	yc.Log.File = env("LOG_FILE")

	ints := []struct {
		key string
		dst **int
	}{
		{"DEFAULT_SEGMENTS", &yc.DefaultSegments},
		{"MAX_CONCURRENT_SEGMENTS", &yc.MaxConcurrentSegments},
		{"MAX_ACTIVE_DOWNLOADS", &yc.MaxActiveDownloads},
		{"RETRY_ATTEMPTS", &yc.Retry.Attempts},
		{"LOG_MAX_SIZE_MB", &yc.Log.MaxSizeMB},
		{"LOG_MAX_BACKUPS", &yc.Log.MaxBackups},
		{"LOG_MAX_AGE_DAYS", &yc.Log.MaxAgeDays},
	}
	for _, i := range ints {
		v := env(i.key)
		if v == nil {
			continue
		}
		n, err := strconv.Atoi(*v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, i.key, err)
		}
		*i.dst = &n
	}

	bools := []struct {
		key string
		dst **bool
	}{
		{"RESUME_ON_START", &yc.ResumeOnStart},
		{"CHECK_FREE_SPACE", &yc.CheckFreeSpace},
	}
	for _, b := range bools {
		v := env(b.key)
		if v == nil {
			continue
		}
		parsed, err := strconv.ParseBool(*v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, b.key, err)
		}
		*b.dst = &parsed
	}
	return c.apply(yc)
}

// Load builds the effective configuration: defaults, then path when not
// empty, then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("config: addr is required"))
	}
	if c.DefaultSegments < 1 {
		errs = append(errs, errors.New("config: default_segments must be positive"))
	}
	if c.MaxConcurrentSegments < 0 {
		errs = append(errs, errors.New("config: max_concurrent_segments must not be negative"))
	}
	if c.MaxActiveDownloads < 0 {
		errs = append(errs, errors.New("config: max_active_downloads must not be negative"))
	}
	if c.BandwidthLimit < 0 {
		errs = append(errs, errors.New("config: bandwidth_limit must not be negative"))
	}
	if c.CheckpointInterval <= 0 {
		errs = append(errs, errors.New("config: checkpoint_interval must be positive"))
	}
	if c.SpeedWindow <= 0 {
		errs = append(errs, errors.New("config: speed_window must be positive"))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("config: http.timeout must not be negative"))
	}
	if c.Retry.Attempts < 0 {
		errs = append(errs, errors.New("config: retry.attempts must not be negative"))
	}
	if c.Retry.Backoff <= 0 || c.Retry.MaxBackoff < c.Retry.Backoff {
		errs = append(errs, errors.New("config: retry.backoff must be positive and not exceed retry.max_backoff"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func env(key string) *string {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
