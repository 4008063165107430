package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxFileSize is the ingestion ceiling when none is configured (4 GiB).
const DefaultMaxFileSize int64 = 4 * 1024 * 1024 * 1024

// AppConfig holds file and environment driven configuration values.
// The bot token should never have a default inside code and must be provided via file or environment.
type AppConfig struct {
	AppPort            int
	BaseURL            string
	MaxFileSize        int64
	Retention          time.Duration
	MaxConnections     int
	RateLimitPerMinute int
	AllowedOrigins     []string
	GinMode            string

	// Telegram
	TelegramToken        string
	TelegramAPIEndpoint  string
	TelegramFileEndpoint string
	TelegramWorkers      int
	Debug                bool

	// Upstream
	ResolveTimeout    time.Duration
	StreamIdleTimeout time.Duration
	LinkTTL           time.Duration
	LinkCacheSize     int

	// Redis for the shared link cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MySQL intake journal
	SQLDSN string

	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// fileConfig mirrors the grouped YAML layout. Pointers distinguish "absent" from zero.
type fileConfig struct {
	App struct {
		Port               *int     `yaml:"port"`
		BaseURL            string   `yaml:"base_url"`
		MaxFileSize        *int64   `yaml:"max_file_size"`
		Retention          string   `yaml:"retention"`
		MaxConnections     *int     `yaml:"max_connections"`
		RateLimitPerMinute *int     `yaml:"rate_limit_per_minute"`
		AllowedOrigins     []string `yaml:"allowed_origins"`
		GinMode            string   `yaml:"gin_mode"`
	} `yaml:"app"`
	Telegram struct {
		Token        string `yaml:"token"`
		APIEndpoint  string `yaml:"api_endpoint"`
		FileEndpoint string `yaml:"file_endpoint"`
		Workers      *int   `yaml:"workers"`
		Debug        *bool  `yaml:"debug"`
	} `yaml:"telegram"`
	Upstream struct {
		ResolveTimeout string `yaml:"resolve_timeout"`
		IdleTimeout    string `yaml:"idle_timeout"`
		LinkTTL        string `yaml:"link_ttl"`
		CacheSize      *int   `yaml:"cache_size"`
	} `yaml:"upstream"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
	} `yaml:"redis"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Log struct {
		Level      string `yaml:"level"`
		Path       string `yaml:"path"`
		MaxSizeMB  *int   `yaml:"max_size_mb"`
		MaxBackups *int   `yaml:"max_backups"`
		MaxAgeDays *int   `yaml:"max_age_days"`
		Compress   *bool  `yaml:"compress"`
	} `yaml:"log"`
}

// Load builds the configuration.
// Precedence: YAML file at path (optional) -> defaults -> environment variable overrides.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	applyDefaults(&cfg)

	if path != "" {
		if err := loadYAMLConfig(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as odd runtime behaviour.
func (c AppConfig) Validate() error {
	if c.AppPort <= 0 || c.AppPort > 65535 {
		return fmt.Errorf("invalid port %d", c.AppPort)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive, got %d", c.MaxFileSize)
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base url %q must start with http:// or https://", c.BaseURL)
	}
	if c.ResolveTimeout < 0 || c.StreamIdleTimeout < 0 || c.Retention < 0 {
		return errors.New("timeouts and retention cannot be negative")
	}
	if c.TelegramWorkers <= 0 {
		return fmt.Errorf("telegram workers must be positive, got %d", c.TelegramWorkers)
	}
	return nil
}

// PublicURL joins the base URL with a path such as "/stream/<key>".
func (c AppConfig) PublicURL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// applyDefaults sets sane defaults for every field.
func applyDefaults(c *AppConfig) {
	c.AppPort = 3000
	c.BaseURL = "http://localhost:3000"
	c.MaxFileSize = DefaultMaxFileSize
	c.RateLimitPerMinute = 120
	c.AllowedOrigins = []string{"*"}
	c.GinMode = "release"
	c.TelegramWorkers = runtime.NumCPU() + 2
	c.ResolveTimeout = 15 * time.Second
	c.LinkTTL = 55 * time.Minute
	c.LinkCacheSize = 4096
	c.LogLevel = "info"
	c.LogMaxSizeMB = 100
	c.LogMaxBackups = 3
	c.LogMaxAgeDays = 7
}

// loadYAMLConfig reads the YAML file into c. A missing file is silently ignored,
// invalid YAML is an error.
func loadYAMLConfig(path string, c *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setInt(&c.AppPort, fc.App.Port)
	setString(&c.BaseURL, fc.App.BaseURL)
	if fc.App.MaxFileSize != nil {
		c.MaxFileSize = *fc.App.MaxFileSize
	}
	setInt(&c.MaxConnections, fc.App.MaxConnections)
	setInt(&c.RateLimitPerMinute, fc.App.RateLimitPerMinute)
	if len(fc.App.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.App.AllowedOrigins
	}
	setString(&c.GinMode, fc.App.GinMode)

	setString(&c.TelegramToken, fc.Telegram.Token)
	setString(&c.TelegramAPIEndpoint, fc.Telegram.APIEndpoint)
	setString(&c.TelegramFileEndpoint, fc.Telegram.FileEndpoint)
	setInt(&c.TelegramWorkers, fc.Telegram.Workers)
	setBool(&c.Debug, fc.Telegram.Debug)

	setInt(&c.LinkCacheSize, fc.Upstream.CacheSize)
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"app.retention", fc.App.Retention, &c.Retention},
		{"upstream.resolve_timeout", fc.Upstream.ResolveTimeout, &c.ResolveTimeout},
		{"upstream.idle_timeout", fc.Upstream.IdleTimeout, &c.StreamIdleTimeout},
		{"upstream.link_ttl", fc.Upstream.LinkTTL, &c.LinkTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.key, d.raw)
		}
		*d.dst = v
	}

	setString(&c.RedisAddr, fc.Redis.Addr)
	setString(&c.RedisPassword, fc.Redis.Password)
	setInt(&c.RedisDB, fc.Redis.DB)
	setString(&c.SQLDSN, fc.MySQL.DSN)

	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogPath, fc.Log.Path)
	setInt(&c.LogMaxSizeMB, fc.Log.MaxSizeMB)
	setInt(&c.LogMaxBackups, fc.Log.MaxBackups)
	setInt(&c.LogMaxAgeDays, fc.Log.MaxAgeDays)
	setBool(&c.LogCompress, fc.Log.Compress)
	return nil
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) error {
	var errs []error
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = i
		}
	}
	envDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
				return
			}
			*dst = d
		}
	}
	envString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envInt("PORT", &c.AppPort)
	envString("WEBAPP_URL", &c.BaseURL)
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_FILE_SIZE: invalid integer %q", v))
		} else {
			c.MaxFileSize = n
		}
	}
	envDuration("FILE_RETENTION", &c.Retention)
	envInt("MAX_CONNECTIONS", &c.MaxConnections)
	envInt("RATE_LIMIT_PER_MINUTE", &c.RateLimitPerMinute)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	envString("GIN_MODE", &c.GinMode)

	envString("TELEGRAM_BOT_TOKEN", &c.TelegramToken)
	envString("TELEGRAM_API_ENDPOINT", &c.TelegramAPIEndpoint)
	envString("TELEGRAM_FILE_ENDPOINT", &c.TelegramFileEndpoint)
	envInt("TELEGRAM_WORKERS", &c.TelegramWorkers)
	envBool("DEBUG", &c.Debug)

	envDuration("RESOLVE_TIMEOUT", &c.ResolveTimeout)
	envDuration("STREAM_IDLE_TIMEOUT", &c.StreamIdleTimeout)
	envDuration("LINK_TTL", &c.LinkTTL)
	envInt("LINK_CACHE_SIZE", &c.LinkCacheSize)

	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)
	envString("RELAY_SQL_DSN", &c.SQLDSN)

	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_PATH", &c.LogPath)
	envInt("LOG_MAX_SIZE_MB", &c.LogMaxSizeMB)
	envInt("LOG_MAX_BACKUPS", &c.LogMaxBackups)
	envInt("LOG_MAX_AGE_DAYS", &c.LogMaxAgeDays)
	envBool("LOG_COMPRESS", &c.LogCompress)

	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
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

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
