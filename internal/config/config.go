package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"budgetviz/internal/core"
)

type Config struct {
	// HTTP Server
	Port           string
	MaxUploadBytes int64

	// Upstream data service
	UpstreamURL     string
	UpstreamTimeout time.Duration
	UpstreamRPS     float64

	// Response cache
	CacheSize int
	CacheTTL  time.Duration

	// Session persistence; empty path disables it
	SQLiteDBPath string
	SessionName  string

	// AMQP; empty URL disables it
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export; empty spreadsheet ID disables it
	GoogleSpreadsheetID string
	GoogleSheetName     string
	ExportInterval      time.Duration // worker schedule; zero disables it

	// Dashboard behaviour
	DrilldownConcurrency int
	RefetchTimeout       time.Duration
	RecentYears          []int
	ExcludedCategory     string
	DefaultTimePeriod    string
	DefaultCurrency      string

	// Logging
	LogLevel  string
	LogFormat string

	// ConfigFile is the YAML file read before the environment, if any.
	ConfigFile string

	loadErrs []string
}

// fileConfig is the YAML layout of CONFIG_FILE. Unset keys keep defaults.
type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"server"`
	Upstream struct {
		URL     string  `yaml:"url"`
		Timeout string  `yaml:"timeout"`
		RPS     float64 `yaml:"rps"`
	} `yaml:"upstream"`
	Cache struct {
		Size int    `yaml:"size"`
		TTL  string `yaml:"ttl"`
	} `yaml:"cache"`
	Storage struct {
		SQLitePath string `yaml:"sqlite_path"`
		Session    string `yaml:"session"`
	} `yaml:"storage"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
		Queue    string `yaml:"queue"`
	} `yaml:"amqp"`
	Sheets struct {
		SpreadsheetID  string `yaml:"spreadsheet_id"`
		SheetName      string `yaml:"sheet_name"`
		ExportInterval string `yaml:"export_interval"`
	} `yaml:"sheets"`
	Dashboard struct {
		RecentYears          []int  `yaml:"recent_years"`
		ExcludedCategory     string `yaml:"excluded_category"`
		DefaultTimePeriod    string `yaml:"default_time_period"`
		DefaultCurrency      string `yaml:"default_currency"`
		DrilldownConcurrency int    `yaml:"drilldown_concurrency"`
		RefetchTimeout       string `yaml:"refetch_timeout"`
	} `yaml:"dashboard"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaults() *Config {
	ud := core.DefaultUploadDefaults()
	return &Config{
		Port:                 "8081",
		MaxUploadBytes:       32 << 20,
		UpstreamURL:          "http://localhost:8000",
		UpstreamTimeout:      20 * time.Second,
		UpstreamRPS:          10,
		CacheSize:            200,
		CacheTTL:             5 * time.Minute,
		SessionName:          "default",
		AMQPExchange:         "budgetviz",
		AMQPQueue:            "budgetviz_commands",
		GoogleSheetName:      "Budget Export",
		DrilldownConcurrency: 4,
		RefetchTimeout:       30 * time.Second,
		RecentYears:          ud.RecentYears,
		ExcludedCategory:     ud.ExcludedCategory,
		DefaultTimePeriod:    string(core.Month),
		DefaultCurrency:      string(core.GBP),
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then environment variables. Problems found while reading are
// reported by Validate.
func Load() *Config {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		cfg.ConfigFile = path
		if err := cfg.applyFile(path); err != nil {
			cfg.loadErrs = append(cfg.loadErrs, err.Error())
		}
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, f.Server.Port)
	if f.Server.MaxUploadBytes != 0 {
		c.MaxUploadBytes = f.Server.MaxUploadBytes
	}
	setString(&c.UpstreamURL, f.Upstream.URL)
	if err := setDuration(&c.UpstreamTimeout, f.Upstream.Timeout); err != nil {
		return fmt.Errorf("upstream.timeout: %w", err)
	}
	if f.Upstream.RPS != 0 {
		c.UpstreamRPS = f.Upstream.RPS
	}
	if f.Cache.Size != 0 {
		c.CacheSize = f.Cache.Size
	}
	if err := setDuration(&c.CacheTTL, f.Cache.TTL); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}
	setString(&c.SQLiteDBPath, f.Storage.SQLitePath)
	setString(&c.SessionName, f.Storage.Session)
	setString(&c.AMQPURL, f.AMQP.URL)
	setString(&c.AMQPExchange, f.AMQP.Exchange)
	setString(&c.AMQPQueue, f.AMQP.Queue)
	setString(&c.GoogleSpreadsheetID, f.Sheets.SpreadsheetID)
	setString(&c.GoogleSheetName, f.Sheets.SheetName)
	if err := setDuration(&c.ExportInterval, f.Sheets.ExportInterval); err != nil {
		return fmt.Errorf("sheets.export_interval: %w", err)
	}
	if len(f.Dashboard.RecentYears) > 0 {
		c.RecentYears = f.Dashboard.RecentYears
	}
	setString(&c.ExcludedCategory, f.Dashboard.ExcludedCategory)
	setString(&c.DefaultTimePeriod, f.Dashboard.DefaultTimePeriod)
	setString(&c.DefaultCurrency, f.Dashboard.DefaultCurrency)
	if f.Dashboard.DrilldownConcurrency != 0 {
		c.DrilldownConcurrency = f.Dashboard.DrilldownConcurrency
	}
	if err := setDuration(&c.RefetchTimeout, f.Dashboard.RefetchTimeout); err != nil {
		return fmt.Errorf("dashboard.refetch_timeout: %w", err)
	}
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))

	c.UpstreamURL = getEnv("UPSTREAM_URL", c.UpstreamURL)
	c.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", c.UpstreamTimeout)
	c.UpstreamRPS = getEnvFloat("UPSTREAM_RPS", c.UpstreamRPS)

	c.CacheSize = getEnvInt("CACHE_SIZE", c.CacheSize)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)

	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)
	c.SessionName = getEnv("SESSION_NAME", c.SessionName)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", c.GoogleSpreadsheetID)
	c.GoogleSheetName = getEnv("GOOGLE_SHEET_NAME", c.GoogleSheetName)
	c.ExportInterval = getEnvDuration("EXPORT_INTERVAL", c.ExportInterval)

	c.DrilldownConcurrency = getEnvInt("DRILLDOWN_CONCURRENCY", c.DrilldownConcurrency)
	c.RefetchTimeout = getEnvDuration("REFETCH_TIMEOUT", c.RefetchTimeout)
	if v := os.Getenv("RECENT_YEARS"); v != "" {
		years, err := parseYears(v)
		if err != nil {
			c.loadErrs = append(c.loadErrs, fmt.Sprintf("invalid RECENT_YEARS '%s': %v", v, err))
		} else {
			c.RecentYears = years
		}
	}
	c.ExcludedCategory = getEnv("EXCLUDED_CATEGORY", c.ExcludedCategory)
	c.DefaultTimePeriod = getEnv("DEFAULT_TIME_PERIOD", c.DefaultTimePeriod)
	c.DefaultCurrency = getEnv("DEFAULT_CURRENCY", c.DefaultCurrency)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	errors := append([]string{}, c.loadErrs...)

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid upstream URL '%s': must be an absolute URL", c.UpstreamURL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid upstream URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	}
	if c.UpstreamTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid upstream timeout %v: must be positive", c.UpstreamTimeout))
	}
	if c.UpstreamRPS < 0 {
		errors = append(errors, fmt.Sprintf("invalid upstream rate %v: must not be negative", c.UpstreamRPS))
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}

	if c.SQLiteDBPath != "" && strings.TrimSpace(c.SessionName) == "" {
		errors = append(errors, "session name cannot be empty when SQLite persistence is enabled")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" && c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
	}
	if c.ExportInterval < 0 || (c.ExportInterval > 0 && c.ExportInterval < time.Minute) {
		errors = append(errors, fmt.Sprintf("invalid export interval %v: must be zero or at least 1 minute", c.ExportInterval))
	}

	if c.MaxUploadBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be positive", c.MaxUploadBytes))
	}
	if c.DrilldownConcurrency < 1 || c.DrilldownConcurrency > 32 {
		errors = append(errors, fmt.Sprintf("invalid drill-down concurrency %d: must be between 1 and 32", c.DrilldownConcurrency))
	}
	if c.RefetchTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid refetch timeout %v: must be positive", c.RefetchTimeout))
	}
	if _, err := core.ParseTimePeriod(c.DefaultTimePeriod); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default time period '%s': must be one of week, month, year", c.DefaultTimePeriod))
	}
	if _, err := core.ParseCurrency(c.DefaultCurrency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be one of GBP, USD, EUR, RMB", c.DefaultCurrency))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// InitialCriteria is the filter state before anything is uploaded or restored.
func (c *Config) InitialCriteria() core.FilterCriteria {
	crit := core.DefaultCriteria()
	if tp, err := core.ParseTimePeriod(c.DefaultTimePeriod); err == nil {
		crit.TimePeriod = tp
	}
	if cur, err := core.ParseCurrency(c.DefaultCurrency); err == nil {
		crit.Currency = cur
	}
	return crit
}

func (c *Config) UploadDefaults() core.UploadDefaults {
	return core.UploadDefaults{
		RecentYears:      append([]int{}, c.RecentYears...),
		ExcludedCategory: c.ExcludedCategory,
	}
}

func (c *Config) PersistenceEnabled() bool { return c.SQLiteDBPath != "" }

func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }

func (c *Config) ExportEnabled() bool { return c.GoogleSpreadsheetID != "" }

func parseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("year %q is not a number", part)
		}
		years = append(years, y)
	}
	return years, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
