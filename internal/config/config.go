package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatcher.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Logging   LoggingConfig    `yaml:"logging"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               int      `yaml:"port"`
	Host               string   `yaml:"host"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	ReadTimeoutSeconds int      `yaml:"read_timeout_seconds"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects and tunes the store backend.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // "postgres" or "memory"
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the Redis connection used for per-campaign locks.
// An empty URL disables Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig holds runner and scheduler settings.
type DispatchConfig struct {
	UTCOffsetMinutes            int `yaml:"utc_offset_minutes"`
	DefaultBatchSize            int `yaml:"default_batch_size"`
	DefaultEmailIntervalSeconds int `yaml:"default_email_interval_seconds"`
	LockTTLSeconds              int `yaml:"lock_ttl_seconds"`
	ResumeIntervalSeconds       int `yaml:"resume_interval_seconds"`
}

// LockTTL returns the lease duration for per-campaign locks.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ResumeInterval returns how often paused campaigns are swept.
func (c DispatchConfig) ResumeInterval() time.Duration {
	return time.Duration(c.ResumeIntervalSeconds) * time.Second
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// ProviderConfig is one entry of the ordered provider priority list.
type ProviderConfig struct {
	Name     string          `yaml:"name"`
	Kind     string          `yaml:"kind"` // ses, sparkpost, mailgun, sendgrid, smtp
	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountConfig holds the credentials and quota for one sending account.
// Secrets may be given inline or through *_env references.
type AccountConfig struct {
	DailyLimit     int    `yaml:"daily_limit"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Domain         string `yaml:"domain"`
	BaseURL        string `yaml:"base_url"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	SecretKeyEnv   string `yaml:"secret_key_env"`
	SMTPHost       string `yaml:"smtp_host"`
	SMTPPort       int    `yaml:"smtp_port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PasswordEnv    string `yaml:"password_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     *int   `yaml:"max_retries"`
}

// Timeout returns the per-request transport timeout.
func (c AccountConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retries returns how many times an HTTP API call refused with 429/503 is
// retried (default 2, 0 disables).
func (c AccountConfig) Retries() int {
	if c.MaxRetries == nil {
		return 2
	}
	return *c.MaxRetries
}

// AccountKey returns the stable key for the i-th (0-based) account of p:
// the provider name when it has one account, name-N (1-based) otherwise.
func (p ProviderConfig) AccountKey(i int) string {
	if len(p.Accounts) == 1 {
		return p.Name
	}
	return fmt.Sprintf("%s-%d", p.Name, i+1)
}

var knownKinds = map[string]bool{
	"ses":       true,
	"sparkpost": true,
	"mailgun":   true,
	"sendgrid":  true,
	"smtp":      true,
}

var defaultBaseURLs = map[string]string{
	"sparkpost": "https://api.sparkpost.com/api/v1",
	"mailgun":   "https://api.mailgun.net/v3",
	"sendgrid":  "https://api.sendgrid.com/v3",
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config and applies defaults.
func Parse(data []byte) (*Config, error) {
	var raw struct {
		Dispatch struct {
			UTCOffsetMinutes *int `yaml:"utc_offset_minutes"`
		} `yaml:"dispatch"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg, raw.Dispatch.UTCOffsetMinutes != nil)
	return &cfg, nil
}

func applyDefaults(cfg *Config, offsetSet bool) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 30
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	// UTC (0) is a legitimate offset, so only an absent key gets the default.
	if !offsetSet {
		cfg.Dispatch.UTCOffsetMinutes = 330
	}
	if cfg.Dispatch.DefaultBatchSize == 0 {
		cfg.Dispatch.DefaultBatchSize = 50
	}
	if cfg.Dispatch.DefaultEmailIntervalSeconds == 0 {
		cfg.Dispatch.DefaultEmailIntervalSeconds = 5
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 120
	}
	if cfg.Dispatch.ResumeIntervalSeconds == 0 {
		cfg.Dispatch.ResumeIntervalSeconds = 900
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		for j := range p.Accounts {
			a := &p.Accounts[j]
			if a.BaseURL == "" {
				a.BaseURL = defaultBaseURLs[p.Kind]
			}
			if p.Kind == "ses" && a.Region == "" {
				a.Region = "us-east-1"
			}
			if p.Kind == "smtp" && a.SMTPPort == 0 {
				a.SMTPPort = 587
			}
			if a.TimeoutSeconds == 0 {
				a.TimeoutSeconds = 30
			}
		}
	}
}

// LoadFromEnv loads config with .env and environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment and resolves *_env
// secret references. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("DISPATCH_UTC_OFFSET_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_UTC_OFFSET_MINUTES: %w", err)
		}
		c.Dispatch.UTCOffsetMinutes = n
	}
	if v := getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}

	for i := range c.Providers {
		for j := range c.Providers[i].Accounts {
			a := &c.Providers[i].Accounts[j]
			if a.APIKeyEnv != "" {
				if v := getenv(a.APIKeyEnv); v != "" {
					a.APIKey = v
				}
			}
			if a.SecretKeyEnv != "" {
				if v := getenv(a.SecretKeyEnv); v != "" {
					a.SecretKey = v
				}
			}
			if a.PasswordEnv != "" {
				if v := getenv(a.PasswordEnv); v != "" {
					a.Password = v
				}
			}
		}
	}
	return nil
}

// Validate checks the provider list and dispatch settings. An empty provider
// list is allowed here; the pool reports it on first send.
func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required for the postgres driver")
	}
	if c.Dispatch.UTCOffsetMinutes <= -24*60 || c.Dispatch.UTCOffsetMinutes >= 24*60 {
		return fmt.Errorf("dispatch.utc_offset_minutes out of range: %d", c.Dispatch.UTCOffsetMinutes)
	}
	if c.Dispatch.DefaultBatchSize < 1 {
		return fmt.Errorf("dispatch.default_batch_size must be positive")
	}
	if c.Dispatch.DefaultEmailIntervalSeconds < 0 {
		return fmt.Errorf("dispatch.default_email_interval_seconds must not be negative")
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if !knownKinds[p.Kind] {
			return fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
		}
		if len(p.Accounts) == 0 {
			return fmt.Errorf("provider %s: at least one account is required", p.Name)
		}
		for j, a := range p.Accounts {
			if a.MaxRetries != nil && *a.MaxRetries < 0 {
				return fmt.Errorf("provider %s account %d: max_retries must not be negative", p.Name, j+1)
			}
			if a.DailyLimit < 0 {
				return fmt.Errorf("provider %s account %d: daily_limit must not be negative", p.Name, j+1)
			}
			if a.FromEmail == "" {
				return fmt.Errorf("provider %s account %d: from_email is required", p.Name, j+1)
			}
		}
	}
	return nil
}
