package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kevin07696/settlement-service/pkg/timeutil"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Logger       LoggerConfig       `yaml:"logger"`
	Settlement   SettlementConfig   `yaml:"settlement"`
	Bank         BankConfig         `yaml:"bank"`
	Notification NotificationConfig `yaml:"notification"`
	Auth         AuthConfig         `yaml:"auth"`
	Secrets      SecretsConfig      `yaml:"secrets"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	MetricsPort     int    `yaml:"metrics_port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// DatabaseConfig holds PostgreSQL configuration.
// An empty Host selects the in-memory store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	Port     int    `yaml:"port"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Environment string `yaml:"environment"` // production selects JSON output
	Level       string `yaml:"level"`       // debug, info, warn, error
}

// SettlementConfig tunes accumulation and the weekly batch
type SettlementConfig struct {
	Currency            string `yaml:"currency"`
	WeekEnd             string `yaml:"week_end"`
	ScheduleDay         string `yaml:"schedule_day"`
	ScheduleTime        string `yaml:"schedule_time"` // HH:MM
	Timezone            string `yaml:"timezone"`
	SchedulerEnabled    bool   `yaml:"scheduler_enabled"`
	CatchUp             bool   `yaml:"catch_up"`
	Workers             int    `yaml:"workers"`
	MaxAccumulateTries  int    `yaml:"max_accumulate_attempts"`
	StatusWriteAttempts int    `yaml:"status_write_attempts"`
	ClaimTTLMinutes     int    `yaml:"claim_ttl_minutes"` // 0 means twice the batch timeout
}

// BankConfig holds the disbursement gateway settings
type BankConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
	Simulated  bool   `yaml:"simulated"`
}

// NotificationConfig holds the notification service settings.
// An empty URL disables notifications.
type NotificationConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// AuthConfig holds the shared secrets guarding the admin and cron routes
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	CronSecret string `yaml:"cron_secret"`
}

// SecretsConfig selects where runtime secrets are resolved from
type SecretsConfig struct {
	Backend      string `yaml:"backend"` // env, local, vault, aws
	PathPrefix   string `yaml:"path_prefix"`
	LocalDir     string `yaml:"local_dir"`
	VaultAddress string `yaml:"vault_address"`
	VaultToken   string `yaml:"vault_token"`
	VaultRoleID  string `yaml:"vault_role_id"` // AppRole login when set
	VaultSecret  string `yaml:"vault_secret_id"`
	VaultMount   string `yaml:"vault_mount"`
	AWSRegion    string `yaml:"aws_region"`
	AWSEndpoint  string `yaml:"aws_endpoint"`
}

// RateLimitConfig bounds the order ingestion rate per client
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MetricsPort:     9090,
			ShutdownTimeout: 30,
		},
		Database: DatabaseConfig{
			Port:     5432,
			User:     "postgres",
			Database: "settlement_service",
			SSLMode:  "disable",
			MaxConns: 25,
			MinConns: 5,
		},
		Logger: LoggerConfig{
			Environment: "development",
			Level:       "info",
		},
		Settlement: SettlementConfig{
			Currency:            "LKR",
			WeekEnd:             "Sunday",
			ScheduleDay:         "Sunday",
			ScheduleTime:        "23:30",
			Timezone:            "Asia/Colombo",
			SchedulerEnabled:    true,
			CatchUp:             true,
			Workers:             4,
			MaxAccumulateTries:  5,
			StatusWriteAttempts: 3,
		},
		Bank: BankConfig{
			Timeout:    30,
			MaxRetries: 2,
		},
		Notification: NotificationConfig{
			Timeout: 10,
		},
		Secrets: SecretsConfig{
			Backend:    "env",
			PathPrefix: "settlement-service",
			LocalDir:   "./secrets",
			VaultMount: "secret",
			AWSRegion:  "us-east-1",
		},
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
	}
}

// LoadFromEnv loads configuration: built-in defaults, then the YAML file
// named by CONFIG_FILE, then environment variables.
func LoadFromEnv() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is LoadFromEnv without validation, for operator tools that only
// need a few sections such as Database.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.MetricsPort = getEnvAsInt("METRICS_PORT", c.Server.MetricsPort)
	c.Server.ShutdownTimeout = getEnvAsInt("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvAsInt("DB_MAX_CONNS", int(c.Database.MaxConns)))
	c.Database.MinConns = int32(getEnvAsInt("DB_MIN_CONNS", int(c.Database.MinConns)))

	c.Logger.Environment = getEnv("ENVIRONMENT", c.Logger.Environment)
	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)

	c.Settlement.Currency = getEnv("SETTLEMENT_CURRENCY", c.Settlement.Currency)
	c.Settlement.WeekEnd = getEnv("SETTLEMENT_WEEK_END", c.Settlement.WeekEnd)
	c.Settlement.ScheduleDay = getEnv("SETTLEMENT_SCHEDULE_DAY", c.Settlement.ScheduleDay)
	c.Settlement.ScheduleTime = getEnv("SETTLEMENT_SCHEDULE_TIME", c.Settlement.ScheduleTime)
	c.Settlement.Timezone = getEnv("SETTLEMENT_TIMEZONE", c.Settlement.Timezone)
	c.Settlement.SchedulerEnabled = getEnvAsBool("SETTLEMENT_SCHEDULER_ENABLED", c.Settlement.SchedulerEnabled)
	c.Settlement.CatchUp = getEnvAsBool("SETTLEMENT_CATCH_UP", c.Settlement.CatchUp)
	c.Settlement.Workers = getEnvAsInt("SETTLEMENT_WORKERS", c.Settlement.Workers)
	c.Settlement.MaxAccumulateTries = getEnvAsInt("SETTLEMENT_MAX_ACCUMULATE_ATTEMPTS", c.Settlement.MaxAccumulateTries)
	c.Settlement.StatusWriteAttempts = getEnvAsInt("SETTLEMENT_STATUS_WRITE_ATTEMPTS", c.Settlement.StatusWriteAttempts)
	c.Settlement.ClaimTTLMinutes = getEnvAsInt("SETTLEMENT_CLAIM_TTL_MINUTES", c.Settlement.ClaimTTLMinutes)

	c.Bank.BaseURL = getEnv("BANK_BASE_URL", c.Bank.BaseURL)
	c.Bank.APIKey = getEnv("BANK_API_KEY", c.Bank.APIKey)
	c.Bank.Timeout = getEnvAsInt("BANK_TIMEOUT", c.Bank.Timeout)
	c.Bank.MaxRetries = getEnvAsInt("BANK_MAX_RETRIES", c.Bank.MaxRetries)
	c.Bank.Simulated = getEnvAsBool("BANK_SIMULATED", c.Bank.Simulated)

	c.Notification.URL = getEnv("NOTIFICATION_SERVICE_URL", c.Notification.URL)
	c.Notification.Timeout = getEnvAsInt("NOTIFICATION_TIMEOUT", c.Notification.Timeout)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.CronSecret = getEnv("CRON_SECRET", c.Auth.CronSecret)

	c.Secrets.Backend = getEnv("SECRETS_BACKEND", c.Secrets.Backend)
	c.Secrets.PathPrefix = getEnv("SECRETS_PATH_PREFIX", c.Secrets.PathPrefix)
	c.Secrets.LocalDir = getEnv("SECRETS_LOCAL_DIR", c.Secrets.LocalDir)
	c.Secrets.VaultAddress = getEnv("VAULT_ADDR", c.Secrets.VaultAddress)
	c.Secrets.VaultToken = getEnv("VAULT_TOKEN", c.Secrets.VaultToken)
	c.Secrets.VaultRoleID = getEnv("VAULT_ROLE_ID", c.Secrets.VaultRoleID)
	c.Secrets.VaultSecret = getEnv("VAULT_SECRET_ID", c.Secrets.VaultSecret)
	c.Secrets.VaultMount = getEnv("VAULT_MOUNT", c.Secrets.VaultMount)
	c.Secrets.AWSRegion = getEnv("AWS_REGION", c.Secrets.AWSRegion)
	c.Secrets.AWSEndpoint = getEnv("AWS_ENDPOINT_URL", c.Secrets.AWSEndpoint)

	c.RateLimit.RPS = getEnvAsFloat("RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.Burst)
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics port %d out of range", c.Server.MetricsPort))
	}
	if c.Database.Host != "" && c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required when DB_HOST is set"))
	}
	if strings.TrimSpace(c.Settlement.Currency) == "" {
		errs = append(errs, errors.New("settlement currency is required"))
	}
	if !validWeekday(c.Settlement.WeekEnd) {
		errs = append(errs, fmt.Errorf("invalid settlement week end %q", c.Settlement.WeekEnd))
	}
	if !validWeekday(c.Settlement.ScheduleDay) {
		errs = append(errs, fmt.Errorf("invalid schedule day %q", c.Settlement.ScheduleDay))
	}
	if _, err := time.Parse("15:04", c.Settlement.ScheduleTime); err != nil {
		errs = append(errs, fmt.Errorf("invalid schedule time %q: expected HH:MM", c.Settlement.ScheduleTime))
	}
	if _, err := timeutil.LoadLocation(c.Settlement.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q", c.Settlement.Timezone))
	}
	if c.Settlement.Workers < 1 {
		errs = append(errs, errors.New("settlement workers must be at least 1"))
	}
	if c.Settlement.ClaimTTLMinutes < 0 {
		errs = append(errs, errors.New("claim TTL cannot be negative"))
	}
	if c.Settlement.MaxAccumulateTries < 1 {
		errs = append(errs, errors.New("max accumulate attempts must be at least 1"))
	}
	if !c.Bank.Simulated && c.Bank.BaseURL == "" {
		errs = append(errs, errors.New("BANK_BASE_URL is required unless BANK_SIMULATED is set"))
	}
	switch c.Secrets.Backend {
	case "env", "local", "vault", "aws":
	default:
		errs = append(errs, fmt.Errorf("unknown secrets backend %q", c.Secrets.Backend))
	}
	if c.Secrets.Backend == "vault" && c.Secrets.VaultAddress == "" {
		errs = append(errs, errors.New("VAULT_ADDR is required for the vault secrets backend"))
	}
	if c.Secrets.Backend == "vault" && c.Secrets.VaultToken == "" && c.Secrets.VaultRoleID == "" {
		errs = append(errs, errors.New("VAULT_TOKEN or VAULT_ROLE_ID is required for the vault secrets backend"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit values must not be negative"))
	}

	return errors.Join(errs...)
}

// Location returns the configured settlement timezone
func (c *SettlementConfig) Location() *time.Location {
	loc, err := timeutil.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UsesDatabase reports whether PostgreSQL is configured
func (c *DatabaseConfig) UsesDatabase() bool {
	return c.Host != ""
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as goose and pgx stdlib expect
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Helper functions

func validWeekday(name string) bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(name, d.String()) || strings.EqualFold(name, d.String()[:3]) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
