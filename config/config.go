package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Reservation ReservationConfig `yaml:"reservation"`
	Occupancy   OccupancyConfig   `yaml:"occupancy"`
	Waitlist    WaitlistConfig    `yaml:"waitlist"`
	Mail        MailConfig        `yaml:"mail"`
	Push        PushConfig        `yaml:"push"`
	Redis       RedisConfig       `yaml:"redis"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Reporting   ReportingConfig   `yaml:"reporting"`
	Reaper      ReaperConfig      `yaml:"reaper"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AppConfig identifies the running instance in logs.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// DefaultMaxCodeValidityMinutes is used when no cap is configured.
const DefaultMaxCodeValidityMinutes = 24 * 60

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port                int     `yaml:"port"`
	RateLimitPerSec     float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst      int     `yaml:"rate_limit_burst"`
	CodeRateLimitPerSec float64 `yaml:"code_rate_limit_per_sec"`
	CodeRateLimitBurst  int     `yaml:"code_rate_limit_burst"`
	CacheTTLSeconds     int     `yaml:"cache_ttl_seconds"`
	// AllowedOrigins are extra origin patterns the slot WebSocket accepts.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableExclusion        bool   `yaml:"enable_exclusion_constraint"`
	LogLevel               string `yaml:"log_level"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// ReservationConfig tunes the reservation lifecycle.
type ReservationConfig struct {
	CodeValidityMinutes int `yaml:"code_validity_minutes"`
	CodeLength          int `yaml:"code_length"`
	CodeMaxAttempts     int `yaml:"code_max_attempts"`
	// MaxCodeValidityMinutes caps the validity a caller may ask for.
	MaxCodeValidityMinutes int `yaml:"max_code_validity_minutes"`
}

// OccupancyConfig tunes the occupancy reconciler.
type OccupancyConfig struct {
	CompletionToleranceMinutes int `yaml:"completion_tolerance_minutes"`
	LookAheadMinutes           int `yaml:"look_ahead_minutes"`
	BatchConcurrency           int `yaml:"batch_concurrency"`

	CompletionTolerance time.Duration `yaml:"-"`
	LookAhead           time.Duration `yaml:"-"`
}

// WaitlistConfig tunes the waitlist cascade.
type WaitlistConfig struct {
	Concurrency         int     `yaml:"concurrency"`
	RetryMax            int     `yaml:"retry_max"`
	RetryInitialMillis  int     `yaml:"retry_initial_millis"`
	RetryMaxDelayMillis int     `yaml:"retry_max_delay_millis"`
	RetryBackoffFactor  float64 `yaml:"retry_backoff_factor"`
}

// MailConfig selects and configures the outbound email gateway.
type MailConfig struct {
	Provider   string       `yaml:"provider"` // smtp, resend or log
	From       string       `yaml:"from"`
	SMTP       SMTPConfig   `yaml:"smtp"`
	Resend     ResendConfig `yaml:"resend"`
	ActionURL  string       `yaml:"action_url"`
	ConfirmURL string       `yaml:"confirm_url"`
}

// SMTPConfig holds SMTP server settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ResendConfig holds the Resend HTTP API settings.
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled     bool   `yaml:"enabled"`
	PublicKey   string `yaml:"vapid_public_key"`
	PrivateKey  string `yaml:"vapid_private_key"`
	Subject     string `yaml:"subject"`
	TTL         int    `yaml:"ttl"`
	WorkerCount int    `yaml:"worker_count"`
}

// RedisConfig enables cross-instance event fan-out.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
}

// SensorConfig holds the upstream occupancy feed poller configuration.
type SensorConfig struct {
	Enabled         bool              `yaml:"enabled"`
	IntervalSeconds int               `yaml:"interval_seconds"`
	Interval        time.Duration     `yaml:"-"` // Ignored by YAML parser
	HTTPProxy       string            `yaml:"http_proxy"`
	URL             string            `yaml:"url"`
	Headers         map[string]string `yaml:"headers"`
	PageSize        int               `yaml:"page_size"`
}

// ReportingConfig controls the usage statistics projections.
type ReportingConfig struct {
	Timezone string `yaml:"timezone"`
}

// ReaperConfig controls the optional background reaper.
type ReaperConfig struct {
	Enabled                  bool `yaml:"enabled"`
	IntervalSeconds          int  `yaml:"interval_seconds"`
	PendingGraceMinutes      int  `yaml:"pending_grace_minutes"`
	NotifiedRetentionMinutes int  `yaml:"notified_retention_minutes"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the configuration from the given path. A .env file next to the
// working directory is loaded first when present so secrets can live outside
// the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Mail.SMTP.Password = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Mail.Resend.APIKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// ApplyDefaults fills every unset field with its documented default.
func (cfg *Config) ApplyDefaults() {
	if cfg.App.Name == "" {
		cfg.App.Name = "parkingd"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CodeRateLimitPerSec <= 0 {
		cfg.Server.CodeRateLimitPerSec = 0.5
	}
	if cfg.Server.CodeRateLimitBurst <= 0 {
		cfg.Server.CodeRateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:parking.db"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Reservation.CodeValidityMinutes <= 0 {
		cfg.Reservation.CodeValidityMinutes = 10
	}
	if cfg.Reservation.CodeLength <= 0 {
		cfg.Reservation.CodeLength = 6
	}
	if cfg.Reservation.CodeMaxAttempts <= 0 {
		cfg.Reservation.CodeMaxAttempts = 5
	}
	if cfg.Reservation.MaxCodeValidityMinutes <= 0 {
		cfg.Reservation.MaxCodeValidityMinutes = DefaultMaxCodeValidityMinutes
	}

	if cfg.Occupancy.CompletionToleranceMinutes <= 0 {
		cfg.Occupancy.CompletionToleranceMinutes = 30
	}
	if cfg.Occupancy.LookAheadMinutes <= 0 {
		cfg.Occupancy.LookAheadMinutes = 10
	}
	if cfg.Occupancy.BatchConcurrency <= 0 {
		cfg.Occupancy.BatchConcurrency = 4
	}
	cfg.Occupancy.CompletionTolerance = time.Duration(cfg.Occupancy.CompletionToleranceMinutes) * time.Minute
	cfg.Occupancy.LookAhead = time.Duration(cfg.Occupancy.LookAheadMinutes) * time.Minute

	if cfg.Waitlist.Concurrency <= 0 {
		cfg.Waitlist.Concurrency = 8
	}
	if cfg.Waitlist.RetryMax < 0 {
		cfg.Waitlist.RetryMax = 0
	}
	if cfg.Waitlist.RetryInitialMillis <= 0 {
		cfg.Waitlist.RetryInitialMillis = 200
	}
	if cfg.Waitlist.RetryMaxDelayMillis <= 0 {
		cfg.Waitlist.RetryMaxDelayMillis = 2000
	}
	if cfg.Waitlist.RetryBackoffFactor <= 0 {
		cfg.Waitlist.RetryBackoffFactor = 2
	}

	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "log"
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = "Parking <no-reply@parking.local>"
	}
	if cfg.Mail.SMTP.Port <= 0 {
		cfg.Mail.SMTP.Port = 587
	}
	if cfg.Mail.Resend.URL == "" {
		cfg.Mail.Resend.URL = "https://api.resend.com/emails"
	}
	if cfg.Mail.Resend.TimeoutSeconds <= 0 {
		cfg.Mail.Resend.TimeoutSeconds = 10
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.Push.WorkerCount <= 0 {
		cfg.Push.WorkerCount = 1
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "parking:events"
	}

	if cfg.Sensor.IntervalSeconds <= 0 {
		cfg.Sensor.IntervalSeconds = 60
	}
	cfg.Sensor.Interval = time.Duration(cfg.Sensor.IntervalSeconds) * time.Second
	if cfg.Sensor.PageSize <= 0 {
		cfg.Sensor.PageSize = 100
	}

	if cfg.Reporting.Timezone == "" {
		cfg.Reporting.Timezone = "UTC"
	}

	if cfg.Reaper.IntervalSeconds <= 0 {
		cfg.Reaper.IntervalSeconds = 300
	}
	if cfg.Reaper.PendingGraceMinutes <= 0 {
		cfg.Reaper.PendingGraceMinutes = 60
	}
	if cfg.Reaper.NotifiedRetentionMinutes <= 0 {
		cfg.Reaper.NotifiedRetentionMinutes = 24 * 60
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
