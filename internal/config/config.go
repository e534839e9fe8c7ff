package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	SES        SESConfig        `yaml:"ses"`
	SMSAero    SMSAeroConfig    `yaml:"smsaero"`
	SMSC       SMSCConfig       `yaml:"smsc"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Automation AutomationConfig `yaml:"automation"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis settings. Redis is optional; when Addr is empty
// the distributed lock falls back to Postgres advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES credentials for email delivery
type SESConfig struct {
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Region         string `yaml:"region"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SMSAeroConfig holds SMS Aero gateway credentials
type SMSAeroConfig struct {
	Email   string `yaml:"email"`
	APIKey  string `yaml:"api_key"`
	Sign    string `yaml:"sign"`
	BaseURL string `yaml:"base_url"`
}

// SMSCConfig holds SMSC gateway credentials
type SMSCConfig struct {
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
	Sender   string `yaml:"sender"`
	BaseURL  string `yaml:"base_url"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	BaseURL  string `yaml:"base_url"`
}

// AutomationConfig holds rule engine worker settings
type AutomationConfig struct {
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	ClaimBatchSize       int `yaml:"claim_batch_size"`
	DeliverTimeoutSecs   int `yaml:"deliver_timeout_seconds"`
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_seconds"`
	LockTTLSeconds       int `yaml:"lock_ttl_seconds"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "eu-west-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SMSAero.BaseURL == "" {
		cfg.SMSAero.BaseURL = "https://gate.smsaero.ru/v2"
	}
	if cfg.SMSC.BaseURL == "" {
		cfg.SMSC.BaseURL = "https://smsc.ru/sys"
	}
	if cfg.Telegram.BaseURL == "" {
		cfg.Telegram.BaseURL = "https://api.telegram.org"
	}
	if cfg.Automation.PollIntervalSeconds == 0 {
		cfg.Automation.PollIntervalSeconds = 5
	}
	if cfg.Automation.ClaimBatchSize == 0 {
		cfg.Automation.ClaimBatchSize = 50
	}
	if cfg.Automation.DeliverTimeoutSecs == 0 {
		cfg.Automation.DeliverTimeoutSecs = 15
	}
	if cfg.Automation.HeartbeatIntervalSec == 0 {
		cfg.Automation.HeartbeatIntervalSec = 30
	}
	if cfg.Automation.LockTTLSeconds == 0 {
		cfg.Automation.LockTTLSeconds = 60
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SMSAERO_EMAIL"); v != "" {
		cfg.SMSAero.Email = v
	}
	if v := os.Getenv("SMSAERO_API_KEY"); v != "" {
		cfg.SMSAero.APIKey = v
	}
	if v := os.Getenv("SMSC_LOGIN"); v != "" {
		cfg.SMSC.Login = v
	}
	if v := os.Getenv("SMSC_PASSWORD"); v != "" {
		cfg.SMSC.Password = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (config database.url or DATABASE_URL)")
	}

	return cfg, nil
}
