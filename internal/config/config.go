package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr          string        `yaml:"http_addr"`
	PostgresDSN       string        `yaml:"postgres_dsn"`
	RedisAddr         string        `yaml:"redis_addr"`
	KafkaBrokers      []string      `yaml:"kafka_brokers"`
	JWTSecret         string        `yaml:"jwt_secret"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	ResetTokenTTL     time.Duration `yaml:"reset_token_ttl"`
	FrontendURL       string        `yaml:"frontend_url"`
	SMTP              SMTPConfig    `yaml:"smtp"`
	OTLPEndpoint      string        `yaml:"otlp_endpoint"`
	PromotionSchedule string        `yaml:"promotion_schedule"`
	PromotionTimezone string        `yaml:"promotion_timezone"`
	ServiceName       string        `yaml:"service_name"`
	LogLevel          string        `yaml:"log_level"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Load reads .env, then the YAML file named by CONFIG_FILE, then the
// environment, and fills whatever is still empty with defaults.
// Environment variables win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment", "error", err)
	}

	cfg := &Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"promotion_schedule", cfg.PromotionSchedule,
		"promotion_timezone", cfg.PromotionTimezone)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.PostgresDSN, "POSTGRES_DSN")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.FrontendURL, "FRONTEND_URL")
	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setString(&cfg.SMTP.User, "SMTP_USER")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.From, "SMTP_FROM")
	setString(&cfg.OTLPEndpoint, "OTLP_ENDPOINT")
	setString(&cfg.PromotionSchedule, "PROMOTION_SCHEDULE")
	setString(&cfg.PromotionTimezone, "PROMOTION_TIMEZONE")
	setString(&cfg.ServiceName, "SERVICE_NAME")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		cfg.SMTP.Port = port
	}
	if err := setDuration(&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL"); err != nil {
		return err
	}
	return setDuration(&cfg.ResetTokenTTL, "RESET_TOKEN_TTL")
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=lending sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 120 * time.Minute
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = 30 * time.Minute
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.User
	}
	if cfg.PromotionSchedule == "" {
		cfg.PromotionSchedule = "0 0 1 4 *"
	}
	if cfg.PromotionTimezone == "" {
		cfg.PromotionTimezone = "Asia/Tokyo"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "equipment-lending"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setDuration accepts Go durations ("90m") and bare minute counts ("120").
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if minutes, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(minutes) * time.Minute
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
