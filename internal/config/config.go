package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultSessionSeconds = 900
	defaultResetSeconds   = 3600
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Reset     ResetConfig
	SMTP      SMTPConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Scheduler SchedulerConfig
	Seed      SeedConfig
}

type ServerConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	Environment string
}

type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	AutoMigrate  bool
}

type JWTConfig struct {
	Secret    string
	Issuer    string
	ExpiresIn string
}

type ResetConfig struct {
	TTLRaw  string
	BaseURL string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type SchedulerConfig struct {
	Interval time.Duration
}

type SeedConfig struct {
	AdminDNI        string
	AdminPassword   string
	AdminEmail      string
	AssociationName string
	BranchName      string
	ChapterName     string
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:    v.GetString("HTTP_ADDR"),
			GRPCAddr:    v.GetString("GRPC_ADDR"),
			Environment: v.GetString("ENVIRONMENT"),
		},
		Database: DatabaseConfig{
			URL:          v.GetString("DATABASE_URL"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			AutoMigrate:  v.GetBool("AUTO_MIGRATE"),
		},
		JWT: JWTConfig{
			Secret:    v.GetString("JWT_SECRET"),
			Issuer:    v.GetString("JWT_ISSUER"),
			ExpiresIn: v.GetString("JWT_EXPIRES_IN"),
		},
		Reset: ResetConfig{
			TTLRaw:  v.GetString("PASSWORD_RESET_TTL"),
			BaseURL: v.GetString("PASSWORD_RESET_URL"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			User:     v.GetString("SMTP_USER"),
			Password: v.GetString("SMTP_PASS"),
			From:     v.GetString("SMTP_FROM"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Scheduler: SchedulerConfig{
			Interval: v.GetDuration("SCHEDULER_INTERVAL"),
		},
		Seed: SeedConfig{
			AdminDNI:        v.GetString("SEED_ADMIN_DNI"),
			AdminPassword:   v.GetString("SEED_ADMIN_PASSWORD"),
			AdminEmail:      v.GetString("SEED_ADMIN_EMAIL"),
			AssociationName: v.GetString("SEED_ASSOCIATION_NAME"),
			BranchName:      v.GetString("SEED_BRANCH_NAME"),
			ChapterName:     v.GetString("SEED_CHAPTER_NAME"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("JWT_ISSUER", "colegio")
	v.SetDefault("PASSWORD_RESET_URL", "http://localhost:5173/reset-password")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("SCHEDULER_INTERVAL", time.Minute)
	v.SetDefault("SEED_ASSOCIATION_NAME", "Colegio Nacional")
	v.SetDefault("SEED_BRANCH_NAME", "Sede Central")
	v.SetDefault("SEED_CHAPTER_NAME", "Capitulo General")
}

// Validate reports settings without which the API cannot start.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// ExpiresInDuration is the session and access-token lifetime.
func (c JWTConfig) ExpiresInDuration() time.Duration {
	return time.Duration(ParseDurationSeconds(c.ExpiresIn, defaultSessionSeconds)) * time.Second
}

// TTL is the lifetime of a password reset token.
func (c ResetConfig) TTL() time.Duration {
	return time.Duration(ParseDurationSeconds(c.TTLRaw, defaultResetSeconds)) * time.Second
}

// Enabled reports whether every SMTP setting needed to send mail is present.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port > 0 && c.User != "" && c.Password != "" && c.From != ""
}

var durationPattern = regexp.MustCompile(`^(\d+)(s|m|h|d)?$`)

// ParseDurationSeconds converts strings such as "15m", "2h", "7d" or "300" into
// seconds. A missing unit means seconds; empty or malformed input yields def.
func ParseDurationSeconds(value string, def int) int {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return def
	}
	m := durationPattern.FindStringSubmatch(normalized)
	if m == nil {
		return def
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return def
	}
	switch m[2] {
	case "d":
		return amount * 86400
	case "h":
		return amount * 3600
	case "m":
		return amount * 60
	default:
		return amount
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
