package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the api, worker, lambda and dialerctl binaries need.
// Values come from the environment (optionally seeded from a .env file) and,
// for secrets, from a SecretSource.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	ElevenLabs ElevenLabsConfig
	Twilio     TwilioConfig
	Dispatch   DispatchConfig
	Sync       SyncConfig
	AMQP       AMQPConfig
	Secrets    SecretsConfig
	OTel       OTelConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV"`
	Port int    `env:"APP_PORT" envDefault:"8080"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string `env:"DB_SSLMODE"`

	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
}

type AuthConfig struct {
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	JWTAudience     string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL"`
}

type ElevenLabsConfig struct {
	APIKey  string        `env:"ELEVENLABS_API_KEY"`
	BaseURL string        `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io"`
	Timeout time.Duration `env:"ELEVENLABS_TIMEOUT"`
}

type TwilioConfig struct {
	AccountSID string `env:"TWILIO_ACCOUNT_SID"`
	// AuthToken validates X-Twilio-Signature on status callbacks when set.
	AuthToken string `env:"TWILIO_AUTH_TOKEN"`
	// PublicBaseURL is the externally visible origin Twilio signs against.
	PublicBaseURL string `env:"TWILIO_PUBLIC_BASE_URL"`
}

type DispatchConfig struct {
	BatchSize       int           `env:"DISPATCH_BATCH_SIZE"`
	TickBudget      time.Duration `env:"DISPATCH_TICK_BUDGET"`
	Interval        time.Duration `env:"DISPATCH_INTERVAL"`
	DefaultTimezone string        `env:"DISPATCH_DEFAULT_TIMEZONE" envDefault:"UTC"`

	// TransientConsumesAttempt flips the transient-failure policy. Off by default:
	// a network/5xx failure leaves the lead eligible on the next tick.
	TransientConsumesAttempt bool `env:"DISPATCH_TRANSIENT_CONSUMES_ATTEMPT" envDefault:"false"`

	// MaxInFlight caps concurrently live calls per campaign via Redis. 0 disables.
	MaxInFlight int           `env:"DISPATCH_MAX_IN_FLIGHT"`
	InFlightTTL time.Duration `env:"DISPATCH_IN_FLIGHT_TTL"`
}

type SyncConfig struct {
	Interval   time.Duration `env:"SYNC_INTERVAL"`
	BatchSize  int           `env:"SYNC_BATCH_SIZE"`
	StaleAfter time.Duration `env:"SYNC_STALE_AFTER"`
}

type AMQPConfig struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"dialer.events"`
}

type SecretsConfig struct {
	// Source is "env" or "ssm".
	Source string `env:"SECRETS_SOURCE" envDefault:"env"`
	Prefix string `env:"SECRETS_PREFIX"`
}

type OTelConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// SecretSource resolves secret values by env-style name (e.g. DB_PASSWORD).
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return LoadWithSecrets(context.Background(), nil)
}

// LoadWithSecrets parses the environment, fills empty secret fields from src
// and validates. A nil src skips secret resolution.
func LoadWithSecrets(ctx context.Context, src SecretSource) (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if src != nil {
		if err := c.resolveSecrets(ctx, src); err != nil {
			return Config{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) resolveSecrets(ctx context.Context, src SecretSource) error {
	targets := []struct {
		name string
		dst  *string
	}{
		{"DB_PASSWORD", &c.DB.Password},
		{"JWT_SECRET", &c.Auth.JWTSecret},
		{"ELEVENLABS_API_KEY", &c.ElevenLabs.APIKey},
		{"TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken},
	}

	var errs []error
	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		v, err := src.Get(ctx, t.name)
		if err != nil {
			errs = append(errs, fmt.Errorf("secret %s: %w", t.name, err))
			continue
		}
		*t.dst = v
	}
	return joinErrors(errs)
}

// Validate checks required values and fills env-dependent defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Dispatch.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_IN_FLIGHT must be >= 0, got %d", c.Dispatch.MaxInFlight))
	}
	if c.Dispatch.MaxInFlight > 0 && c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required when DISPATCH_MAX_IN_FLIGHT is set"))
	}
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.ElevenLabs.APIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is required"))
	}
	if c.ElevenLabs.BaseURL == "" {
		c.ElevenLabs.BaseURL = "https://api.elevenlabs.io"
	}
	if c.ElevenLabs.Timeout <= 0 {
		c.ElevenLabs.Timeout = 10 * time.Second
	}

	if c.Dispatch.BatchSize <= 0 {
		c.Dispatch.BatchSize = 50
	}
	if c.Dispatch.TickBudget <= 0 {
		c.Dispatch.TickBudget = 45 * time.Second
	}
	if c.Dispatch.Interval <= 0 {
		c.Dispatch.Interval = time.Minute
	}
	if c.Dispatch.InFlightTTL <= 0 {
		c.Dispatch.InFlightTTL = 15 * time.Minute
	}
	if c.Dispatch.DefaultTimezone == "" {
		c.Dispatch.DefaultTimezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Dispatch.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("DISPATCH_DEFAULT_TIMEZONE is not a valid IANA zone: %q", c.Dispatch.DefaultTimezone))
	}

	if c.Sync.Interval <= 0 {
		c.Sync.Interval = time.Minute
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.StaleAfter <= 0 {
		c.Sync.StaleAfter = 30 * time.Minute
	}

	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "dialer.events"
	}

	switch c.Secrets.Source {
	case "":
		c.Secrets.Source = "env"
	case "env":
	case "ssm":
		if c.Secrets.Prefix == "" {
			errs = append(errs, errors.New("SECRETS_PREFIX is required when SECRETS_SOURCE=ssm"))
		}
	default:
		errs = append(errs, fmt.Errorf("SECRETS_SOURCE must be env or ssm, got %q", c.Secrets.Source))
	}

	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		errs = append(errs, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED=true"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// DefaultLocation returns the fallback zone for businesses without one.
func (c Config) DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(c.Dispatch.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
