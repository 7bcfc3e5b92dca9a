package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds the checkout host configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	Reevit             ReevitConfig
	RedisURL           string
	CallbackReplayTTL  time.Duration
	NATSURL            string
	NATSSubjectPrefix  string
	RateLimitWindow    time.Duration
	RateLimitMax       int
	CORSAllowedOrigins []string
	SessionTTL         time.Duration
	Webhook            WebhookConfig
	Security           SecurityConfig
	Obs                ObsConfig
}

// WebhookConfig configures merchant webhook delivery of lifecycle events.
type WebhookConfig struct {
	URL                 string
	Secret              string
	Timeout             time.Duration
	MaxAttempts         int
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

// SecurityConfig configures HTTP hardening on the session host.
type SecurityConfig struct {
	HeadersEnabled bool
	EnableHSTS     bool
	MaxBodyBytes   int64
}

// ReevitConfig configures the intent service client.
type ReevitConfig struct {
	BaseURL             string
	PublicKey           string
	HTTPTimeout         time.Duration
	RetryMaxAttempts    int
	RetryBaseBackoff    time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

// ObsConfig configures logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	EnableTracing    bool
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv: valueOrDefault(k.String("APP_ENV"), "development"),
		Port:   valueOrDefault(k.String("PORT"), "8080"),
		Reevit: ReevitConfig{
			BaseURL:             strings.TrimRight(valueOrDefault(k.String("REEVIT_API_BASE_URL"), "https://api.reevit.io"), "/"),
			PublicKey:           strings.TrimSpace(k.String("REEVIT_PUBLIC_KEY")),
			HTTPTimeout:         parseDuration(k.String("REEVIT_HTTP_TIMEOUT"), "15s"),
			RetryMaxAttempts:    parseInt(k.String("REEVIT_RETRY_MAX_ATTEMPTS"), 3),
			RetryBaseBackoff:    parseDuration(k.String("REEVIT_RETRY_BASE_BACKOFF"), "200ms"),
			BreakerMinRequests:  parseInt(k.String("REEVIT_BREAKER_MIN_REQUESTS"), 5),
			BreakerFailureRatio: parseFloat(k.String("REEVIT_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:      parseDuration(k.String("REEVIT_BREAKER_OPEN_FOR"), "30s"),
		},
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CallbackReplayTTL:  parseDuration(k.String("CALLBACK_REPLAY_TTL"), "24h"),
		NATSURL:            strings.TrimSpace(k.String("NATS_URL")),
		NATSSubjectPrefix:  valueOrDefault(k.String("NATS_SUBJECT_PREFIX"), "reevit.checkout"),
		RateLimitWindow:    parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:       parseInt(k.String("RATE_LIMIT_MAX"), 120),
		CORSAllowedOrigins: splitAndTrim(valueOrDefault(k.String("CORS_ALLOWED_ORIGINS"), "*")),
		SessionTTL:         parseDuration(k.String("SESSION_TTL"), "1h"),
		Webhook: WebhookConfig{
			URL:                 strings.TrimSpace(k.String("WEBHOOK_URL")),
			Secret:              strings.TrimSpace(k.String("WEBHOOK_SECRET")),
			Timeout:             parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
			MaxAttempts:         parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 3),
			BreakerMinRequests:  parseInt(k.String("WEBHOOK_BREAKER_MIN_REQUESTS"), 5),
			BreakerFailureRatio: parseFloat(k.String("WEBHOOK_BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor:      parseDuration(k.String("WEBHOOK_BREAKER_OPEN_FOR"), "30s"),
		},
		Security: SecurityConfig{
			HeadersEnabled: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
			EnableHSTS:     parseBool(k.String("SECURITY_HSTS_ENABLED")),
			MaxBodyBytes:   int64(parseInt(k.String("SECURITY_MAX_BODY_BYTES"), 64<<10)),
		},
		Obs: ObsConfig{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "reevit"),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Reevit.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("REEVIT_RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Reevit.BreakerFailureRatio <= 0 || c.Reevit.BreakerFailureRatio > 1 {
		errs = append(errs, errors.New("REEVIT_BREAKER_FAILURE_RATIO must be in (0,1]"))
	}
	if c.Webhook.BreakerFailureRatio <= 0 || c.Webhook.BreakerFailureRatio > 1 {
		errs = append(errs, errors.New("WEBHOOK_BREAKER_FAILURE_RATIO must be in (0,1]"))
	}
	if c.RateLimitMax < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be at least 1"))
	}
	if c.Webhook.URL != "" && c.Webhook.Secret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set"))
	}
	if c.Obs.SamplingRatio < 0 || c.Obs.SamplingRatio > 1 {
		errs = append(errs, errors.New("OBS_TRACING_SAMPLING_RATIO must be in [0,1]"))
	}
	if c.Obs.EnableTracing && c.Obs.OTLPEndpoint == "" {
		errs = append(errs, errors.New("OBS_OTLP_ENDPOINT is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the address the session host binds to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests overrides environment variables for a single Load and restores
// them afterwards. An empty value unsets the variable.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key, value := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, value); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []error
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("restore env: %w", err)
	}
	return nil
}
