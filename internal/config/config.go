package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Placeholder markers left behind when a build-time template value was never
// substituted. An endpoint or credential still carrying one is treated as
// not configured.
const (
	placeholderOpen  = "{{"
	placeholderClose = "}}"
)

type Config struct {
	AppEnv    string
	AppName   string
	LogLevel  string
	HTTPAddr  string
	StateDir  string
	Namespace string

	// Deploy-time attribution defaults baked into the page.
	DefaultReferrer     string
	DefaultInviteCode   string
	RegistrationDomains []string

	// Event delivery backend.
	BackendKind   string
	BackendURL    string
	BackendAPIKey string
	BackendTable  string

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RequestTimeout       time.Duration

	// Outbound webhooks.
	WebhookEnabled bool
	WebhookURL     string
	WebhookSecret  string
	PageOwner      string

	MilestoneInterval   time.Duration
	MilestoneThresholds []int

	// Optional shared attribution store.
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            os.Getenv("APP_ENV"),
		AppName:           os.Getenv("APP_NAME"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		HTTPAddr:          os.Getenv("HTTP_ADDR"),
		StateDir:          os.Getenv("STATE_DIR"),
		Namespace:         os.Getenv("KEY_NAMESPACE"),
		DefaultReferrer:   os.Getenv("DEFAULT_REFERRER"),
		DefaultInviteCode: os.Getenv("DEFAULT_INVITE_CODE"),
		BackendKind:       os.Getenv("BACKEND_KIND"),
		BackendURL:        os.Getenv("BACKEND_URL"),
		BackendAPIKey:     os.Getenv("BACKEND_API_KEY"),
		BackendTable:      os.Getenv("BACKEND_TABLE"),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		PageOwner:         os.Getenv("PAGE_OWNER"),
		RedisHost:         os.Getenv("REDIS_HOST"),
		RedisPort:         os.Getenv("REDIS_PORT"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8480"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "data"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "visitrail"
	}
	if v := os.Getenv("REGISTRATION_DOMAINS"); v != "" {
		for _, d := range strings.Split(v, ",") {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				cfg.RegistrationDomains = append(cfg.RegistrationDomains, d)
			}
		}
	}
	cfg.WebhookEnabled = os.Getenv("WEBHOOK_ENABLED") != "false"

	var err error
	cfg.RetryMaxAttempts = 3
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		cfg.RetryMaxAttempts, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS: %w", err)
		}
	}
	cfg.RetryInitialInterval = time.Second
	if v := os.Getenv("RETRY_INITIAL_INTERVAL"); v != "" {
		cfg.RetryInitialInterval, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_INITIAL_INTERVAL: %w", err)
		}
	}
	cfg.RequestTimeout = 10 * time.Second
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
	}
	cfg.MilestoneInterval = time.Minute
	if v := os.Getenv("MILESTONE_INTERVAL"); v != "" {
		cfg.MilestoneInterval, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MILESTONE_INTERVAL: %w", err)
		}
	}
	cfg.MilestoneThresholds = []int{10, 50, 100, 500, 1000, 5000, 10000}
	if v := os.Getenv("MILESTONE_THRESHOLDS"); v != "" {
		cfg.MilestoneThresholds = nil
		for _, s := range strings.Split(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("invalid MILESTONE_THRESHOLDS: %w", err)
			}
			cfg.MilestoneThresholds = append(cfg.MilestoneThresholds, n)
		}
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.RedisDB, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	if cfg.AppName == "" {
		return nil, fmt.Errorf("missing required environment variable APP_NAME")
	}
	return cfg, nil
}

// IsPlaceholder reports whether a configuration value still contains an
// unresolved build-time template token (or is empty altogether).
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	return strings.Contains(v, placeholderOpen) && strings.Contains(v, placeholderClose)
}
