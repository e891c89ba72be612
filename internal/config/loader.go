package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures environment driven configuration values for the scheduler
// service.
type Config struct {
	HTTPPort          int
	SQLiteDSN         string
	GoogleCredentials string
	OAuthRedirectURL  string
	WebhookToken      string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SyncMaxAttempts   int
	SyncInterval      time.Duration
	ReconcileInterval time.Duration
	NotifyMaxAttempts int
}

// Load parses configuration values from the current process environment.
//
// The loader applies defaults for optional fields while validating required
// values, and reports every missing or invalid entry in one pass.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          8080,
		SQLiteDSN:         "file:scheduler.db?_foreign_keys=on",
		SMTPPort:          587,
		SyncMaxAttempts:   5,
		SyncInterval:      15 * time.Second,
		ReconcileInterval: 5 * time.Minute,
		NotifyMaxAttempts: 5,
	}

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("SCHEDULER_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "SCHEDULER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("SCHEDULER_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if path := strings.TrimSpace(os.Getenv("SCHEDULER_GOOGLE_CREDENTIALS")); path == "" {
		missing = append(missing, "SCHEDULER_GOOGLE_CREDENTIALS")
	} else {
		cfg.GoogleCredentials = path
	}

	if redirect := strings.TrimSpace(os.Getenv("SCHEDULER_OAUTH_REDIRECT_URL")); redirect == "" {
		missing = append(missing, "SCHEDULER_OAUTH_REDIRECT_URL")
	} else {
		cfg.OAuthRedirectURL = redirect
	}

	if token := strings.TrimSpace(os.Getenv("SCHEDULER_WEBHOOK_TOKEN")); token == "" {
		missing = append(missing, "SCHEDULER_WEBHOOK_TOKEN")
	} else {
		cfg.WebhookToken = token
	}

	if host := strings.TrimSpace(os.Getenv("SCHEDULER_SMTP_HOST")); host == "" {
		missing = append(missing, "SCHEDULER_SMTP_HOST")
	} else {
		cfg.SMTPHost = host
	}

	if portValue := strings.TrimSpace(os.Getenv("SCHEDULER_SMTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "SCHEDULER_SMTP_PORT")
		} else {
			cfg.SMTPPort = port
		}
	}

	cfg.SMTPUsername = strings.TrimSpace(os.Getenv("SCHEDULER_SMTP_USERNAME"))
	cfg.SMTPPassword = os.Getenv("SCHEDULER_SMTP_PASSWORD")

	if from := strings.TrimSpace(os.Getenv("SCHEDULER_SMTP_FROM")); from == "" {
		missing = append(missing, "SCHEDULER_SMTP_FROM")
	} else {
		cfg.SMTPFrom = from
	}

	if value := strings.TrimSpace(os.Getenv("SCHEDULER_SYNC_MAX_ATTEMPTS")); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil || attempts <= 0 {
			invalid = append(invalid, "SCHEDULER_SYNC_MAX_ATTEMPTS")
		} else {
			cfg.SyncMaxAttempts = attempts
		}
	}

	if value := strings.TrimSpace(os.Getenv("SCHEDULER_SYNC_INTERVAL")); value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil || interval <= 0 {
			invalid = append(invalid, "SCHEDULER_SYNC_INTERVAL")
		} else {
			cfg.SyncInterval = interval
		}
	}

	if value := strings.TrimSpace(os.Getenv("SCHEDULER_RECONCILE_INTERVAL")); value != "" {
		interval, err := time.ParseDuration(value)
		if err != nil || interval <= 0 {
			invalid = append(invalid, "SCHEDULER_RECONCILE_INTERVAL")
		} else {
			cfg.ReconcileInterval = interval
		}
	}

	if value := strings.TrimSpace(os.Getenv("SCHEDULER_NOTIFY_MAX_ATTEMPTS")); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil || attempts <= 0 {
			invalid = append(invalid, "SCHEDULER_NOTIFY_MAX_ATTEMPTS")
		} else {
			cfg.NotifyMaxAttempts = attempts
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
