package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	// Service
	ServiceName string `envconfig:"SERVICE_NAME" default:"be-coop-scheduler"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Database
	DatabaseURL     string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns      int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns      int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	DBConnectWindow time.Duration `envconfig:"DB_CONNECT_WINDOW" default:"30s"`

	// Dispatcher
	BatchSize    int           `envconfig:"DISPATCHER_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"DISPATCHER_POLL_INTERVAL" default:"1m"`

	// SMTP
	SMTPHost string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser string `envconfig:"SMTP_USER" default:""`
	SMTPPass string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom string `envconfig:"SMTP_FROM" default:"noreply@coop.local"`

	// SMS gateway
	SMSEndpoint  string  `envconfig:"SMS_ENDPOINT" default:""`
	SMSAPIKey    string  `envconfig:"SMS_API_KEY" default:""`
	SMSSenderID  string  `envconfig:"SMS_SENDER_ID" default:"COOP"`
	SMSRateLimit float64 `envconfig:"SMS_RATE_LIMIT" default:"5"`

	// NATS event publishing (optional; empty disables publishing)
	NATSURL string `envconfig:"NATS_URL" default:""`

	// Backups
	BackupDir string `envconfig:"BACKUP_DIR" default:"/var/backups/coop"`

	// Metrics / health HTTP listener (serve mode)
	MetricsPort int `envconfig:"METRICS_PORT" default:"9090"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
