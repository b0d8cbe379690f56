package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	PublicURL      string   `mapstructure:"PUBLIC_URL"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// Monitoring rules
	MonitoringPeriodDays   int `mapstructure:"MONITORING_PERIOD_DAYS"`
	ReportingPeriodMinutes int `mapstructure:"REPORTING_PERIOD_MINUTES"`
	IsolationSymptomDays   int `mapstructure:"ISOLATION_SYMPTOM_DAYS"`
	PurgeableAfterMinutes  int `mapstructure:"PURGEABLE_AFTER_MINUTES"`
	PurgeWarningDays       int `mapstructure:"PURGE_WARNING_DAYS"`
	JobBatchSize           int `mapstructure:"JOB_BATCH_SIZE"`

	// Exports
	ExportRecordBatchSize  int `mapstructure:"EXPORT_RECORD_BATCH_SIZE"`
	ExportMaxLinksPerEmail int `mapstructure:"EXPORT_MAX_LINKS_PER_EMAIL"`
	ExportMaxEmailBytes    int `mapstructure:"EXPORT_MAX_EMAIL_BYTES"`
	DownloadRetentionHours int `mapstructure:"DOWNLOAD_RETENTION_HOURS"`

	// Blob storage
	BlobBackend    string `mapstructure:"BLOB_BACKEND"`
	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioRegion    string `mapstructure:"MINIO_REGION"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`
	S3Bucket       string `mapstructure:"S3_BUCKET"`

	// Queues
	QueueBackend     string   `mapstructure:"QUEUE_BACKEND"`
	SQSQueuePrefix   string   `mapstructure:"SQS_QUEUE_PREFIX"`
	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopicPrefix string   `mapstructure:"KAFKA_TOPIC_PREFIX"`
	KafkaGroupID     string   `mapstructure:"KAFKA_GROUP_ID"`

	// Mail
	MailBackend    string   `mapstructure:"MAIL_BACKEND"`
	SendGridAPIKey string   `mapstructure:"SENDGRID_API_KEY"`
	MailFrom       string   `mapstructure:"MAIL_FROM"`
	AdminEmails    []string `mapstructure:"ADMIN_EMAILS"`

	JurisdictionsFile string `mapstructure:"JURISDICTIONS_FILE"`
}

var keys = []string{
	"PORT", "ENV", "PUBLIC_URL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"MONITORING_PERIOD_DAYS", "REPORTING_PERIOD_MINUTES", "ISOLATION_SYMPTOM_DAYS",
	"PURGEABLE_AFTER_MINUTES", "PURGE_WARNING_DAYS", "JOB_BATCH_SIZE",
	"EXPORT_RECORD_BATCH_SIZE", "EXPORT_MAX_LINKS_PER_EMAIL", "EXPORT_MAX_EMAIL_BYTES",
	"DOWNLOAD_RETENTION_HOURS",
	"BLOB_BACKEND", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY",
	"MINIO_BUCKET", "MINIO_REGION", "MINIO_USE_SSL", "S3_BUCKET",
	"QUEUE_BACKEND", "SQS_QUEUE_PREFIX", "KAFKA_BROKERS", "KAFKA_TOPIC_PREFIX", "KAFKA_GROUP_ID",
	"MAIL_BACKEND", "SENDGRID_API_KEY", "MAIL_FROM", "ADMIN_EMAILS",
	"JURISDICTIONS_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("PUBLIC_URL", "http://localhost:8000")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("MONITORING_PERIOD_DAYS", 14)
	v.SetDefault("REPORTING_PERIOD_MINUTES", 1440)
	v.SetDefault("ISOLATION_SYMPTOM_DAYS", 10)
	v.SetDefault("PURGEABLE_AFTER_MINUTES", 20160)
	v.SetDefault("PURGE_WARNING_DAYS", 7)
	v.SetDefault("JOB_BATCH_SIZE", 5000)
	v.SetDefault("EXPORT_RECORD_BATCH_SIZE", 10000)
	v.SetDefault("EXPORT_MAX_LINKS_PER_EMAIL", 10)
	v.SetDefault("EXPORT_MAX_EMAIL_BYTES", 256*1024)
	v.SetDefault("DOWNLOAD_RETENTION_HOURS", 24)
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("MINIO_BUCKET", "casewatch-exports")
	v.SetDefault("MINIO_REGION", "us-east-1")
	v.SetDefault("QUEUE_BACKEND", "memory")
	v.SetDefault("SQS_QUEUE_PREFIX", "casewatch-")
	v.SetDefault("KAFKA_TOPIC_PREFIX", "casewatch.")
	v.SetDefault("KAFKA_GROUP_ID", "casewatch-worker")
	v.SetDefault("MAIL_BACKEND", "log")
	v.SetDefault("MAIL_FROM", "notifications@casewatch.local")
	v.SetDefault("JURISDICTIONS_FILE", "./config/jurisdictions.yml")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.AdminEmails = splitList(cfg.AdminEmails, v.GetString("ADMIN_EMAILS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// splitList handles comma separated env values, whether or not viper has
// already split them.
func splitList(parsed []string, raw string) []string {
	src := parsed
	if len(src) == 0 && raw != "" {
		src = []string{raw}
	}
	var out []string
	for _, item := range src {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// PurgeableAfter is how long a closed record is kept before it may be purged.
func (c *Config) PurgeableAfter() time.Duration {
	return time.Duration(c.PurgeableAfterMinutes) * time.Minute
}

func (c *Config) ReportingPeriod() time.Duration {
	return time.Duration(c.ReportingPeriodMinutes) * time.Minute
}

func (c *Config) DownloadRetention() time.Duration {
	return time.Duration(c.DownloadRetentionHours) * time.Hour
}

// Validate checks the backend selections and the settings each one needs.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
	}
	if c.MonitoringPeriodDays <= 0 {
		return fmt.Errorf("MONITORING_PERIOD_DAYS must be positive, got %d", c.MonitoringPeriodDays)
	}
	if c.JobBatchSize <= 0 || c.ExportRecordBatchSize <= 0 {
		return fmt.Errorf("JOB_BATCH_SIZE and EXPORT_RECORD_BATCH_SIZE must be positive")
	}

	switch c.BlobBackend {
	case "memory":
	case "minio":
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET are required when BLOB_BACKEND=minio")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND=s3")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"memory\", \"minio\", or \"s3\", got %q", c.BlobBackend)
	}

	switch c.QueueBackend {
	case "memory", "sqs":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when QUEUE_BACKEND=kafka")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be \"memory\", \"sqs\", or \"kafka\", got %q", c.QueueBackend)
	}

	switch c.MailBackend {
	case "log":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when MAIL_BACKEND=sendgrid")
		}
	default:
		return fmt.Errorf("MAIL_BACKEND must be \"log\" or \"sendgrid\", got %q", c.MailBackend)
	}
	return nil
}
