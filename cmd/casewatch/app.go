package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/casewatch/casewatch/internal/config"
	"github.com/casewatch/casewatch/internal/domain/analytics"
	"github.com/casewatch/casewatch/internal/domain/assessment"
	"github.com/casewatch/casewatch/internal/domain/export"
	"github.com/casewatch/casewatch/internal/domain/history"
	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/jobs"
	"github.com/casewatch/casewatch/internal/platform/blobstore"
	"github.com/casewatch/casewatch/internal/platform/db"
	"github.com/casewatch/casewatch/internal/platform/notification"
	"github.com/casewatch/casewatch/internal/platform/queue"
)

// app holds the wired services shared by serve, worker, scheduler and
// jobs run.
type app struct {
	pool  *pgxpool.Pool
	queue queue.Queue

	jurisdictions *jurisdiction.Service
	patients      *patient.Service
	assessments   *assessment.Service
	histories     *history.Service
	analytics     *analytics.Service
	exports       *export.Service
	jobs          *jobs.Runner

	assessmentHandler *assessment.Handler
}

func rules(cfg *config.Config) patient.Rules {
	return patient.Rules{
		MonitoringPeriodDays: cfg.MonitoringPeriodDays,
		ReportingPeriod:      cfg.ReportingPeriod(),
		IsolationSymptomDays: cfg.IsolationSymptomDays,
		PurgeableAfter:       cfg.PurgeableAfter(),
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	q, err := newQueue(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("queue: %w", err)
	}
	mailer := notification.NewMailer(newMailSender(cfg, logger), nil)
	tx := db.NewTransactor(pool)

	a := &app{pool: pool, queue: q}
	a.jurisdictions = jurisdiction.NewService(jurisdiction.NewRepo(pool), tx)
	a.histories = history.NewService(history.NewRepo(pool))
	a.patients = patient.NewService(patient.NewRepo(pool), a.jurisdictions, a.histories, tx, rules(cfg))
	a.assessments = assessment.NewService(assessment.NewRepo(pool), a.patients, tx)
	a.analytics = analytics.NewService(analytics.NewRepo(pool), a.jurisdictions, tx, logger)
	a.exports = export.NewService(export.Deps{
		Repo:          export.NewRepo(pool),
		Patients:      a.patients,
		Assessments:   a.assessments,
		Histories:     a.histories,
		Jurisdictions: a.jurisdictions,
		Blobs:         blobs,
		Queue:         q,
		Mailer:        mailer,
	}, export.Options{
		PublicURL:        cfg.PublicURL,
		BatchSize:        cfg.ExportRecordBatchSize,
		MaxLinksPerEmail: cfg.ExportMaxLinksPerEmail,
		MaxEmailBytes:    cfg.ExportMaxEmailBytes,
		Retention:        cfg.DownloadRetention(),
	}, logger)
	a.jobs = jobs.NewRunner(jobs.Deps{
		Patients:      a.patients,
		Analytics:     a.analytics,
		Downloads:     a.exports,
		Jurisdictions: a.jurisdictions,
		Queue:         q,
		Mailer:        mailer,
	}, jobs.Options{
		BatchSize:          cfg.JobBatchSize,
		AdminEmails:        cfg.AdminEmails,
		PublicURL:          cfg.PublicURL,
		PurgeWarningWindow: time.Duration(cfg.PurgeWarningDays) * 24 * time.Hour,
	}, logger)
	a.assessmentHandler = assessment.NewHandler(a.assessments)
	return a, nil
}

// RegisterRoutes mounts every authenticated API handler.
func (a *app) RegisterRoutes(api *echo.Group) {
	jurisdiction.NewHandler(a.jurisdictions).RegisterRoutes(api)
	patient.NewHandler(a.patients).RegisterRoutes(api)
	a.assessmentHandler.RegisterRoutes(api)
	history.NewHandler(a.histories).RegisterRoutes(api)
	analytics.NewHandler(a.analytics).RegisterRoutes(api)
	export.NewHandler(a.exports).RegisterRoutes(api)
}

// consume runs the export and outbound message consumers until ctx is
// cancelled or one of them fails.
func (a *app) consume(ctx context.Context, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- a.queue.Consume(ctx, queue.TopicExports, a.exports.Handle) }()
	go func() { errs <- a.queue.Consume(ctx, queue.TopicOutboundMessages, jobs.LogOutbound(logger)) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func (a *app) Close() {
	_ = a.queue.Close()
	a.pool.Close()
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobBackend {
	case "minio":
		return blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			Region:    cfg.MinioRegion,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		})
	case "s3":
		return blobstore.NewS3Store(ctx, cfg.S3Bucket)
	case "memory", "":
		return blobstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

func newQueue(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "sqs":
		return queue.NewSQSQueue(ctx, cfg.SQSQueuePrefix, logger)
	case "kafka":
		return queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
			GroupID:     cfg.KafkaGroupID,
		}, logger), nil
	case "memory", "":
		return queue.NewMemoryQueue(0, logger), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

func newMailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.MailBackend == "sendgrid" {
		return notification.NewSendGridSender(cfg.SendGridAPIKey, cfg.MailFrom)
	}
	return notification.NewLogSender(logger)
}
