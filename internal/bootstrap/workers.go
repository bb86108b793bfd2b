package bootstrap

import (
	"context"

	"github.com/jwalitptl/clinical-scribe/internal/config"
	"github.com/jwalitptl/clinical-scribe/internal/email"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	notificationService "github.com/jwalitptl/clinical-scribe/internal/service/notification"
	userService "github.com/jwalitptl/clinical-scribe/internal/service/user"
	internalWorker "github.com/jwalitptl/clinical-scribe/internal/worker"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/messaging"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
	"github.com/jwalitptl/clinical-scribe/pkg/worker"
)

// Mailer returns the SMTP sender, or a no-op one when no host is configured.
func Mailer(cfg *config.Config) email.Service {
	if cfg.SMTP.Host == "" {
		return email.NewNoopService()
	}
	return email.NewSMTPService(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.Secrets.SMTPPassword,
		From:     cfg.SMTP.From,
	})
}

// StartBackground runs the outbox relay, the maintenance scheduler and the
// notification subscriber until ctx is cancelled. The returned function
// stops the scheduler and waits for running tasks.
func StartBackground(
	ctx context.Context,
	cfg *config.Config,
	repos *repository.Repositories,
	broker messaging.Broker,
	l *logger.Logger,
	m *metrics.Metrics,
) (func(), error) {
	processor := worker.NewOutboxProcessor(
		repos.Outbox,
		broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		l.WithFields(map[string]interface{}{"component": "outbox"}),
		m,
	)
	go processor.Start(ctx)

	maintenance := internalWorker.NewMaintenance(
		repos.Jobs,
		repos.Transcripts,
		repos.Outbox,
		internalWorker.MaintenanceConfig{
			ReapSchedule:          cfg.Jobs.ReapSchedule,
			OutboxCleanupSchedule: cfg.Jobs.OutboxCleanupSchedule,
			JobTimeout:            cfg.Extraction.Timeout,
			TranscriptTimeout:     cfg.Transcription.Timeout,
			Grace:                 cfg.Jobs.Grace,
			OutboxRetention:       cfg.Outbox.Retention,
		},
		l.WithFields(map[string]interface{}{"component": "maintenance"}),
		m,
	)
	if err := maintenance.Start(ctx); err != nil {
		return nil, err
	}

	notifications := notificationService.NewService(
		messaging.NewBrokerAdapter(broker, l.Zerolog()),
		userService.NewService(repos.Users, UserCacheTTL),
		Mailer(cfg),
		l.WithFields(map[string]interface{}{"component": "notification"}),
	)
	if err := notifications.Start(ctx); err != nil {
		maintenance.Stop()
		return nil, err
	}

	return maintenance.Stop, nil
}
