package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/messaging"
	"github.com/jwalitptl/clinical-scribe/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryAttempts bounds both the in-place publish attempts and the number
	// of later redeliveries before an event is marked failed.
	RetryAttempts int
	RetryDelay    time.Duration
}

// OutboxProcessor relays committed outbox events to the broker. Each event
// is published on a channel named after its event type.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch publishes one batch of due events and records the outcomes.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	err := p.repo.ClaimPending(ctx, p.config.BatchSize, func(events []*model.OutboxEvent) []repository.OutboxUpdate {
		updates := make([]repository.OutboxUpdate, 0, len(events))
		for _, event := range events {
			updates = append(updates, p.processEvent(ctx, event))
		}
		return updates
	})
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "error").Inc()
		return fmt.Errorf("failed to process pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "success").Inc()
	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) repository.OutboxUpdate {
	err := retry(ctx, p.config.RetryAttempts, p.config.RetryDelay, func() error {
		return p.broker.Publish(ctx, event.EventType, event.Payload)
	})
	if err == nil {
		p.metrics.OutboxEventsProcessed.Inc()
		return repository.OutboxUpdate{ID: event.ID, Status: model.OutboxStatusProcessed}
	}

	p.metrics.OutboxEventsFailed.Inc()
	p.logger.Error(err, "Failed to publish event",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"retry_count", event.RetryCount)

	errStr := err.Error()
	if event.RetryCount+1 >= p.config.RetryAttempts {
		return repository.OutboxUpdate{ID: event.ID, Status: model.OutboxStatusFailed, Error: &errStr}
	}
	retryAt := time.Now().UTC().Add(p.config.RetryDelay << uint(event.RetryCount+1))
	return repository.OutboxUpdate{ID: event.ID, Status: model.OutboxStatusRetry, Error: &errStr, RetryAt: &retryAt}
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
