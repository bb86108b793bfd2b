package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/email"
	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/messaging"
)

// UserLookup finds the clinician to notify.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// Service e-mails the owning clinician about interaction lifecycle events
// relayed from the outbox.
type Service struct {
	broker messaging.MessageBroker
	users  UserLookup
	email  email.Service
	logger *logger.Logger
}

func NewService(broker messaging.MessageBroker, users UserLookup, emailSvc email.Service, log *logger.Logger) *Service {
	return &Service{
		broker: broker,
		users:  users,
		email:  emailSvc,
		logger: log,
	}
}

// Start subscribes to the events that warrant a message. Subscriptions end
// when ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	for _, topic := range []string{model.EventInteractionReady, model.EventExtractionFailed} {
		topic := topic
		if err := s.broker.Subscribe(ctx, topic, func(payload []byte) error {
			return s.Handle(ctx, topic, payload)
		}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	s.logger.Info("notification subscriber started")
	return nil
}

// Handle sends the message for one event. Users without an e-mail address
// are skipped.
func (s *Service) Handle(ctx context.Context, eventType string, payload []byte) error {
	var event model.InteractionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	subject, body, ok := render(eventType, &event)
	if !ok {
		return nil
	}

	u, err := s.users.GetUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", event.UserID, err)
	}
	if u.Email == "" {
		s.logger.Debug("user has no e-mail address, skipping notification", "user_id", u.ID.String())
		return nil
	}

	if err := s.email.Send(ctx, u.Email, subject, body); err != nil {
		return err
	}
	s.logger.Info("notification sent",
		"event_type", eventType,
		"interaction_id", event.InteractionID.String(),
	)
	return nil
}

func render(eventType string, e *model.InteractionEvent) (subject, body string, ok bool) {
	switch eventType {
	case model.EventInteractionReady:
		return fmt.Sprintf("Interaction for patient %s is ready for review", e.PatientEHRID),
			fmt.Sprintf("Extraction finished for interaction %s. Review the extracted values and validate the interaction to finalize it.", e.InteractionID),
			true
	case model.EventExtractionFailed:
		return fmt.Sprintf("Extraction failed for patient %s", e.PatientEHRID),
			fmt.Sprintf("Extraction for interaction %s failed: %s. You can request a new extraction once the problem is resolved.", e.InteractionID, e.Reason),
			true
	}
	return "", "", false
}
