package notification

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
	"github.com/jwalitptl/clinical-scribe/pkg/messaging"
)

type sentMail struct {
	to, subject, body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to, subject, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, content})
	return nil
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type users map[uuid.UUID]*model.User

func (u users) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	return u[id], nil
}

func payload(t *testing.T, e model.InteractionEvent) []byte {
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestHandle(t *testing.T) {
	withMail := &model.User{Base: model.Base{ID: uuid.New()}, Email: "dr.lee@example.org"}
	noMail := &model.User{Base: model.Base{ID: uuid.New()}}
	mailer := &recordingMailer{}
	svc := NewService(nil, users{withMail.ID: withMail, noMail.ID: noMail}, mailer, logger.Nop())
	ctx := context.Background()
	interactionID := uuid.New()

	require.NoError(t, svc.Handle(ctx, model.EventExtractionFailed, payload(t, model.InteractionEvent{
		InteractionID: interactionID,
		UserID:        withMail.ID,
		PatientEHRID:  "EHR-9",
		Reason:        "language model call failed",
	})))
	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "dr.lee@example.org", sent[0].to)
	assert.Contains(t, sent[0].subject, "EHR-9")
	assert.Contains(t, sent[0].body, "language model call failed")
	assert.Contains(t, sent[0].body, interactionID.String())

	// validated interactions need no message
	require.NoError(t, svc.Handle(ctx, model.EventInteractionValidated, payload(t, model.InteractionEvent{UserID: withMail.ID})))
	require.NoError(t, svc.Handle(ctx, model.EventInteractionReady, payload(t, model.InteractionEvent{UserID: noMail.ID})))
	assert.Len(t, mailer.Sent(), 1)

	assert.Error(t, svc.Handle(ctx, model.EventInteractionReady, []byte("{")))
}

func TestStartDeliversBrokerEvents(t *testing.T) {
	u := &model.User{Base: model.Base{ID: uuid.New()}, Email: "dr.lee@example.org"}
	mailer := &recordingMailer{}
	broker := messaging.NewMemoryBroker()
	l := logger.Nop()
	svc := NewService(messaging.NewBrokerAdapter(broker, l.Zerolog()), users{u.ID: u}, mailer, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))

	require.NoError(t, broker.Publish(ctx, model.EventInteractionReady, json.RawMessage(payload(t, model.InteractionEvent{
		InteractionID: uuid.New(),
		UserID:        u.ID,
		PatientEHRID:  "EHR-3",
	}))))

	require.Eventually(t, func() bool {
		sent := mailer.Sent()
		return len(sent) == 1 && sent[0].subject == "Interaction for patient EHR-3 is ready for review"
	}, time.Second, 10*time.Millisecond)
}
