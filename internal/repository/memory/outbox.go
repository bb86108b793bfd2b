package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinical-scribe/internal/model"
	"github.com/jwalitptl/clinical-scribe/internal/repository"
)

type outboxRepository struct {
	s *Store
}

func NewOutboxRepository(s *Store) repository.OutboxRepository {
	return &outboxRepository{s: s}
}

func (r *outboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.appendOutbox(event)
	return nil
}

// ClaimPending holds the store lock while fn runs, which serialises
// concurrent processors the way row locks do in postgres.
func (r *outboxRepository) ClaimPending(_ context.Context, limit int, fn func([]*model.OutboxEvent) []repository.OutboxUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ts := now()
	var due []*model.OutboxEvent
	for _, e := range r.s.outbox {
		if len(due) == limit {
			break
		}
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(ts) {
			continue
		}
		c := *e
		due = append(due, &c)
	}
	if len(due) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*model.OutboxEvent, len(r.s.outbox))
	for _, e := range r.s.outbox {
		byID[e.ID] = e
	}
	for _, u := range fn(due) {
		e, ok := byID[u.ID]
		if !ok {
			continue
		}
		e.Status = u.Status
		e.ErrorMessage = u.Error
		e.RetryAt = u.RetryAt
		e.UpdatedAt = ts
		switch u.Status {
		case model.OutboxStatusRetry:
			e.RetryCount++
		case model.OutboxStatusProcessed:
			processed := ts
			e.ProcessedAt = &processed
		}
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.outbox[:0]
	var n int64
	for _, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.outbox = kept
	return n, nil
}
