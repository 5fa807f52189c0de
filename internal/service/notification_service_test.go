package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/repository"
)

type failingAudit struct{}

func (failingAudit) Create(context.Context, *domain.AuditEntry) error {
	return errors.New("audit table unavailable")
}

func (failingAudit) ListByTicket(context.Context, int64) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestNotificationServiceWritesAudit(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	audit := repository.NewMemoryAuditRepository()
	var forwarded []events.EventType
	sink := func(_ context.Context, e events.Event) error {
		forwarded = append(forwarded, e.Type)
		return errors.New("redis down")
	}
	NewNotificationService(dispatcher, audit, sink, zap.NewNop()).RegisterHandlers()

	actor := "staff-s"
	ctx := context.Background()
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventTicketClaimed, TicketID: 3, ActorID: &actor,
		Timestamp: t0, Payload: map[string]any{"staff_id": actor},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventTicketMessageRelayed, TicketID: 3, Timestamp: t0.Add(time.Second),
	}))

	entries, err := audit.ListByTicket(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(events.EventTicketClaimed), entries[0].EventType)
	assert.Equal(t, "staff-s", *entries[0].ActorID)
	assert.Equal(t, []events.EventType{events.EventTicketClaimed, events.EventTicketMessageRelayed}, forwarded)
}

func TestAuditFailureDoesNotAffectLifecycle(t *testing.T) {
	h := newHarness(t)
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	NewNotificationService(dispatcher, failingAudit{}, nil, zap.NewNop()).RegisterHandlers()
	h.lifecycle.dispatcher = dispatcher

	ticket := h.openTicket(t, requesterA)
	claimed, err := h.lifecycle.Claim(context.Background(), ticket.ID, agentS)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClaimed, claimed.Status)
}
