package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/repository"
)

// NotificationService fans lifecycle events out to the audit log, the external
// event sink and the application log. Failures never reach the publisher.
type NotificationService struct {
	dispatcher events.Dispatcher
	audit      repository.AuditRepository
	sink       events.EventHandler
	logger     *zap.Logger
}

// NewNotificationService creates the service. audit and sink may be nil.
func NewNotificationService(dispatcher events.Dispatcher, audit repository.AuditRepository, sink events.EventHandler, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		audit:      audit,
		sink:       sink,
		logger:     logger.Named("events"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.SubscribeAll(n.logEvent)
	n.dispatcher.SubscribeAll(n.recordAudit)
	n.dispatcher.SubscribeAll(n.forward)
	n.dispatcher.Subscribe(events.EventTicketSLABreached, n.handleSLABreached)
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Debug(string(event.Type),
		zap.Int64("ticket_id", event.TicketID),
		zap.Stringp("actor_id", event.ActorID),
		zap.Any("payload", event.Payload))
	return nil
}

// recordAudit writes one audit row per event. The message relay events are not
// lifecycle mutations and are skipped.
func (n *NotificationService) recordAudit(ctx context.Context, event events.Event) error {
	if n.audit == nil || event.Type == events.EventTicketMessageRelayed {
		return nil
	}
	entry := &domain.AuditEntry{
		TicketID:  event.TicketID,
		ActorID:   event.ActorID,
		EventType: string(event.Type),
		Payload:   event.Payload,
		CreatedAt: event.Timestamp,
	}
	if err := n.audit.Create(ctx, entry); err != nil {
		n.logger.Warn("audit write failed",
			zap.Int64("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
	return nil
}

func (n *NotificationService) forward(ctx context.Context, event events.Event) error {
	if n.sink == nil {
		return nil
	}
	if err := n.sink(ctx, event); err != nil {
		n.logger.Warn("event sink publish failed",
			zap.Int64("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
	return nil
}

func (n *NotificationService) handleSLABreached(_ context.Context, event events.Event) error {
	n.logger.Warn("ticket SLA breached", zap.Int64("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}
