package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/messaging"
	"github.com/spec-kit/ticket-relay/internal/repository"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// deliveryConcurrency caps parallel private deliveries per outbound message.
const deliveryConcurrency = 4

// InboundMessage is a private message from a requester or participant.
type InboundMessage struct {
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []domain.Attachment
	CategoryKey string
}

// OutboundMessage is a staff message posted in a ticket thread.
type OutboundMessage struct {
	ThreadID    string
	MessageID   string
	Content     string
	Attachments []domain.Attachment
	Author      *domain.Actor
}

// DeliveryResult is the outcome of one private delivery.
type DeliveryResult struct {
	RecipientID string
	Delivered   bool
	Err         error
}

// OutboundResult summarizes an outbound relay.
type OutboundResult struct {
	Ticket     *domain.Ticket
	Note       bool
	Deliveries []DeliveryResult
}

// Failed returns the results that were not delivered.
func (r *OutboundResult) Failed() []DeliveryResult {
	var out []DeliveryResult
	for _, d := range r.Deliveries {
		if !d.Delivered {
			out = append(out, d)
		}
	}
	return out
}

// RelayService moves messages between private channels and ticket threads.
type RelayService struct {
	store      repository.TicketStore
	platform   messaging.Platform
	resolver   *IdentityResolver
	lifecycle  *LifecycleService
	dispatcher events.Dispatcher
	notePrefix string
	logger     *zap.Logger
	now        func() time.Time
}

// RelayDependencies bundles collaborators for the relay service.
type RelayDependencies struct {
	Store      repository.TicketStore
	Platform   messaging.Platform
	Resolver   *IdentityResolver
	Lifecycle  *LifecycleService
	Dispatcher events.Dispatcher
	NotePrefix string
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewRelayService constructs the service.
func NewRelayService(deps RelayDependencies) *RelayService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RelayService{
		store:      deps.Store,
		platform:   deps.Platform,
		resolver:   deps.Resolver,
		lifecycle:  deps.Lifecycle,
		dispatcher: deps.Dispatcher,
		notePrefix: deps.NotePrefix,
		logger:     logger.Named("relay"),
		now:        now,
	}
}

// Inbound appends a private message to the sender's active ticket thread, opening a
// ticket first when the sender has none.
func (s *RelayService) Inbound(ctx context.Context, msg InboundMessage) (*domain.Ticket, error) {
	if strings.TrimSpace(msg.AuthorID) == "" {
		return nil, apperrors.NewValidationError("author is required", nil)
	}
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return nil, apperrors.NewValidationError("message is empty", nil)
	}

	ticket, err := s.resolver.ResolveRequester(ctx, msg.AuthorID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		ticket, err = s.openFor(ctx, msg)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.platform.SendToThread(ctx, ticket.ThreadID, messaging.OutgoingMessage{
		Content: formatInbound(msg),
	}); err != nil {
		return nil, apperrors.NewDeliveryFailed("could not append message to ticket thread", err)
	}
	if err := s.store.TouchUserMessage(ctx, ticket.ID, s.now()); err != nil {
		return nil, apperrors.MapError(err)
	}

	publishEvent(ctx, s.dispatcher, s.now, events.EventTicketMessageRelayed, ticket, &domain.Actor{ID: msg.AuthorID, Name: msg.AuthorName}, map[string]any{
		"direction":   "inbound",
		"attachments": len(msg.Attachments),
	})
	return ticket, nil
}

func (s *RelayService) openFor(ctx context.Context, msg InboundMessage) (*domain.Ticket, error) {
	ticket, err := s.lifecycle.Create(ctx, CreateInput{
		RequesterID:   msg.AuthorID,
		RequesterName: msg.AuthorName,
		CategoryKey:   msg.CategoryKey,
	})
	switch {
	case err == nil:
		return ticket, nil
	case apperrors.IsCode(err, apperrors.CodeDuplicateActive):
		// Another message from the same sender opened the ticket first.
		ticket, rerr := s.resolver.ResolveRequester(ctx, msg.AuthorID)
		if rerr != nil {
			return nil, rerr
		}
		if ticket == nil {
			return nil, err
		}
		return ticket, nil
	case apperrors.IsCode(err, apperrors.CodeCreationFailed):
		s.sendPrivate(ctx, 0, msg.AuthorID, "Sorry, we could not open a ticket for you right now. Please try again later.")
		return nil, err
	default:
		return nil, err
	}
}

// Outbound relays a staff thread message to the requester and every participant.
// The thread already holds the message; private deliveries are best-effort and
// reported per recipient.
func (s *RelayService) Outbound(ctx context.Context, msg OutboundMessage) (*OutboundResult, error) {
	if err := requireStaff(msg.Author); err != nil {
		return nil, err
	}
	ticket, err := s.resolver.ResolveThread(ctx, msg.ThreadID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"thread_id": msg.ThreadID})
	}
	if s.IsNote(msg.Content) {
		return &OutboundResult{Ticket: ticket, Note: true}, nil
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, ticketClosed(ticket.ID)
	}
	if strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) == 0 {
		return nil, apperrors.NewValidationError("message is empty", nil)
	}

	recipients, err := s.Recipients(ctx, ticket)
	if err != nil {
		return nil, err
	}
	recipients = without(recipients, msg.Author.ID)
	if ticket.RequesterID == "" {
		s.logger.Warn("relaying on ticket without requester", zap.Int64("ticket_id", ticket.ID))
	}

	out := messaging.OutgoingMessage{Content: formatOutbound(ticket, msg)}
	results := make([]DeliveryResult, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deliveryConcurrency)
	for i, recipient := range recipients {
		i, recipient := i, recipient
		g.Go(func() error {
			err := s.platform.SendPrivate(gctx, recipient, out)
			results[i] = DeliveryResult{RecipientID: recipient, Delivered: err == nil, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.store.TouchStaffMessage(ctx, ticket.ID, s.now()); err != nil {
		return nil, apperrors.MapError(err)
	}

	result := &OutboundResult{Ticket: ticket, Deliveries: results}
	if failed := result.Failed(); len(failed) > 0 {
		for _, f := range failed {
			s.logger.Warn("private delivery failed",
				zap.Int64("ticket_id", ticket.ID),
				zap.String("recipient_id", f.RecipientID),
				zap.Error(f.Err))
		}
		s.postDeliveryNotice(ctx, ticket, failed)
	}

	publishEvent(ctx, s.dispatcher, s.now, events.EventTicketMessageRelayed, ticket, msg.Author, map[string]any{
		"direction":  "outbound",
		"recipients": len(recipients),
		"failed":     len(result.Failed()),
	})
	return result, nil
}

// AddParticipant adds a user to a ticket, grants thread access and notifies them.
// Adding an existing participant is a no-op.
func (s *RelayService) AddParticipant(ctx context.Context, ticketID int64, userID string, actor *domain.Actor) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidationError("user is required", nil)
	}
	ticket, err := s.lifecycle.activeTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if userID == ticket.RequesterID {
		return ticket, nil
	}

	now := s.now()
	inserted, err := s.store.AddParticipant(ctx, &domain.Participant{
		TicketID: ticket.ID,
		UserID:   userID,
		AddedBy:  actor.ID,
		AddedAt:  now,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.platform.GrantThreadAccess(ctx, ticket.ThreadID, userID); err != nil {
		s.logger.Warn("failed to grant thread access", zap.Int64("ticket_id", ticket.ID), zap.String("recipient_id", userID), zap.Error(err))
	}
	if !inserted {
		return ticket, nil
	}
	if err := s.store.TouchActivity(ctx, ticket.ID, now); err != nil {
		s.logger.Warn("failed to bump ticket activity", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}

	s.sendPrivate(ctx, ticket.ID, userID, fmt.Sprintf("You have been added to ticket #%d. Replies you send here will reach the support team.", ticket.ID))
	publishEvent(ctx, s.dispatcher, s.now, events.EventTicketParticipantAdded, ticket, actor, map[string]any{"user_id": userID})
	return ticket, nil
}

// Recipients returns the requester and all added participants, without duplicates.
func (s *RelayService) Recipients(ctx context.Context, ticket *domain.Ticket) ([]string, error) {
	participants, err := effectiveParticipants(ctx, s.store, ticket)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if _, ok := seen[p.UserID]; ok {
			continue
		}
		seen[p.UserID] = struct{}{}
		out = append(out, p.UserID)
	}
	return out, nil
}

// IsNote reports whether content is an internal staff note.
func (s *RelayService) IsNote(content string) bool {
	return s.notePrefix != "" && strings.HasPrefix(strings.TrimSpace(content), s.notePrefix)
}

func (s *RelayService) postDeliveryNotice(ctx context.Context, ticket *domain.Ticket, failed []DeliveryResult) {
	mentions := make([]string, 0, len(failed))
	for _, f := range failed {
		mentions = append(mentions, mention(f.RecipientID))
	}
	content := fmt.Sprintf("Could not deliver the last message to: %s", strings.Join(mentions, ", "))
	if _, err := s.platform.SendToThread(ctx, ticket.ThreadID, messaging.OutgoingMessage{Content: content}); err != nil {
		s.logger.Warn("delivery notice failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *RelayService) sendPrivate(ctx context.Context, ticketID int64, userID, content string) {
	err := s.platform.SendPrivate(ctx, userID, messaging.OutgoingMessage{Content: content})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("private notice failed", zap.Int64("ticket_id", ticketID), zap.String("recipient_id", userID), zap.Error(err))
	}
}

func formatInbound(msg InboundMessage) string {
	var b strings.Builder
	name := msg.AuthorName
	if name == "" {
		name = msg.AuthorID
	}
	fmt.Fprintf(&b, "**%s**: %s", name, msg.Content)
	writeAttachments(&b, msg.Attachments)
	return b.String()
}

func formatOutbound(ticket *domain.Ticket, msg OutboundMessage) string {
	var b strings.Builder
	name := msg.Author.Name
	if name == "" {
		name = "Support"
	}
	fmt.Fprintf(&b, "**%s** (ticket #%d): %s", name, ticket.ID, msg.Content)
	writeAttachments(&b, msg.Attachments)
	return b.String()
}

func writeAttachments(b *strings.Builder, attachments []domain.Attachment) {
	for _, a := range attachments {
		fmt.Fprintf(b, "\n%s", a.URL)
	}
}

func without(ids []string, exclude string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
