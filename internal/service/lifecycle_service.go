package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/config"
	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/messaging"
	"github.com/spec-kit/ticket-relay/internal/repository"
	"github.com/spec-kit/ticket-relay/internal/transcript"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// AutoCloseReason is recorded on tickets closed by the inactivity sweep.
const AutoCloseReason = "closed automatically after inactivity"

// LifecycleService owns the ticket state machine.
type LifecycleService struct {
	store      repository.TicketStore
	platform   messaging.Platform
	dispatcher events.Dispatcher
	renderer   *transcript.Renderer
	deliverer  *transcript.Deliverer
	categories *config.CategoryCatalog
	cfg        config.TicketConfig
	guildID    string
	logger     *zap.Logger
	now        func() time.Time
	locks      *keyedMutex
}

// LifecycleDependencies bundles collaborators for the lifecycle service.
type LifecycleDependencies struct {
	Store      repository.TicketStore
	Platform   messaging.Platform
	Dispatcher events.Dispatcher
	Renderer   *transcript.Renderer
	Deliverer  *transcript.Deliverer
	Categories *config.CategoryCatalog
	Config     config.TicketConfig
	GuildID    string
	Logger     *zap.Logger
	Now        func() time.Time
}

// CreateInput describes a new ticket.
type CreateInput struct {
	RequesterID   string
	RequesterName string
	CategoryKey   string
}

// TicketDetail is a ticket with its effective participant set.
type TicketDetail struct {
	Ticket       *domain.Ticket
	Participants []domain.Participant
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &LifecycleService{
		store:      deps.Store,
		platform:   deps.Platform,
		dispatcher: deps.Dispatcher,
		renderer:   deps.Renderer,
		deliverer:  deps.Deliverer,
		categories: deps.Categories,
		cfg:        deps.Config,
		guildID:    deps.GuildID,
		logger:     logger.Named("lifecycle"),
		now:        now,
		locks:      newKeyedMutex(),
	}
}

// Create opens a ticket for a requester: it creates the thread and control message,
// then persists the record. Nothing is persisted when the thread cannot be created.
func (s *LifecycleService) Create(ctx context.Context, input CreateInput) (*domain.Ticket, error) {
	requesterID := strings.TrimSpace(input.RequesterID)
	if requesterID == "" {
		return nil, apperrors.NewValidationError("requester is required", nil)
	}
	category, err := s.resolveCategory(input.CategoryKey)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(s.requesterKey(requesterID))
	defer unlock()

	if !s.cfg.AllowMultipleOpen {
		existing, err := s.store.GetActiveTicketByRequester(ctx, s.guildID, requesterID)
		if err == nil {
			return nil, duplicateActive(existing.ID)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.MapError(err)
		}
	}

	now := s.now()
	ticket := &domain.Ticket{
		GuildID:           s.guildID,
		RequesterID:       requesterID,
		CategoryKey:       category,
		Priority:          domain.PriorityDefault,
		Status:            domain.TicketStatusOpen,
		CreatedAt:         now,
		LastActivityAt:    &now,
		LastUserMessageAt: &now,
		RecordVersion:     domain.RecordVersion,
	}

	ref, err := s.platform.CreateThread(ctx, messaging.ThreadSpec{
		Name:           threadName(input.RequesterName, category),
		ControlMessage: RenderControlMessage(ticket),
	})
	if err != nil {
		s.logger.Warn("ticket thread creation failed", zap.String("requester_id", requesterID), zap.Error(err))
		return nil, apperrors.NewCreationFailed(err)
	}
	ticket.ThreadID = ref.ThreadID
	ticket.SummaryMessageID = ref.ControlMessageID

	if err := s.store.CreateTicket(ctx, ticket, s.cfg.AllowMultipleOpen); err != nil {
		s.discardThread(ctx, ref.ThreadID)
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, duplicateActive(0)
		}
		return nil, apperrors.MapError(err)
	}

	s.refreshControlMessage(ctx, ticket)
	s.publish(ctx, events.EventTicketCreated, ticket, &domain.Actor{ID: requesterID, Name: input.RequesterName}, map[string]any{
		"requester_id": requesterID,
		"category":     category,
		"thread_id":    ticket.ThreadID,
		"priority":     ticket.Priority,
	})
	s.logger.Info("ticket created", zap.Int64("ticket_id", ticket.ID), zap.String("requester_id", requesterID))
	return ticket, nil
}

// Claim takes ownership of an open ticket. Claiming a ticket already held by the
// same staff member releases it.
func (s *LifecycleService) Claim(ctx context.Context, ticketID int64, actor *domain.Actor) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	ticket, err := s.activeTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	releasing := ticket.IsClaimedBy(actor.ID)
	if ticket.ClaimedBy != nil && !releasing {
		return nil, alreadyClaimed(ticket)
	}

	var next *string
	eventType := events.EventTicketReleased
	if !releasing {
		next = actor.IDPtr()
		eventType = events.EventTicketClaimed
	}
	ok, err := s.store.SetClaim(ctx, ticket.ID, ticket.ClaimedBy, next, s.now())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ok {
		return nil, s.claimConflict(ctx, ticket.ID)
	}

	updated, err := s.reload(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	s.refreshControlMessage(ctx, updated)
	s.publish(ctx, eventType, updated, actor, map[string]any{"staff_id": actor.ID})
	return updated, nil
}

// SetStatusLabel sets or clears the free-text sub-status.
func (s *LifecycleService) SetStatusLabel(ctx context.Context, ticketID int64, actor *domain.Actor, label string) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	value, err := normalizeStatusLabel(label)
	if err != nil {
		return nil, err
	}
	return s.applyStatusLabel(ctx, ticketID, actor, value)
}

// SetPriority sets the priority (1-4).
func (s *LifecycleService) SetPriority(ctx context.Context, ticketID int64, actor *domain.Actor, priority int) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := validatePriority(priority); err != nil {
		return nil, err
	}
	return s.applyPriority(ctx, ticketID, actor, priority)
}

// SetCategory moves the ticket to another category from the catalog.
func (s *LifecycleService) SetCategory(ctx context.Context, ticketID int64, actor *domain.Actor, key string) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	key, err := s.normalizeCategory(key)
	if err != nil {
		return nil, err
	}
	return s.applyCategory(ctx, ticketID, actor, key)
}

// TicketUpdate carries optional field changes; nil fields are left unchanged.
type TicketUpdate struct {
	Priority    *int
	StatusLabel *string
	Category    *string
}

// Update validates every given field before changing any of them, then applies
// priority, status label and category in that order.
func (s *LifecycleService) Update(ctx context.Context, ticketID int64, actor *domain.Actor, update TicketUpdate) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if update.Priority == nil && update.StatusLabel == nil && update.Category == nil {
		return nil, apperrors.NewValidationError("no fields to update", nil)
	}

	var (
		label    *string
		category string
		err      error
	)
	if update.Priority != nil {
		if err := validatePriority(*update.Priority); err != nil {
			return nil, err
		}
	}
	if update.StatusLabel != nil {
		if label, err = normalizeStatusLabel(*update.StatusLabel); err != nil {
			return nil, err
		}
	}
	if update.Category != nil {
		if category, err = s.normalizeCategory(*update.Category); err != nil {
			return nil, err
		}
	}
	ticket, err := s.activeTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if update.Priority != nil {
		if ticket, err = s.applyPriority(ctx, ticketID, actor, *update.Priority); err != nil {
			return nil, err
		}
	}
	if update.StatusLabel != nil {
		if ticket, err = s.applyStatusLabel(ctx, ticketID, actor, label); err != nil {
			return nil, err
		}
	}
	if update.Category != nil {
		if ticket, err = s.applyCategory(ctx, ticketID, actor, category); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

func (s *LifecycleService) applyStatusLabel(ctx context.Context, ticketID int64, actor *domain.Actor, value *string) (*domain.Ticket, error) {
	label := ""
	if value != nil {
		label = *value
	}
	return s.mutate(ctx, ticketID, actor, events.EventTicketStatusLabelChanged, map[string]any{"status_label": label},
		func(at time.Time) error { return s.store.SetStatusLabel(ctx, ticketID, value, at) })
}

func (s *LifecycleService) applyPriority(ctx context.Context, ticketID int64, actor *domain.Actor, priority int) (*domain.Ticket, error) {
	return s.mutate(ctx, ticketID, actor, events.EventTicketPriorityChanged, map[string]any{"priority": priority},
		func(at time.Time) error { return s.store.SetPriority(ctx, ticketID, priority, at) })
}

func (s *LifecycleService) applyCategory(ctx context.Context, ticketID int64, actor *domain.Actor, key string) (*domain.Ticket, error) {
	return s.mutate(ctx, ticketID, actor, events.EventTicketCategoryChanged, map[string]any{"category": key},
		func(at time.Time) error { return s.store.SetCategory(ctx, ticketID, key, at) })
}

func validatePriority(priority int) error {
	if priority < domain.PriorityMin || priority > domain.PriorityMax {
		return apperrors.NewValidationError("priority out of range", map[string]any{
			"min": domain.PriorityMin, "max": domain.PriorityMax, "value": priority,
		})
	}
	return nil
}

// normalizeStatusLabel trims label; an empty label clears it.
func normalizeStatusLabel(label string) (*string, error) {
	label = strings.TrimSpace(label)
	if len([]rune(label)) > domain.StatusLabelMaxLen {
		return nil, apperrors.NewValidationError("status label too long", map[string]any{"max": domain.StatusLabelMaxLen})
	}
	if label == "" {
		return nil, nil
	}
	return &label, nil
}

func (s *LifecycleService) normalizeCategory(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", apperrors.NewValidationError("category is required", nil)
	}
	if !s.categories.Allows(key) {
		return "", apperrors.NewValidationError("unknown category", map[string]any{"category": key})
	}
	return key, nil
}

// Escalate sets the escalation level (0-5). Levels of 4 and above need a team lead.
func (s *LifecycleService) Escalate(ctx context.Context, ticketID int64, actor *domain.Actor, level int) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if level < domain.EscalationMin || level > domain.EscalationMax {
		return nil, apperrors.NewValidationError("escalation level out of range", map[string]any{
			"min": domain.EscalationMin, "max": domain.EscalationMax, "value": level,
		})
	}
	if level >= 4 && !actor.Role.AtLeast(domain.StaffRoleTeamLead) {
		return nil, apperrors.NewForbidden("escalation to level 4 or higher requires a team lead")
	}
	return s.mutate(ctx, ticketID, actor, events.EventTicketEscalated, map[string]any{"level": level},
		func(at time.Time) error { return s.store.SetEscalation(ctx, ticketID, level, actor.ID, at) })
}

// Forward hands the ticket to another staff member, claiming it on their behalf.
func (s *LifecycleService) Forward(ctx context.Context, ticketID int64, actor *domain.Actor, targetID string) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, apperrors.NewValidationError("forward target is required", nil)
	}
	ticket, err := s.activeTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.IsClaimedBy(targetID) {
		return nil, apperrors.NewValidationError("ticket is already claimed by the target", map[string]any{"staff_id": targetID})
	}

	ok, err := s.store.SetClaim(ctx, ticket.ID, ticket.ClaimedBy, &targetID, s.now())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ok {
		return nil, s.claimConflict(ctx, ticket.ID)
	}

	if err := s.platform.GrantThreadAccess(ctx, ticket.ThreadID, targetID); err != nil {
		s.logger.Warn("failed to grant thread access", zap.Int64("ticket_id", ticket.ID), zap.String("recipient_id", targetID), zap.Error(err))
	}
	s.notifyThread(ctx, ticket, fmt.Sprintf("%s, ticket #%d has been forwarded to you by %s.", mention(targetID), ticket.ID, actorLabel(actor)))

	updated, err := s.reload(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"target_id": targetID}
	if ticket.ClaimedBy != nil {
		payload["previous_claimant"] = *ticket.ClaimedBy
	}
	s.refreshControlMessage(ctx, updated)
	s.publish(ctx, events.EventTicketForwarded, updated, actor, payload)
	return updated, nil
}

// Close closes an active ticket on behalf of staff or the requester. Closing twice
// fails with ALREADY_CLOSED and has no further effect.
func (s *LifecycleService) Close(ctx context.Context, ticketID int64, actor *domain.Actor, reason string) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewForbidden("actor required")
	}
	ticket, err := s.get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && ticket.RequesterID != actor.ID {
		return nil, apperrors.NewForbidden("only staff or the requester may close this ticket")
	}
	return s.close(ctx, ticket, actor, strings.TrimSpace(reason))
}

// CloseAutomatically closes a ticket without a human actor once it has been idle
// for at least idle. It reports false, leaving the ticket untouched, when activity
// arrived after the caller last looked at it.
func (s *LifecycleService) CloseAutomatically(ctx context.Context, ticketID int64, idle time.Duration) (*domain.Ticket, bool, error) {
	ticket, err := s.get(ctx, ticketID)
	if err != nil {
		return nil, false, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, false, alreadyClosed(ticket.ID)
	}
	now := s.now()
	cutoff := now.Add(-idle)
	ok, err := s.store.CloseIdle(ctx, ticket.ID, cutoff, AutoCloseReason, now)
	if err != nil {
		return nil, false, apperrors.MapError(err)
	}
	if !ok {
		current, err := s.reload(ctx, ticket.ID)
		if err != nil {
			return nil, false, err
		}
		if current.Status == domain.TicketStatusClosed {
			return nil, false, alreadyClosed(ticket.ID)
		}
		s.logger.Debug("auto-close skipped; ticket saw recent activity",
			zap.Int64("ticket_id", ticket.ID), zap.Time("last_activity_at", current.InactiveSince()))
		return current, false, nil
	}
	closed, err := s.finishClose(ctx, ticket.ID, nil, AutoCloseReason)
	if err != nil {
		return nil, false, err
	}
	return closed, true, nil
}

func (s *LifecycleService) close(ctx context.Context, ticket *domain.Ticket, actor *domain.Actor, reason string) (*domain.Ticket, error) {
	if ticket.Status == domain.TicketStatusClosed {
		return nil, alreadyClosed(ticket.ID)
	}
	ok, err := s.store.Close(ctx, ticket.ID, actor.IDPtr(), reason, s.now())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ok {
		return nil, alreadyClosed(ticket.ID)
	}
	return s.finishClose(ctx, ticket.ID, actor, reason)
}

// finishClose runs the side effects of a committed close.
func (s *LifecycleService) finishClose(ctx context.Context, ticketID int64, actor *domain.Actor, reason string) (*domain.Ticket, error) {
	closed, err := s.reload(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	notice := fmt.Sprintf("Ticket closed by %s.", actorLabel(actor))
	if reason != "" {
		notice = fmt.Sprintf("Ticket closed by %s: %s", actorLabel(actor), reason)
	}
	s.notifyThread(ctx, closed, notice)
	s.deliverTranscript(ctx, closed)
	s.promptRating(ctx, closed)
	s.refreshControlMessage(ctx, closed)
	if err := s.platform.ArchiveThread(ctx, closed.ThreadID); err != nil {
		s.logger.Warn("failed to archive ticket thread", zap.Int64("ticket_id", closed.ID), zap.Error(err))
	}

	eventType := events.EventTicketClosed
	if actor == nil {
		eventType = events.EventTicketAutoClosed
	}
	s.publish(ctx, eventType, closed, actor, map[string]any{"reason": reason})
	s.logger.Info("ticket closed", zap.Int64("ticket_id", closed.ID), zap.String("event_type", string(eventType)))
	return closed, nil
}

// FlagSLABreach records the first SLA breach of a ticket and posts a notice in its
// thread. It reports false when the breach was already recorded.
func (s *LifecycleService) FlagSLABreach(ctx context.Context, ticket *domain.Ticket, threshold time.Duration) (bool, error) {
	at := s.now()
	marked, err := s.store.MarkSLABreached(ctx, ticket.ID, at)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	if !marked {
		return false, nil
	}
	s.notifyThread(ctx, ticket, fmt.Sprintf("SLA breached: no staff reply within %s of opening.", threshold))
	s.publish(ctx, events.EventTicketSLABreached, ticket, nil, map[string]any{
		"threshold_minutes": int(threshold.Minutes()),
		"breached_at":       at.UTC().Format(time.RFC3339),
	})
	return true, nil
}

// Reopen returns a closed ticket to open. It needs a team lead and respects the
// one-active-ticket rule for the requester.
func (s *LifecycleService) Reopen(ctx context.Context, ticketID int64, actor *domain.Actor) (*domain.Ticket, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if !actor.Role.AtLeast(domain.StaffRoleTeamLead) {
		return nil, apperrors.NewForbidden("reopening a ticket requires a team lead")
	}
	ticket, err := s.get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != domain.TicketStatusClosed {
		return nil, notClosed(ticket.ID)
	}

	if ticket.RequesterID != "" {
		unlock := s.locks.Lock(s.requesterKey(ticket.RequesterID))
		defer unlock()
		if !s.cfg.AllowMultipleOpen {
			existing, err := s.store.GetActiveTicketByRequester(ctx, s.guildID, ticket.RequesterID)
			if err == nil {
				return nil, duplicateActive(existing.ID)
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.MapError(err)
			}
		}
	}

	ok, err := s.store.Reopen(ctx, ticket.ID, s.now())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ok {
		return nil, notClosed(ticket.ID)
	}
	if err := s.platform.UnarchiveThread(ctx, ticket.ThreadID); err != nil {
		s.logger.Warn("failed to unarchive ticket thread", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}

	reopened, err := s.reload(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	s.notifyThread(ctx, reopened, fmt.Sprintf("Ticket reopened by %s.", actorLabel(actor)))
	s.refreshControlMessage(ctx, reopened)
	s.publish(ctx, events.EventTicketReopened, reopened, actor, nil)
	return reopened, nil
}

// Get returns a ticket by ID.
func (s *LifecycleService) Get(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	return s.get(ctx, ticketID)
}

// Detail returns a ticket with its participants, requester included.
func (s *LifecycleService) Detail(ctx context.Context, ticketID int64) (*TicketDetail, error) {
	ticket, err := s.get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	participants, err := effectiveParticipants(ctx, s.store, ticket)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: ticket, Participants: participants}, nil
}

// ListActive returns open and claimed tickets, oldest first.
func (s *LifecycleService) ListActive(ctx context.Context, limit int) ([]domain.Ticket, error) {
	tickets, err := s.store.ListActive(ctx, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// Transcript renders the current transcript of a ticket for staff.
func (s *LifecycleService) Transcript(ctx context.Context, ticketID int64, actor *domain.Actor) (transcript.Artifact, error) {
	if err := requireStaff(actor); err != nil {
		return transcript.Artifact{}, err
	}
	ticket, err := s.get(ctx, ticketID)
	if err != nil {
		return transcript.Artifact{}, err
	}
	if s.renderer == nil {
		return transcript.Artifact{}, apperrors.NewInternalError(errors.New("transcript renderer not configured"))
	}
	artifact, err := s.renderer.Render(ctx, ticket)
	if err != nil {
		return transcript.Artifact{}, apperrors.NewDeliveryFailed("could not render transcript", err)
	}
	return artifact, nil
}

// mutate applies a field setter to an active ticket and emits eventType.
func (s *LifecycleService) mutate(ctx context.Context, ticketID int64, actor *domain.Actor, eventType events.EventType, payload map[string]any, apply func(at time.Time) error) (*domain.Ticket, error) {
	if _, err := s.activeTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	if err := apply(s.now()); err != nil {
		if repository.IsNotUpdated(err) {
			return nil, ticketClosed(ticketID)
		}
		return nil, apperrors.MapError(err)
	}
	updated, err := s.reload(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	s.refreshControlMessage(ctx, updated)
	s.publish(ctx, eventType, updated, actor, payload)
	return updated, nil
}

func (s *LifecycleService) deliverTranscript(ctx context.Context, ticket *domain.Ticket) {
	if s.renderer == nil || s.deliverer == nil || ticket.RequesterID == "" {
		return
	}
	log := s.logger.With(zap.Int64("ticket_id", ticket.ID))
	artifact, err := s.renderer.Render(ctx, ticket)
	if err != nil {
		log.Warn("transcript render failed", zap.Error(err))
		return
	}
	delivery, err := s.deliverer.Deliver(ctx, artifact, ticket.RequesterID)
	if err != nil {
		log.Warn("transcript delivery failed", zap.String("recipient_id", ticket.RequesterID), zap.Error(err))
		return
	}
	log.Debug("transcript delivered", zap.String("method", string(delivery.Method)), zap.String("url", delivery.URL))
}

func (s *LifecycleService) promptRating(ctx context.Context, ticket *domain.Ticket) {
	if !s.cfg.RatingEnabled || ticket.RequesterID == "" {
		return
	}
	prefix := s.cfg.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	content := fmt.Sprintf("How did we do on ticket #%d? Reply with `%srate %d <1-5> [comment]`.", ticket.ID, prefix, ticket.ID)
	if err := s.platform.SendPrivate(ctx, ticket.RequesterID, messaging.OutgoingMessage{Content: content}); err != nil {
		s.logger.Warn("rating prompt not delivered",
			zap.Int64("ticket_id", ticket.ID),
			zap.String("recipient_id", ticket.RequesterID),
			zap.Error(err))
	}
}

func (s *LifecycleService) refreshControlMessage(ctx context.Context, ticket *domain.Ticket) {
	if ticket.SummaryMessageID == "" || ticket.ThreadID == "" {
		return
	}
	if err := s.platform.EditMessage(ctx, ticket.ThreadID, ticket.SummaryMessageID, RenderControlMessage(ticket)); err != nil {
		s.logger.Warn("failed to refresh control message", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *LifecycleService) notifyThread(ctx context.Context, ticket *domain.Ticket, content string) {
	if _, err := s.platform.SendToThread(ctx, ticket.ThreadID, messaging.OutgoingMessage{Content: content}); err != nil {
		s.logger.Warn("thread notice failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *LifecycleService) discardThread(ctx context.Context, threadID string) {
	if err := s.platform.ArchiveThread(ctx, threadID); err != nil {
		s.logger.Warn("failed to archive orphaned thread", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func (s *LifecycleService) publish(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, actor *domain.Actor, payload map[string]any) {
	publishEvent(ctx, s.dispatcher, s.now, eventType, ticket, actor, payload)
}

func (s *LifecycleService) claimConflict(ctx context.Context, ticketID int64) error {
	current, err := s.get(ctx, ticketID)
	if err != nil {
		return err
	}
	if current.Status == domain.TicketStatusClosed {
		return ticketClosed(ticketID)
	}
	return alreadyClaimed(current)
}

func (s *LifecycleService) resolveCategory(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(s.cfg.DefaultCategory))
	}
	if key == "" {
		key = domain.DefaultCategoryKey
	}
	if !s.categories.Allows(key) {
		return "", apperrors.NewValidationError("unknown category", map[string]any{"category": key})
	}
	return key, nil
}

func (s *LifecycleService) requesterKey(requesterID string) string {
	return s.guildID + ":" + requesterID
}

func (s *LifecycleService) get(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *LifecycleService) activeTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, ticketClosed(ticketID)
	}
	return ticket, nil
}

func (s *LifecycleService) reload(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	return s.get(ctx, ticketID)
}

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, now func() time.Time, eventType events.EventType, ticket *domain.Ticket, actor *domain.Actor, payload map[string]any) {
	if dispatcher == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	_ = dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		GuildID:   ticket.GuildID,
		ActorID:   actor.IDPtr(),
		Timestamp: now(),
		Payload:   payload,
	})
}

func effectiveParticipants(ctx context.Context, store repository.TicketStore, ticket *domain.Ticket) ([]domain.Participant, error) {
	rows, err := store.ListParticipants(ctx, ticket.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	out := make([]domain.Participant, 0, len(rows)+1)
	if ticket.RequesterID != "" {
		out = append(out, domain.Participant{
			TicketID: ticket.ID,
			UserID:   ticket.RequesterID,
			AddedBy:  ticket.RequesterID,
			AddedAt:  ticket.CreatedAt,
		})
	}
	for _, p := range rows {
		if p.UserID == ticket.RequesterID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func requireStaff(actor *domain.Actor) error {
	if !actor.IsStaff() {
		return apperrors.NewForbidden("staff role required")
	}
	return nil
}

func actorLabel(actor *domain.Actor) string {
	if actor == nil {
		return "the system"
	}
	if actor.ID != "" {
		return mention(actor.ID)
	}
	return actor.Name
}

func alreadyClaimed(ticket *domain.Ticket) error {
	details := map[string]any{"ticket_id": ticket.ID}
	if ticket.ClaimedBy != nil {
		details["claimed_by"] = *ticket.ClaimedBy
	}
	return apperrors.NewStateConflict(apperrors.CodeAlreadyClaimed, "ticket is already claimed by another staff member", details)
}

func alreadyClosed(ticketID int64) error {
	return apperrors.NewStateConflict(apperrors.CodeAlreadyClosed, "ticket is already closed", map[string]any{"ticket_id": ticketID})
}

func ticketClosed(ticketID int64) error {
	return apperrors.NewStateConflict(apperrors.CodeTicketClosed, "ticket is closed", map[string]any{"ticket_id": ticketID})
}

func notClosed(ticketID int64) error {
	return apperrors.NewStateConflict(apperrors.CodeNotClosed, "ticket is not closed", map[string]any{"ticket_id": ticketID})
}

func duplicateActive(existingID int64) error {
	details := map[string]any{}
	if existingID > 0 {
		details["ticket_id"] = existingID
	}
	return apperrors.NewStateConflict(apperrors.CodeDuplicateActive, "requester already has an active ticket", details)
}
