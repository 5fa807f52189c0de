package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

var (
	// ErrDuplicateActive is returned when a requester already has an active ticket.
	ErrDuplicateActive = errors.New("requester already has an active ticket")
	// ErrNotUpdated is returned when a conditional update matched no row.
	ErrNotUpdated = errors.New("ticket not updated")
)

// TicketStore is pure CRUD over tickets and participants. Missing rows surface as pgx.ErrNoRows.
// Every method is a single atomic statement against the backing store.
type TicketStore interface {
	// CreateTicket inserts t and fills ID. Unless allowMultiple is set it fails with
	// ErrDuplicateActive when the requester already has an open or claimed ticket.
	CreateTicket(ctx context.Context, t *domain.Ticket, allowMultiple bool) error
	GetTicket(ctx context.Context, id int64) (*domain.Ticket, error)
	GetTicketByThread(ctx context.Context, guildID, threadID string) (*domain.Ticket, error)
	GetActiveTicketByRequester(ctx context.Context, guildID, requesterID string) (*domain.Ticket, error)
	GetActiveTicketByParticipant(ctx context.Context, guildID, userID string) (*domain.Ticket, error)

	// SetClaim swaps claimed_by from expected to next on an active ticket. A nil next
	// releases the claim. It reports false when the current claimant differs from expected.
	SetClaim(ctx context.Context, id int64, expected, next *string, at time.Time) (bool, error)
	// Close moves an active ticket to closed. It reports false when already closed.
	Close(ctx context.Context, id int64, closedBy *string, reason string, at time.Time) (bool, error)
	// CloseIdle closes an active ticket without an actor, but only while its last
	// activity is at or before cutoff. It reports false otherwise.
	CloseIdle(ctx context.Context, id int64, cutoff time.Time, reason string, at time.Time) (bool, error)
	// Reopen moves a closed ticket back to open. It reports false when not closed.
	Reopen(ctx context.Context, id int64, at time.Time) (bool, error)

	// Field setters return ErrNotUpdated for closed tickets. Each bumps last_activity_at.
	SetStatusLabel(ctx context.Context, id int64, label *string, at time.Time) error
	SetPriority(ctx context.Context, id int64, priority int, at time.Time) error
	SetCategory(ctx context.Context, id int64, key string, at time.Time) error
	SetEscalation(ctx context.Context, id int64, level int, actorID string, at time.Time) error
	SetRequester(ctx context.Context, id int64, requesterID string) error

	TouchActivity(ctx context.Context, id int64, at time.Time) error
	TouchUserMessage(ctx context.Context, id int64, at time.Time) error
	// TouchStaffMessage sets first_staff_reply_at only when unset.
	TouchStaffMessage(ctx context.Context, id int64, at time.Time) error
	// MarkSLABreached sets sla_breached_at only when unset and reports whether it did.
	MarkSLABreached(ctx context.Context, id int64, at time.Time) (bool, error)

	ListActive(ctx context.Context, limit int) ([]domain.Ticket, error)

	// AddParticipant inserts the pair and reports false when it already existed.
	AddParticipant(ctx context.Context, p *domain.Participant) (bool, error)
	ListParticipants(ctx context.Context, ticketID int64) ([]domain.Participant, error)
	SetRating(ctx context.Context, id int64, rating int, comment *string) error
}
