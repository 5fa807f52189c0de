package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen    TicketStatus = "open"
	TicketStatusClaimed TicketStatus = "claimed"
	TicketStatusClosed  TicketStatus = "closed"
)

// Field bounds.
const (
	PriorityMin        = 1
	PriorityMax        = 4
	PriorityDefault    = 2
	EscalationMin      = 0
	EscalationMax      = 5
	RatingMin          = 1
	RatingMax          = 5
	StatusLabelMaxLen  = 100
	RecordVersion      = 2
	DefaultCategoryKey = "general"
)

// ActiveStatuses are the states that count against the one-active-ticket rule.
var ActiveStatuses = []TicketStatus{TicketStatusOpen, TicketStatusClaimed}

// IsActive reports whether the status counts as an active ticket.
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusOpen || s == TicketStatusClaimed
}

// Ticket is the durable record of one requester's support conversation.
type Ticket struct {
	ID               int64
	GuildID          string
	RequesterID      string
	ThreadID         string
	SummaryMessageID string

	CategoryKey    string
	Priority       int
	StatusLabel    *string
	EscalatedLevel int
	EscalatedBy    *string

	Status      TicketStatus
	ClaimedBy   *string
	ClosedBy    *string
	CloseReason *string

	CreatedAt          time.Time
	ClosedAt           *time.Time
	LastActivityAt     *time.Time
	LastUserMessageAt  *time.Time
	LastStaffMessageAt *time.Time
	FirstStaffReplyAt  *time.Time
	SLABreachedAt      *time.Time

	Rating        *int
	RatingComment *string

	RecordVersion int
}

// InactiveSince returns the instant the inactivity clock started.
func (t *Ticket) InactiveSince() time.Time {
	if t.LastActivityAt != nil && !t.LastActivityAt.IsZero() {
		return *t.LastActivityAt
	}
	return t.CreatedAt
}

// IsClaimedBy reports whether staffID currently holds the claim.
func (t *Ticket) IsClaimedBy(staffID string) bool {
	return t.ClaimedBy != nil && *t.ClaimedBy == staffID
}

// Participant is a user entitled to send and receive on a ticket.
type Participant struct {
	TicketID int64
	UserID   string
	AddedBy  string
	AddedAt  time.Time
}

// AuditEntry is an immutable audit trail row written for each lifecycle event.
type AuditEntry struct {
	ID        int64
	TicketID  int64
	ActorID   *string
	EventType string
	Payload   map[string]any
	CreatedAt time.Time
}
