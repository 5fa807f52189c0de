package dto

import (
	"time"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

// TicketSummary response.
type TicketSummary struct {
	ID             int64               `json:"id"`
	RequesterID    string              `json:"requester_id"`
	ThreadID       string              `json:"thread_id"`
	Status         domain.TicketStatus `json:"status"`
	ClaimedBy      *string             `json:"claimed_by"`
	Category       string              `json:"category"`
	Priority       int                 `json:"priority"`
	StatusLabel    *string             `json:"status_label"`
	EscalatedLevel int                 `json:"escalated_level"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActivityAt *time.Time          `json:"last_activity_at"`
	SLABreached    bool                `json:"sla_breached"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	SummaryMessageID   string                `json:"summary_message_id"`
	EscalatedBy        *string               `json:"escalated_by"`
	ClosedBy           *string               `json:"closed_by"`
	CloseReason        *string               `json:"close_reason"`
	ClosedAt           *time.Time            `json:"closed_at"`
	FirstStaffReplyAt  *time.Time            `json:"first_staff_reply_at"`
	LastUserMessageAt  *time.Time            `json:"last_user_message_at"`
	LastStaffMessageAt *time.Time            `json:"last_staff_message_at"`
	SLABreachedAt      *time.Time            `json:"sla_breached_at"`
	Rating             *int                  `json:"rating"`
	RatingComment      *string               `json:"rating_comment"`
	Participants       []ParticipantResponse `json:"participants"`
}

// ParticipantResponse represents one user receiving relayed replies.
type ParticipantResponse struct {
	UserID  string    `json:"user_id"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// CloseTicketRequest payload.
type CloseTicketRequest struct {
	Reason string `json:"reason"`
}

// EscalateTicketRequest payload.
type EscalateTicketRequest struct {
	Level *int `json:"level"`
}

// ForwardTicketRequest payload.
type ForwardTicketRequest struct {
	StaffID string `json:"staff_id"`
}

// AddParticipantRequest payload.
type AddParticipantRequest struct {
	UserID string `json:"user_id"`
}

// UpdateTicketRequest payload; nil fields are left unchanged.
type UpdateTicketRequest struct {
	Priority    *int    `json:"priority"`
	StatusLabel *string `json:"status_label"`
	Category    *string `json:"category"`
}

// Empty reports whether the update carries no field.
func (r UpdateTicketRequest) Empty() bool {
	return r.Priority == nil && r.StatusLabel == nil && r.Category == nil
}

// NewTicketSummary maps a ticket to its list representation.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:             t.ID,
		RequesterID:    t.RequesterID,
		ThreadID:       t.ThreadID,
		Status:         t.Status,
		ClaimedBy:      t.ClaimedBy,
		Category:       t.CategoryKey,
		Priority:       t.Priority,
		StatusLabel:    t.StatusLabel,
		EscalatedLevel: t.EscalatedLevel,
		CreatedAt:      t.CreatedAt,
		LastActivityAt: t.LastActivityAt,
		SLABreached:    t.SLABreachedAt != nil,
	}
}

// NewTicketDetail maps a ticket and its participants.
func NewTicketDetail(t *domain.Ticket, participants []domain.Participant) TicketDetailResponse {
	out := TicketDetailResponse{
		TicketSummary:      NewTicketSummary(t),
		SummaryMessageID:   t.SummaryMessageID,
		EscalatedBy:        t.EscalatedBy,
		ClosedBy:           t.ClosedBy,
		CloseReason:        t.CloseReason,
		ClosedAt:           t.ClosedAt,
		FirstStaffReplyAt:  t.FirstStaffReplyAt,
		LastUserMessageAt:  t.LastUserMessageAt,
		LastStaffMessageAt: t.LastStaffMessageAt,
		SLABreachedAt:      t.SLABreachedAt,
		Rating:             t.Rating,
		RatingComment:      t.RatingComment,
		Participants:       make([]ParticipantResponse, 0, len(participants)),
	}
	for _, p := range participants {
		out.Participants = append(out.Participants, ParticipantResponse{UserID: p.UserID, AddedBy: p.AddedBy, AddedAt: p.AddedAt})
	}
	return out
}
