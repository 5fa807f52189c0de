package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated            EventType = "ticket_created"
	EventTicketClaimed            EventType = "ticket_claimed"
	EventTicketReleased           EventType = "ticket_released"
	EventTicketClosed             EventType = "ticket_closed"
	EventTicketAutoClosed         EventType = "ticket_auto_closed"
	EventTicketReopened           EventType = "ticket_reopened"
	EventTicketEscalated          EventType = "ticket_escalated"
	EventTicketForwarded          EventType = "ticket_forwarded"
	EventTicketPriorityChanged    EventType = "ticket_priority_changed"
	EventTicketCategoryChanged    EventType = "ticket_category_changed"
	EventTicketStatusLabelChanged EventType = "ticket_status_label_changed"
	EventTicketParticipantAdded   EventType = "ticket_participant_added"
	EventTicketSLABreached        EventType = "ticket_sla_breached"
	EventTicketRating             EventType = "ticket_rating"
	EventTicketMessageRelayed     EventType = "ticket_message_relayed"
)

// Event represents a domain event emitted by services. Payload is a flat map of
// JSON-compatible values.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TicketID  int64          `json:"ticket_id"`
	GuildID   string         `json:"guild_id"`
	ActorID   *string        `json:"actor_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}
