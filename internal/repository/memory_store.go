package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

// MemoryStore is a process-local TicketStore used when no database is configured
// and by tests. It honours the same conditional-update contract as the Postgres store.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       int64
	tickets      map[int64]*domain.Ticket
	participants map[int64][]domain.Participant
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:      make(map[int64]*domain.Ticket),
		participants: make(map[int64][]domain.Participant),
	}
}

var _ TicketStore = (*MemoryStore)(nil)

func (m *MemoryStore) CreateTicket(_ context.Context, t *domain.Ticket, allowMultiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowMultiple {
		for _, existing := range m.tickets {
			if existing.GuildID == t.GuildID && existing.RequesterID == t.RequesterID && existing.Status.IsActive() {
				return ErrDuplicateActive
			}
		}
	}
	m.nextID++
	t.ID = m.nextID
	if t.RecordVersion == 0 {
		t.RecordVersion = domain.RecordVersion
	}
	m.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (m *MemoryStore) GetTicket(_ context.Context, id int64) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return cloneTicket(t), nil
}

func (m *MemoryStore) GetTicketByThread(_ context.Context, guildID, threadID string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.GuildID == guildID && t.ThreadID == threadID {
			return cloneTicket(t), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MemoryStore) GetActiveTicketByRequester(_ context.Context, guildID, requesterID string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestActive(func(t *domain.Ticket) bool {
		return t.GuildID == guildID && t.RequesterID == requesterID
	})
}

func (m *MemoryStore) GetActiveTicketByParticipant(_ context.Context, guildID, userID string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestActive(func(t *domain.Ticket) bool {
		if t.GuildID != guildID {
			return false
		}
		for _, p := range m.participants[t.ID] {
			if p.UserID == userID {
				return true
			}
		}
		return false
	})
}

func (m *MemoryStore) newestActive(match func(*domain.Ticket) bool) (*domain.Ticket, error) {
	var found *domain.Ticket
	for _, t := range m.tickets {
		if !t.Status.IsActive() || !match(t) {
			continue
		}
		if found == nil || t.CreatedAt.After(found.CreatedAt) || (t.CreatedAt.Equal(found.CreatedAt) && t.ID > found.ID) {
			found = t
		}
	}
	if found == nil {
		return nil, pgx.ErrNoRows
	}
	return cloneTicket(found), nil
}

func (m *MemoryStore) SetClaim(_ context.Context, id int64, expected, next *string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || !t.Status.IsActive() || !sameString(t.ClaimedBy, expected) {
		return false, nil
	}
	t.ClaimedBy = copyString(next)
	if next == nil {
		t.Status = domain.TicketStatusOpen
	} else {
		t.Status = domain.TicketStatusClaimed
	}
	t.LastActivityAt = copyTime(&at)
	return true, nil
}

func (m *MemoryStore) Close(_ context.Context, id int64, closedBy *string, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status == domain.TicketStatusClosed {
		return false, nil
	}
	closeTicket(t, closedBy, reason, at)
	return true, nil
}

func (m *MemoryStore) CloseIdle(_ context.Context, id int64, cutoff time.Time, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status == domain.TicketStatusClosed || t.InactiveSince().After(cutoff) {
		return false, nil
	}
	closeTicket(t, nil, reason, at)
	return true, nil
}

func closeTicket(t *domain.Ticket, closedBy *string, reason string, at time.Time) {
	t.Status = domain.TicketStatusClosed
	t.ClaimedBy = nil
	t.ClosedAt = copyTime(&at)
	t.ClosedBy = copyString(closedBy)
	t.CloseReason = nullString(reason)
	t.LastActivityAt = copyTime(&at)
}

func (m *MemoryStore) Reopen(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status != domain.TicketStatusClosed {
		return false, nil
	}
	t.Status = domain.TicketStatusOpen
	t.ClosedAt = nil
	t.ClosedBy = nil
	t.CloseReason = nil
	t.LastActivityAt = copyTime(&at)
	return true, nil
}

func (m *MemoryStore) SetStatusLabel(_ context.Context, id int64, label *string, at time.Time) error {
	return m.updateActive(id, at, func(t *domain.Ticket) { t.StatusLabel = copyString(label) })
}

func (m *MemoryStore) SetPriority(_ context.Context, id int64, priority int, at time.Time) error {
	return m.updateActive(id, at, func(t *domain.Ticket) { t.Priority = priority })
}

func (m *MemoryStore) SetCategory(_ context.Context, id int64, key string, at time.Time) error {
	return m.updateActive(id, at, func(t *domain.Ticket) { t.CategoryKey = key })
}

func (m *MemoryStore) SetEscalation(_ context.Context, id int64, level int, actorID string, at time.Time) error {
	return m.updateActive(id, at, func(t *domain.Ticket) {
		t.EscalatedLevel = level
		t.EscalatedBy = copyString(&actorID)
	})
}

func (m *MemoryStore) updateActive(id int64, at time.Time, apply func(*domain.Ticket)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Status == domain.TicketStatusClosed {
		return ErrNotUpdated
	}
	apply(t)
	t.LastActivityAt = copyTime(&at)
	return nil
}

func (m *MemoryStore) SetRequester(_ context.Context, id int64, requesterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.RequesterID != "" {
		return ErrNotUpdated
	}
	t.RequesterID = requesterID
	return nil
}

func (m *MemoryStore) TouchActivity(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(t *domain.Ticket) { t.LastActivityAt = copyTime(&at) })
}

func (m *MemoryStore) TouchUserMessage(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(t *domain.Ticket) {
		t.LastUserMessageAt = copyTime(&at)
		t.LastActivityAt = copyTime(&at)
	})
}

func (m *MemoryStore) TouchStaffMessage(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(t *domain.Ticket) {
		t.LastStaffMessageAt = copyTime(&at)
		t.LastActivityAt = copyTime(&at)
		if t.FirstStaffReplyAt == nil {
			t.FirstStaffReplyAt = copyTime(&at)
		}
	})
}

func (m *MemoryStore) MarkSLABreached(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.SLABreachedAt != nil {
		return false, nil
	}
	t.SLABreachedAt = copyTime(&at)
	return true, nil
}

func (m *MemoryStore) SetRating(_ context.Context, id int64, rating int, comment *string) error {
	return m.update(id, func(t *domain.Ticket) {
		r := rating
		t.Rating = &r
		t.RatingComment = copyString(comment)
	})
}

func (m *MemoryStore) update(id int64, apply func(*domain.Ticket)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	apply(t)
	return nil
}

func (m *MemoryStore) ListActive(_ context.Context, limit int) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Ticket
	for _, t := range m.tickets {
		if t.Status.IsActive() {
			result = append(result, *cloneTicket(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) AddParticipant(_ context.Context, p *domain.Participant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[p.TicketID]; !ok {
		return false, pgx.ErrNoRows
	}
	for _, existing := range m.participants[p.TicketID] {
		if existing.UserID == p.UserID {
			return false, nil
		}
	}
	m.participants[p.TicketID] = append(m.participants[p.TicketID], *p)
	return true, nil
}

func (m *MemoryStore) ListParticipants(_ context.Context, ticketID int64) ([]domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Participant(nil), m.participants[ticketID]...), nil
}

// MemoryAuditRepository keeps audit entries in memory.
type MemoryAuditRepository struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewMemoryAuditRepository returns an empty audit log.
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

var _ AuditRepository = (*MemoryAuditRepository)(nil)

func (m *MemoryAuditRepository) Create(_ context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry.ID = m.nextID
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MemoryAuditRepository) ListByTicket(_ context.Context, ticketID int64) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.AuditEntry
	for _, e := range m.entries {
		if e.TicketID == ticketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	c := *t
	c.StatusLabel = copyString(t.StatusLabel)
	c.EscalatedBy = copyString(t.EscalatedBy)
	c.ClaimedBy = copyString(t.ClaimedBy)
	c.ClosedBy = copyString(t.ClosedBy)
	c.CloseReason = copyString(t.CloseReason)
	c.RatingComment = copyString(t.RatingComment)
	c.ClosedAt = copyTime(t.ClosedAt)
	c.LastActivityAt = copyTime(t.LastActivityAt)
	c.LastUserMessageAt = copyTime(t.LastUserMessageAt)
	c.LastStaffMessageAt = copyTime(t.LastStaffMessageAt)
	c.FirstStaffReplyAt = copyTime(t.FirstStaffReplyAt)
	c.SLABreachedAt = copyTime(t.SLABreachedAt)
	if t.Rating != nil {
		r := *t.Rating
		c.Rating = &r
	}
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
