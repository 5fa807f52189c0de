package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTicket(guild, requester, thread string) *domain.Ticket {
	return &domain.Ticket{
		GuildID:     guild,
		RequesterID: requester,
		ThreadID:    thread,
		CategoryKey: domain.DefaultCategoryKey,
		Priority:    domain.PriorityDefault,
		Status:      domain.TicketStatusOpen,
		CreatedAt:   t0,
	}
}

func strPtr(s string) *string { return &s }

func TestMemoryStoreCreateEnforcesOneActive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := newTicket("g", "u1", "th1")
	require.NoError(t, store.CreateTicket(ctx, first, false))
	assert.Equal(t, int64(1), first.ID)

	err := store.CreateTicket(ctx, newTicket("g", "u1", "th2"), false)
	assert.ErrorIs(t, err, ErrDuplicateActive)

	t.Run("other guild is independent", func(t *testing.T) {
		require.NoError(t, store.CreateTicket(ctx, newTicket("g2", "u1", "th3"), false))
	})

	t.Run("multi-open allowed when enabled", func(t *testing.T) {
		require.NoError(t, store.CreateTicket(ctx, newTicket("g", "u1", "th4"), true))
	})

	t.Run("closing frees the slot", func(t *testing.T) {
		other := newTicket("g", "u9", "th5")
		require.NoError(t, store.CreateTicket(ctx, other, false))
		ok, err := store.Close(ctx, other.ID, nil, "", t0)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.CreateTicket(ctx, newTicket("g", "u9", "th6"), false))
	})
}

func TestMemoryStoreConcurrentCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.CreateTicket(ctx, newTicket("g", "u1", "th"), false); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryStoreClaimCompareAndSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ticket := newTicket("g", "u1", "th1")
	require.NoError(t, store.CreateTicket(ctx, ticket, false))

	ok, err := store.SetClaim(ctx, ticket.ID, nil, strPtr("s1"), t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetClaim(ctx, ticket.ID, nil, strPtr("s2"), t0)
	require.NoError(t, err)
	assert.False(t, ok, "stale expectation must not overwrite")

	got, err := store.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClaimed, got.Status)
	assert.Equal(t, "s1", *got.ClaimedBy)

	ok, err = store.SetClaim(ctx, ticket.ID, strPtr("s1"), nil, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = store.GetTicket(ctx, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)
	assert.Nil(t, got.ClaimedBy)
}

func TestMemoryStoreCloseReopen(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ticket := newTicket("g", "u1", "th1")
	require.NoError(t, store.CreateTicket(ctx, ticket, false))

	ok, err := store.Close(ctx, ticket.ID, strPtr("s1"), "done", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Close(ctx, ticket.ID, strPtr("s1"), "again", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := store.GetTicket(ctx, ticket.ID)
	assert.Equal(t, domain.TicketStatusClosed, got.Status)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *got.ClosedAt)
	assert.Equal(t, "done", *got.CloseReason)

	assert.ErrorIs(t, store.SetPriority(ctx, ticket.ID, 3, t0), ErrNotUpdated)

	ok, err = store.Reopen(ctx, ticket.ID, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = store.GetTicket(ctx, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)
	assert.Nil(t, got.ClosedAt)

	ok, _ = store.Reopen(ctx, ticket.ID, t0)
	assert.False(t, ok)
}

func TestMemoryStoreCloseIdleHonorsCutoff(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ticket := newTicket("g", "u1", "th1")
	require.NoError(t, store.CreateTicket(ctx, ticket, false))
	require.NoError(t, store.TouchActivity(ctx, ticket.ID, t0.Add(2*time.Hour)))

	ok, err := store.CloseIdle(ctx, ticket.ID, t0.Add(time.Hour), "idle", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ := store.GetTicket(ctx, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, got.Status)

	ok, err = store.CloseIdle(ctx, ticket.ID, t0.Add(2*time.Hour), "idle", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = store.GetTicket(ctx, ticket.ID)
	assert.Equal(t, domain.TicketStatusClosed, got.Status)
	assert.Nil(t, got.ClosedBy)
	assert.Equal(t, "idle", *got.CloseReason)

	ok, _ = store.CloseIdle(ctx, ticket.ID, t0.Add(10*time.Hour), "idle", t0.Add(11*time.Hour))
	assert.False(t, ok)
}

func TestMemoryStoreWriteOnceFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ticket := newTicket("g", "u1", "th1")
	require.NoError(t, store.CreateTicket(ctx, ticket, false))

	require.NoError(t, store.TouchStaffMessage(ctx, ticket.ID, t0.Add(time.Minute)))
	require.NoError(t, store.TouchStaffMessage(ctx, ticket.ID, t0.Add(2*time.Minute)))
	got, _ := store.GetTicket(ctx, ticket.ID)
	assert.Equal(t, t0.Add(time.Minute), *got.FirstStaffReplyAt)
	assert.Equal(t, t0.Add(2*time.Minute), *got.LastStaffMessageAt)

	ok, err := store.MarkSLABreached(ctx, ticket.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.MarkSLABreached(ctx, ticket.ID, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ = store.GetTicket(ctx, ticket.ID)
	assert.Equal(t, t0.Add(time.Hour), *got.SLABreachedAt)
}

func TestMemoryStoreParticipants(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ticket := newTicket("g", "owner", "th1")
	require.NoError(t, store.CreateTicket(ctx, ticket, false))

	added, err := store.AddParticipant(ctx, &domain.Participant{TicketID: ticket.ID, UserID: "guest", AddedBy: "s1", AddedAt: t0})
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.AddParticipant(ctx, &domain.Participant{TicketID: ticket.ID, UserID: "guest", AddedBy: "s2", AddedAt: t0})
	require.NoError(t, err)
	assert.False(t, added)

	list, err := store.ListParticipants(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].AddedBy)

	got, err := store.GetActiveTicketByParticipant(ctx, "g", "guest")
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, got.ID)

	_, err = store.GetActiveTicketByParticipant(ctx, "g", "stranger")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	_, err = store.AddParticipant(ctx, &domain.Participant{TicketID: 999, UserID: "x"})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemoryStoreListActiveAndCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := newTicket("g", "u1", "th1")
	b := newTicket("g", "u2", "th2")
	b.CreatedAt = t0.Add(-time.Hour)
	require.NoError(t, store.CreateTicket(ctx, a, false))
	require.NoError(t, store.CreateTicket(ctx, b, false))

	list, err := store.ListActive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)

	list[0].Priority = 4
	fresh, _ := store.GetTicket(ctx, b.ID)
	assert.Equal(t, domain.PriorityDefault, fresh.Priority, "callers must not alias stored records")

	limited, _ := store.ListActive(ctx, 1)
	assert.Len(t, limited, 1)
}

func TestMemoryStoreRequesterRecovery(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	legacy := newTicket("g", "", "th1")
	require.NoError(t, store.CreateTicket(ctx, legacy, true))

	require.NoError(t, store.SetRequester(ctx, legacy.ID, "123456789012345678"))
	assert.ErrorIs(t, store.SetRequester(ctx, legacy.ID, "999"), ErrNotUpdated)

	got, _ := store.GetTicket(ctx, legacy.ID)
	assert.Equal(t, "123456789012345678", got.RequesterID)
}

func TestMemoryAuditRepository(t *testing.T) {
	repo := NewMemoryAuditRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &domain.AuditEntry{TicketID: 1, EventType: "ticket_created"}))
	require.NoError(t, repo.Create(ctx, &domain.AuditEntry{TicketID: 2, EventType: "ticket_created"}))
	require.NoError(t, repo.Create(ctx, &domain.AuditEntry{TicketID: 1, EventType: "ticket_closed"}))

	entries, err := repo.ListByTicket(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ticket_closed", entries[1].EventType)
}
