package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/events"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

func TestCreateTicketFromFirstMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ticket := h.openTicket(t, requesterA)

	stored := h.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	assert.Equal(t, domain.PriorityDefault, stored.Priority)
	assert.Equal(t, "general", stored.CategoryKey)
	assert.Nil(t, stored.StatusLabel)
	assert.Zero(t, stored.EscalatedLevel)
	assert.Equal(t, t0, stored.CreatedAt)
	require.NotNil(t, stored.LastActivityAt)
	require.NotNil(t, stored.LastUserMessageAt)
	assert.NotEmpty(t, stored.ThreadID)
	assert.NotEmpty(t, stored.SummaryMessageID)

	msgs := h.platform.ThreadMessages(stored.ThreadID)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, requesterA)
	assert.Contains(t, msgs[1].Content, "Hallo")

	detail, err := h.lifecycle.Detail(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, detail.Participants, 1)
	assert.Equal(t, requesterA, detail.Participants[0].UserID)

	assert.Equal(t, []events.EventType{events.EventTicketCreated, events.EventTicketMessageRelayed}, h.events.types())
}

func TestControlMessageCarriesTicketNumber(t *testing.T) {
	h := newHarness(t)
	ticket := h.openTicket(t, requesterA)

	pinned, err := h.platform.FetchPinned(context.Background(), ticket.ThreadID)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Contains(t, pinned[0].Content, "Ticket #1")
	id, ok := ExtractRequesterID(pinned[0].Content)
	require.True(t, ok)
	assert.Equal(t, requesterA, id)
}

func TestCreateRejectsSecondActiveTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openTicket(t, requesterA)

	_, err := h.lifecycle.Create(ctx, CreateInput{RequesterID: requesterA})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDuplicateActive))
	assert.Len(t, h.platform.CreatedThreadSpec, 1)
}

func TestCreateAllowsMultipleWhenEnabled(t *testing.T) {
	h := newHarness(t, withMultipleOpen())
	ctx := context.Background()

	_, err := h.lifecycle.Create(ctx, CreateInput{RequesterID: requesterA})
	require.NoError(t, err)
	_, err = h.lifecycle.Create(ctx, CreateInput{RequesterID: requesterA})
	require.NoError(t, err)

	active, err := h.store.ListActive(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestCreateConcurrentKeepsOneActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.relay.Inbound(ctx, InboundMessage{AuthorID: requesterA, Content: "hi"})
		}()
	}
	wg.Wait()

	active, err := h.store.ListActive(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Len(t, h.platform.ThreadMessages(active[0].ThreadID), 9)
}

func TestCreateThreadFailureDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.platform.FailCreateThread = errors.New("missing permissions")

	_, err := h.relay.Inbound(ctx, InboundMessage{AuthorID: requesterA, Content: "Hallo"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeCreationFailed))

	active, err := h.store.ListActive(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Len(t, h.platform.PrivateTo(requesterA), 1)
}

func TestCreateRejectsUnknownCategory(t *testing.T) {
	h := newHarness(t, withCatalog("general", "billing"))

	_, err := h.lifecycle.Create(context.Background(), CreateInput{RequesterID: requesterA, CategoryKey: "nope"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	assert.Empty(t, h.platform.CreatedThreadSpec)
}

func TestClaimToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	claimed, err := h.lifecycle.Claim(ctx, ticket.ID, agentS)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, agentS.ID, *claimed.ClaimedBy)

	released, err := h.lifecycle.Claim(ctx, ticket.ID, agentS)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, released.Status)
	assert.Nil(t, released.ClaimedBy)

	assert.Equal(t, 1, h.events.count(events.EventTicketClaimed))
	assert.Equal(t, 1, h.events.count(events.EventTicketReleased))
}

func TestClaimByOtherStaffRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)
	_, err := h.lifecycle.Claim(ctx, ticket.ID, agentS)
	require.NoError(t, err)
	before := h.reload(t, ticket.ID)

	_, err = h.lifecycle.Claim(ctx, ticket.ID, agentT)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyClaimed))
	assert.Equal(t, before, h.reload(t, ticket.ID))
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	staff := []*domain.Actor{agentS, agentT, lead}
	errs := make([]error, len(staff))
	var wg sync.WaitGroup
	for i, actor := range staff {
		i, actor := i, actor
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.lifecycle.Claim(ctx, ticket.ID, actor)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyClaimed))
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, domain.TicketStatusClaimed, h.reload(t, ticket.ID).Status)
}

func TestClaimRequiresStaff(t *testing.T) {
	h := newHarness(t)
	ticket := h.openTicket(t, requesterA)

	_, err := h.lifecycle.Claim(context.Background(), ticket.ID, &domain.Actor{ID: "user"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	_, err = h.lifecycle.Claim(context.Background(), 999, agentS)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestFieldSettersValidateAndBumpActivity(t *testing.T) {
	h := newHarness(t, withCatalog("general", "billing"))
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	h.clock.Advance(time.Minute)
	updated, err := h.lifecycle.SetPriority(ctx, ticket.ID, agentS, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Priority)
	assert.Equal(t, t0.Add(time.Minute), *updated.LastActivityAt)

	h.clock.Advance(time.Minute)
	updated, err = h.lifecycle.SetStatusLabel(ctx, ticket.ID, agentS, " waiting-on-user ")
	require.NoError(t, err)
	require.NotNil(t, updated.StatusLabel)
	assert.Equal(t, "waiting-on-user", *updated.StatusLabel)
	assert.Equal(t, t0.Add(2*time.Minute), *updated.LastActivityAt)

	updated, err = h.lifecycle.SetStatusLabel(ctx, ticket.ID, agentS, "")
	require.NoError(t, err)
	assert.Nil(t, updated.StatusLabel)

	updated, err = h.lifecycle.SetCategory(ctx, ticket.ID, agentS, "Billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", updated.CategoryKey)

	updated, err = h.lifecycle.Escalate(ctx, ticket.ID, agentS, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.EscalatedLevel)
	require.NotNil(t, updated.EscalatedBy)
	assert.Equal(t, agentS.ID, *updated.EscalatedBy)

	before := h.reload(t, ticket.ID)
	for _, err := range []error{
		func() error { _, err := h.lifecycle.SetPriority(ctx, ticket.ID, agentS, 0); return err }(),
		func() error { _, err := h.lifecycle.SetPriority(ctx, ticket.ID, agentS, 5); return err }(),
		func() error { _, err := h.lifecycle.Escalate(ctx, ticket.ID, agentS, 6); return err }(),
		func() error { _, err := h.lifecycle.Escalate(ctx, ticket.ID, agentS, -1); return err }(),
		func() error { _, err := h.lifecycle.SetCategory(ctx, ticket.ID, agentS, "unknown"); return err }(),
		func() error { _, err := h.lifecycle.SetCategory(ctx, ticket.ID, agentS, " "); return err }(),
	} {
		assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation), "got %v", err)
	}
	assert.Equal(t, before, h.reload(t, ticket.ID))
}

func TestUpdateValidatesAllFieldsFirst(t *testing.T) {
	h := newHarness(t, withCatalog("general", "billing"))
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)
	priority, bogus, label := 4, "bogus", "waiting"

	before := h.reload(t, ticket.ID)
	_, err := h.lifecycle.Update(ctx, ticket.ID, agentS, TicketUpdate{Priority: &priority, Category: &bogus})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation), "got %v", err)
	assert.Equal(t, before, h.reload(t, ticket.ID))
	assert.Zero(t, h.events.count(events.EventTicketPriorityChanged))

	_, err = h.lifecycle.Update(ctx, ticket.ID, agentS, TicketUpdate{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	billing := "Billing"
	updated, err := h.lifecycle.Update(ctx, ticket.ID, agentS, TicketUpdate{Priority: &priority, StatusLabel: &label, Category: &billing})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Priority)
	require.NotNil(t, updated.StatusLabel)
	assert.Equal(t, "waiting", *updated.StatusLabel)
	assert.Equal(t, "billing", updated.CategoryKey)

	_, err = h.lifecycle.Close(ctx, ticket.ID, agentS, "")
	require.NoError(t, err)
	_, err = h.lifecycle.Update(ctx, ticket.ID, agentS, TicketUpdate{Priority: &priority})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeTicketClosed), "got %v", err)
}

func TestEscalateHighLevelNeedsLead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	_, err := h.lifecycle.Escalate(ctx, ticket.ID, agentS, 4)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	updated, err := h.lifecycle.Escalate(ctx, ticket.ID, lead, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.EscalatedLevel)
}

func TestMutationsRejectedOnClosedTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)
	_, err := h.lifecycle.Close(ctx, ticket.ID, agentS, "done")
	require.NoError(t, err)

	checks := map[string]error{}
	_, checks["claim"] = h.lifecycle.Claim(ctx, ticket.ID, agentS)
	_, checks["priority"] = h.lifecycle.SetPriority(ctx, ticket.ID, agentS, 3)
	_, checks["label"] = h.lifecycle.SetStatusLabel(ctx, ticket.ID, agentS, "x")
	_, checks["category"] = h.lifecycle.SetCategory(ctx, ticket.ID, agentS, "general")
	_, checks["escalate"] = h.lifecycle.Escalate(ctx, ticket.ID, agentS, 1)
	_, checks["forward"] = h.lifecycle.Forward(ctx, ticket.ID, agentS, agentT.ID)
	for name, err := range checks {
		assert.True(t, apperrors.IsCode(err, apperrors.CodeTicketClosed), "%s: %v", name, err)
	}
}

func TestForward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)
	_, err := h.lifecycle.Claim(ctx, ticket.ID, agentS)
	require.NoError(t, err)

	forwarded, err := h.lifecycle.Forward(ctx, ticket.ID, agentS, agentT.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClaimed, forwarded.Status)
	assert.Equal(t, agentT.ID, *forwarded.ClaimedBy)
	assert.Contains(t, h.platform.Granted[ticket.ThreadID], agentT.ID)

	msgs := h.platform.ThreadMessages(ticket.ThreadID)
	assert.Contains(t, msgs[len(msgs)-1].Content, "<@"+agentT.ID+">")

	_, err = h.lifecycle.Forward(ctx, ticket.ID, agentS, agentT.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	assert.Equal(t, 1, h.events.count(events.EventTicketForwarded))
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)
	_, err := h.lifecycle.Claim(ctx, ticket.ID, agentS)
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	closed, err := h.lifecycle.Close(ctx, ticket.ID, agentS, "resolved")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *closed.ClosedAt)
	assert.Nil(t, closed.ClaimedBy)
	assert.True(t, h.platform.Archived[ticket.ThreadID])

	private := len(h.platform.PrivateTo(requesterA))
	threadLen := len(h.platform.ThreadMessages(ticket.ThreadID))
	assert.Equal(t, 2, private, "transcript and rating prompt")

	_, err = h.lifecycle.Close(ctx, ticket.ID, agentS, "again")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyClosed))
	assert.Len(t, h.platform.PrivateTo(requesterA), private)
	assert.Len(t, h.platform.ThreadMessages(ticket.ThreadID), threadLen)
	assert.Equal(t, 1, h.events.count(events.EventTicketClosed))
}

func TestCloseAutomaticallyRechecksIdleWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	h.clock.Advance(10 * time.Hour)
	require.NoError(t, h.store.TouchActivity(ctx, ticket.ID, h.clock.Now()))
	h.clock.Advance(time.Hour)

	current, closed, err := h.lifecycle.CloseAutomatically(ctx, ticket.ID, 2*time.Hour)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, domain.TicketStatusOpen, current.Status)
	assert.Zero(t, h.events.count(events.EventTicketAutoClosed))

	h.clock.Advance(time.Hour)
	current, closed, err = h.lifecycle.CloseAutomatically(ctx, ticket.ID, 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, domain.TicketStatusClosed, current.Status)
	assert.Equal(t, AutoCloseReason, *current.CloseReason)
	assert.Equal(t, 1, h.events.count(events.EventTicketAutoClosed))

	_, _, err = h.lifecycle.CloseAutomatically(ctx, ticket.ID, 2*time.Hour)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyClosed))
}

func TestCloseDeliversTranscript(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	_, err := h.lifecycle.Close(ctx, ticket.ID, agentS, "")
	require.NoError(t, err)

	msgs := h.platform.PrivateTo(requesterA)
	require.NotEmpty(t, msgs)
	require.Len(t, msgs[0].Files, 1)
	assert.Contains(t, string(msgs[0].Files[0].Data), "Hallo")
}

func TestRequesterMayCloseOwnTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	_, err := h.lifecycle.Close(ctx, ticket.ID, &domain.Actor{ID: "someone-else"}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	closed, err := h.lifecycle.Close(ctx, ticket.ID, &domain.Actor{ID: requesterA}, "")
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedBy)
	assert.Equal(t, requesterA, *closed.ClosedBy)
}

func TestReopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	_, err := h.lifecycle.Reopen(ctx, ticket.ID, lead)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotClosed))

	_, err = h.lifecycle.Close(ctx, ticket.ID, agentS, "")
	require.NoError(t, err)

	_, err = h.lifecycle.Reopen(ctx, ticket.ID, agentS)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))

	h.clock.Advance(time.Hour)
	reopened, err := h.lifecycle.Reopen(ctx, ticket.ID, lead)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
	assert.Equal(t, t0.Add(time.Hour), *reopened.LastActivityAt)
	assert.False(t, h.platform.Archived[ticket.ThreadID])
}

func TestReopenRespectsOneActiveTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.openTicket(t, requesterA)
	_, err := h.lifecycle.Close(ctx, first.ID, agentS, "")
	require.NoError(t, err)
	second := h.openTicket(t, requesterA)
	require.NotEqual(t, first.ID, second.ID)

	_, err = h.lifecycle.Reopen(ctx, first.ID, lead)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDuplicateActive))
	assert.Equal(t, domain.TicketStatusClosed, h.reload(t, first.ID).Status)
}

func TestStatusClosedIffClosedAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	check := func() {
		got := h.reload(t, ticket.ID)
		assert.Equal(t, got.Status == domain.TicketStatusClosed, got.ClosedAt != nil)
		assert.Equal(t, got.Status == domain.TicketStatusClaimed, got.ClaimedBy != nil)
	}
	check()
	_, err := h.lifecycle.Claim(ctx, ticket.ID, agentS)
	require.NoError(t, err)
	check()
	_, err = h.lifecycle.Close(ctx, ticket.ID, agentS, "")
	require.NoError(t, err)
	check()
	_, err = h.lifecycle.Reopen(ctx, ticket.ID, lead)
	require.NoError(t, err)
	check()
}

func TestTranscriptForStaff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ticket := h.openTicket(t, requesterA)

	artifact, err := h.lifecycle.Transcript(ctx, ticket.ID, agentS)
	require.NoError(t, err)
	assert.Equal(t, 2, artifact.Entries)

	_, err = h.lifecycle.Transcript(ctx, ticket.ID, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeForbidden))
}
