package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/config"
	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/messaging/messagingtest"
	"github.com/spec-kit/ticket-relay/internal/repository"
	"github.com/spec-kit/ticket-relay/internal/transcript"
)

const testGuild = "guild-1"

var (
	agentS     = &domain.Actor{ID: "staff-s", Name: "Sam", Role: domain.StaffRoleAgent}
	agentT     = &domain.Actor{ID: "staff-t", Name: "Tess", Role: domain.StaffRoleAgent}
	lead       = &domain.Actor{ID: "staff-l", Name: "Lee", Role: domain.StaffRoleTeamLead}
	t0         = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	requesterA = "111111111111111111"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handle(_ context.Context, e events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []events.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) count(t events.EventType) int {
	n := 0
	for _, et := range l.types() {
		if et == t {
			n++
		}
	}
	return n
}

type harness struct {
	store     *repository.MemoryStore
	platform  *messagingtest.Platform
	clock     *testClock
	events    *eventLog
	resolver  *IdentityResolver
	lifecycle *LifecycleService
	relay     *RelayService
	rating    *RatingService
}

type harnessOption func(*config.TicketConfig, **config.CategoryCatalog)

func withMultipleOpen() harnessOption {
	return func(c *config.TicketConfig, _ **config.CategoryCatalog) { c.AllowMultipleOpen = true }
}

func withCatalog(keys ...string) harnessOption {
	return func(_ *config.TicketConfig, cat **config.CategoryCatalog) {
		catalog := &config.CategoryCatalog{}
		for _, k := range keys {
			catalog.Categories = append(catalog.Categories, config.Category{Key: k})
		}
		*cat = catalog
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := config.TicketConfig{
		RatingEnabled:   true,
		NotePrefix:      "!note",
		CommandPrefix:   "!",
		DefaultCategory: "general",
	}
	catalog := &config.CategoryCatalog{}
	for _, opt := range opts {
		opt(&cfg, &catalog)
	}

	clock := &testClock{now: t0}
	store := repository.NewMemoryStore()
	platform := messagingtest.New()
	platform.Now = clock.Now
	log := &eventLog{}
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	dispatcher.SubscribeAll(log.handle)

	resolver := NewIdentityResolver(store, platform, testGuild, zap.NewNop())
	lifecycle := NewLifecycleService(LifecycleDependencies{
		Store:      store,
		Platform:   platform,
		Dispatcher: dispatcher,
		Renderer:   transcript.NewRenderer(platform, clock.Now),
		Deliverer:  transcript.NewDeliverer(nil, platform, 8<<20, zap.NewNop()),
		Categories: catalog,
		Config:     cfg,
		GuildID:    testGuild,
		Logger:     zap.NewNop(),
		Now:        clock.Now,
	})
	relay := NewRelayService(RelayDependencies{
		Store:      store,
		Platform:   platform,
		Resolver:   resolver,
		Lifecycle:  lifecycle,
		Dispatcher: dispatcher,
		NotePrefix: cfg.NotePrefix,
		Logger:     zap.NewNop(),
		Now:        clock.Now,
	})
	rating := NewRatingService(store, platform, dispatcher, cfg.RatingEnabled, zap.NewNop(), clock.Now)

	return &harness{
		store:     store,
		platform:  platform,
		clock:     clock,
		events:    log,
		resolver:  resolver,
		lifecycle: lifecycle,
		relay:     relay,
		rating:    rating,
	}
}

func (h *harness) openTicket(t *testing.T, requesterID string) *domain.Ticket {
	t.Helper()
	ticket, err := h.relay.Inbound(context.Background(), InboundMessage{
		AuthorID:   requesterID,
		AuthorName: "Requester",
		Content:    "Hallo",
	})
	require.NoError(t, err)
	return ticket
}

func (h *harness) reload(t *testing.T, id int64) *domain.Ticket {
	t.Helper()
	ticket, err := h.store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return ticket
}
