package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/messaging"
	"github.com/spec-kit/ticket-relay/internal/repository"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// recoveryScanLimit bounds how many opening messages are scanned for a requester marker.
const recoveryScanLimit = 5

// IdentityResolver maps threads and private senders to tickets.
type IdentityResolver struct {
	store    repository.TicketStore
	platform messaging.Platform
	guildID  string
	logger   *zap.Logger
}

// NewIdentityResolver builds a resolver scoped to one guild.
func NewIdentityResolver(store repository.TicketStore, platform messaging.Platform, guildID string, logger *zap.Logger) *IdentityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityResolver{store: store, platform: platform, guildID: guildID, logger: logger.Named("resolver")}
}

// ResolveThread returns the ticket owning threadID, or nil when the thread is not a
// ticket. A ticket whose requester cannot be recovered is returned with an empty
// RequesterID and must be treated as unroutable.
func (r *IdentityResolver) ResolveThread(ctx context.Context, threadID string) (*domain.Ticket, error) {
	ticket, err := r.store.GetTicketByThread(ctx, r.guildID, threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if ticket.RequesterID != "" {
		return ticket, nil
	}

	requester, ok := r.RecoverRequester(ctx, ticket)
	if !ok {
		r.logger.Warn("ticket requester unrecoverable; ticket unroutable",
			zap.Int64("ticket_id", ticket.ID),
			zap.String("thread_id", threadID))
		return ticket, nil
	}
	if err := r.store.SetRequester(ctx, ticket.ID, requester); err != nil && !repository.IsNotUpdated(err) {
		r.logger.Warn("failed to persist recovered requester", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
	ticket.RequesterID = requester
	r.logger.Info("recovered ticket requester", zap.Int64("ticket_id", ticket.ID), zap.String("requester_id", requester))
	return ticket, nil
}

// ResolveRequester returns the active ticket userID talks through: their own, or one
// they were added to. It returns nil when there is none.
func (r *IdentityResolver) ResolveRequester(ctx context.Context, userID string) (*domain.Ticket, error) {
	ticket, err := r.store.GetActiveTicketByRequester(ctx, r.guildID, userID)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	ticket, err = r.store.GetActiveTicketByParticipant(ctx, r.guildID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

// RecoverRequester scans the thread for the requester: the marker line in pinned
// messages, then in the starter message, then the first few messages. Only in that
// last step is a bare user ID accepted, and only from messages not written by a bot,
// since bot messages also mention claimants and added users.
func (r *IdentityResolver) RecoverRequester(ctx context.Context, ticket *domain.Ticket) (string, bool) {
	if ticket.ThreadID == "" {
		return "", false
	}
	log := r.logger.With(zap.Int64("ticket_id", ticket.ID))

	if pinned, err := r.platform.FetchPinned(ctx, ticket.ThreadID); err != nil {
		log.Debug("pinned messages unavailable", zap.Error(err))
	} else if id, ok := scanMarkers(pinned); ok {
		return id, true
	}

	if starter, err := r.platform.FetchStarterMessage(ctx, ticket.ThreadID); err != nil {
		log.Debug("starter message unavailable", zap.Error(err))
	} else if starter != nil {
		if id, ok := ExtractRequesterID(starter.Content); ok {
			return id, true
		}
	}

	first, err := r.platform.FetchFirstMessages(ctx, ticket.ThreadID, recoveryScanLimit)
	if err != nil {
		log.Debug("opening messages unavailable", zap.Error(err))
		return "", false
	}
	if id, ok := scanMarkers(first); ok {
		return id, true
	}
	for _, m := range first {
		if m.AuthorIsBot {
			continue
		}
		if id, ok := ExtractUserID(m.Content); ok {
			return id, true
		}
	}
	return "", false
}

func scanMarkers(msgs []domain.Message) (string, bool) {
	for _, m := range msgs {
		if id, ok := ExtractRequesterID(m.Content); ok {
			return id, true
		}
	}
	return "", false
}
