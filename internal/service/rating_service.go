package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/events"
	"github.com/spec-kit/ticket-relay/internal/messaging"
	"github.com/spec-kit/ticket-relay/internal/repository"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// ratingCommentMaxLen bounds stored rating comments.
const ratingCommentMaxLen = 1000

// RatingService records requester feedback on closed tickets.
type RatingService struct {
	store      repository.TicketStore
	platform   messaging.Platform
	dispatcher events.Dispatcher
	enabled    bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewRatingService constructs the service.
func NewRatingService(store repository.TicketStore, platform messaging.Platform, dispatcher events.Dispatcher, enabled bool, logger *zap.Logger, now func() time.Time) *RatingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &RatingService{
		store:      store,
		platform:   platform,
		dispatcher: dispatcher,
		enabled:    enabled,
		logger:     logger.Named("rating"),
		now:        now,
	}
}

// Submit stores rating for ticketID on behalf of submitterID. It reports false
// without an error when the submitter is not the ticket's requester. A new
// submission replaces the previous one.
func (s *RatingService) Submit(ctx context.Context, ticketID int64, submitterID string, rating int, comment string) (bool, error) {
	if !s.enabled {
		return false, apperrors.NewValidationError("ratings are disabled", nil)
	}
	if rating < domain.RatingMin || rating > domain.RatingMax {
		return false, apperrors.NewValidationError("rating out of range", map[string]any{
			"min": domain.RatingMin, "max": domain.RatingMax, "value": rating,
		})
	}
	comment = strings.TrimSpace(comment)
	if len([]rune(comment)) > ratingCommentMaxLen {
		return false, apperrors.NewValidationError("rating comment too long", map[string]any{"max": ratingCommentMaxLen})
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	if ticket.RequesterID == "" || ticket.RequesterID != submitterID {
		s.logger.Info("rating ignored; submitter is not the requester",
			zap.Int64("ticket_id", ticketID),
			zap.String("submitter_id", submitterID))
		return false, nil
	}
	if ticket.Status != domain.TicketStatusClosed {
		return false, notClosed(ticketID)
	}

	var commentPtr *string
	if comment != "" {
		commentPtr = &comment
	}
	if err := s.store.SetRating(ctx, ticketID, rating, commentPtr); err != nil {
		return false, apperrors.MapError(err)
	}

	copyText := fmt.Sprintf("Rating from %s: %s (%d/5)", mention(submitterID), stars(rating), rating)
	if comment != "" {
		copyText += "\n> " + comment
	}
	if _, err := s.platform.SendToThread(ctx, ticket.ThreadID, messaging.OutgoingMessage{Content: copyText}); err != nil {
		s.logger.Warn("rating copy not posted", zap.Int64("ticket_id", ticketID), zap.Error(err))
	}
	publishEvent(ctx, s.dispatcher, s.now, events.EventTicketRating, ticket, &domain.Actor{ID: submitterID}, map[string]any{
		"rating":  rating,
		"comment": comment,
	})
	return true, nil
}

func stars(n int) string {
	return strings.Repeat("★", n) + strings.Repeat("☆", domain.RatingMax-n)
}
