package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

const ticketColumns = `id, guild_id, requester_id, thread_id, summary_message_id, category_key, priority,
               status_label, escalated_level, escalated_by, status, claimed_by, closed_by, close_reason,
               created_at, closed_at, last_activity_at, last_user_message_at, last_staff_message_at,
               first_staff_reply_at, sla_breached_at, rating, rating_comment, record_version`

type ticketStore struct {
	pool *pgxpool.Pool
}

// NewTicketStore returns a Postgres-backed TicketStore.
func NewTicketStore(pool *pgxpool.Pool) TicketStore {
	return &ticketStore{pool: pool}
}

func (r *ticketStore) CreateTicket(ctx context.Context, t *domain.Ticket, allowMultiple bool) error {
	const insert = `
        INSERT INTO tickets (guild_id, requester_id, thread_id, summary_message_id, category_key, priority,
            status, escalated_level, created_at, last_activity_at, last_user_message_at, record_version)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING id`
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if !allowMultiple {
			// Serializes creators for the same requester until commit.
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, t.GuildID, t.RequesterID); err != nil {
				return err
			}
			var exists bool
			if err := tx.QueryRow(ctx, `
                SELECT EXISTS (SELECT 1 FROM tickets
                    WHERE guild_id=$1 AND requester_id=$2 AND status IN ('open','claimed'))`,
				t.GuildID, t.RequesterID).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return ErrDuplicateActive
			}
		}
		return tx.QueryRow(ctx, insert,
			t.GuildID,
			nullString(t.RequesterID),
			t.ThreadID,
			nullString(t.SummaryMessageID),
			t.CategoryKey,
			t.Priority,
			t.Status,
			t.EscalatedLevel,
			t.CreatedAt,
			t.LastActivityAt,
			t.LastUserMessageAt,
			domain.RecordVersion,
		).Scan(&t.ID)
	})
}

func (r *ticketStore) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *ticketStore) GetTicketByThread(ctx context.Context, guildID, threadID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE guild_id=$1 AND thread_id=$2`, guildID, threadID)
}

func (r *ticketStore) GetActiveTicketByRequester(ctx context.Context, guildID, requesterID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets
        WHERE guild_id=$1 AND requester_id=$2 AND status IN ('open','claimed')
        ORDER BY created_at DESC LIMIT 1`, guildID, requesterID)
}

func (r *ticketStore) GetActiveTicketByParticipant(ctx context.Context, guildID, userID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = (
            SELECT t.id FROM tickets t
            JOIN ticket_participants p ON p.ticket_id = t.id
            WHERE t.guild_id=$1 AND p.user_id=$2 AND t.status IN ('open','claimed')
            ORDER BY t.created_at DESC LIMIT 1)`, guildID, userID)
}

func (r *ticketStore) SetClaim(ctx context.Context, id int64, expected, next *string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET claimed_by=$1,
            status=CASE WHEN $1::text IS NULL THEN 'open' ELSE 'claimed' END,
            last_activity_at=$2
        WHERE id=$3 AND status IN ('open','claimed') AND claimed_by IS NOT DISTINCT FROM $4`
	return r.execConditional(ctx, query, next, at, id, expected)
}

func (r *ticketStore) Close(ctx context.Context, id int64, closedBy *string, reason string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET status='closed', claimed_by=NULL, closed_at=$1, closed_by=$2,
            close_reason=$3, last_activity_at=$1
        WHERE id=$4 AND status <> 'closed'`
	return r.execConditional(ctx, query, at, closedBy, nullString(reason), id)
}

func (r *ticketStore) CloseIdle(ctx context.Context, id int64, cutoff time.Time, reason string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET status='closed', claimed_by=NULL, closed_at=$1, closed_by=NULL,
            close_reason=$2, last_activity_at=$1
        WHERE id=$3 AND status <> 'closed' AND COALESCE(last_activity_at, created_at) <= $4`
	return r.execConditional(ctx, query, at, nullString(reason), id, cutoff)
}

func (r *ticketStore) Reopen(ctx context.Context, id int64, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET status='open', closed_at=NULL, closed_by=NULL, close_reason=NULL,
            last_activity_at=$1
        WHERE id=$2 AND status='closed'`
	return r.execConditional(ctx, query, at, id)
}

func (r *ticketStore) SetStatusLabel(ctx context.Context, id int64, label *string, at time.Time) error {
	return r.execActive(ctx, `UPDATE tickets SET status_label=$1, last_activity_at=$2 WHERE id=$3 AND status <> 'closed'`, label, at, id)
}

func (r *ticketStore) SetPriority(ctx context.Context, id int64, priority int, at time.Time) error {
	return r.execActive(ctx, `UPDATE tickets SET priority=$1, last_activity_at=$2 WHERE id=$3 AND status <> 'closed'`, priority, at, id)
}

func (r *ticketStore) SetCategory(ctx context.Context, id int64, key string, at time.Time) error {
	return r.execActive(ctx, `UPDATE tickets SET category_key=$1, last_activity_at=$2 WHERE id=$3 AND status <> 'closed'`, key, at, id)
}

func (r *ticketStore) SetEscalation(ctx context.Context, id int64, level int, actorID string, at time.Time) error {
	return r.execActive(ctx, `UPDATE tickets SET escalated_level=$1, escalated_by=$2, last_activity_at=$3 WHERE id=$4 AND status <> 'closed'`, level, actorID, at, id)
}

func (r *ticketStore) SetRequester(ctx context.Context, id int64, requesterID string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE tickets SET requester_id=$1 WHERE id=$2 AND (requester_id IS NULL OR requester_id='')`, requesterID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotUpdated
	}
	return nil
}

func (r *ticketStore) TouchActivity(ctx context.Context, id int64, at time.Time) error {
	return r.execTouch(ctx, `UPDATE tickets SET last_activity_at=$1 WHERE id=$2`, at, id)
}

func (r *ticketStore) TouchUserMessage(ctx context.Context, id int64, at time.Time) error {
	return r.execTouch(ctx, `UPDATE tickets SET last_user_message_at=$1, last_activity_at=$1 WHERE id=$2`, at, id)
}

func (r *ticketStore) TouchStaffMessage(ctx context.Context, id int64, at time.Time) error {
	return r.execTouch(ctx, `
        UPDATE tickets SET last_staff_message_at=$1, last_activity_at=$1,
            first_staff_reply_at=COALESCE(first_staff_reply_at, $1)
        WHERE id=$2`, at, id)
}

func (r *ticketStore) MarkSLABreached(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.execConditional(ctx, `UPDATE tickets SET sla_breached_at=$1 WHERE id=$2 AND sla_breached_at IS NULL`, at, id)
}

func (r *ticketStore) ListActive(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ticketColumns+` FROM tickets
        WHERE status IN ('open','claimed') ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketStore) SetRating(ctx context.Context, id int64, rating int, comment *string) error {
	return r.execTouch(ctx, `UPDATE tickets SET rating=$1, rating_comment=$2 WHERE id=$3`, rating, comment, id)
}

func (r *ticketStore) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, query, args...))
}

func (r *ticketStore) execConditional(ctx context.Context, query string, args ...any) (bool, error) {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketStore) execActive(ctx context.Context, query string, args ...any) error {
	ok, err := r.execConditional(ctx, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotUpdated
	}
	return nil
}

func (r *ticketStore) execTouch(ctx context.Context, query string, args ...any) error {
	ok, err := r.execConditional(ctx, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket      domain.Ticket
		requesterID *string
		summaryID   *string
		category    *string
		priority    *int
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.GuildID,
		&requesterID,
		&ticket.ThreadID,
		&summaryID,
		&category,
		&priority,
		&ticket.StatusLabel,
		&ticket.EscalatedLevel,
		&ticket.EscalatedBy,
		&ticket.Status,
		&ticket.ClaimedBy,
		&ticket.ClosedBy,
		&ticket.CloseReason,
		&ticket.CreatedAt,
		&ticket.ClosedAt,
		&ticket.LastActivityAt,
		&ticket.LastUserMessageAt,
		&ticket.LastStaffMessageAt,
		&ticket.FirstStaffReplyAt,
		&ticket.SLABreachedAt,
		&ticket.Rating,
		&ticket.RatingComment,
		&ticket.RecordVersion,
	); err != nil {
		return nil, err
	}
	ticket.RequesterID = deref(requesterID)
	ticket.SummaryMessageID = deref(summaryID)
	ticket.CategoryKey = deref(category)
	if ticket.CategoryKey == "" {
		ticket.CategoryKey = domain.DefaultCategoryKey
	}
	ticket.Priority = domain.PriorityDefault
	if priority != nil {
		ticket.Priority = *priority
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsNotUpdated reports whether err is the conditional-update miss.
func IsNotUpdated(err error) bool {
	return errors.Is(err, ErrNotUpdated)
}
