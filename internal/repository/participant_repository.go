package repository

import (
	"context"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

func (r *ticketStore) AddParticipant(ctx context.Context, p *domain.Participant) (bool, error) {
	const query = `
        INSERT INTO ticket_participants (ticket_id, user_id, added_by, added_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (ticket_id, user_id) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query, p.TicketID, p.UserID, p.AddedBy, p.AddedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketStore) ListParticipants(ctx context.Context, ticketID int64) ([]domain.Participant, error) {
	const query = `
        SELECT ticket_id, user_id, added_by, added_at
        FROM ticket_participants WHERE ticket_id=$1 ORDER BY added_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.TicketID, &p.UserID, &p.AddedBy, &p.AddedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
