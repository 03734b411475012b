package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TicketRepository stores one-time websocket connection tickets.
type TicketRepository struct {
	db  *pgxpool.Pool
	ttl time.Duration
}

// NewTicketRepository creates a TicketRepository issuing tickets valid for ttl.
func NewTicketRepository(db *pgxpool.Pool, ttl time.Duration) *TicketRepository {
	return &TicketRepository{db: db, ttl: ttl}
}

// Issue creates a ticket for userID.
func (r *TicketRepository) Issue(ctx context.Context, userID int64) (string, error) {
	ticket := uuid.NewString()
	_, err := r.db.Exec(ctx,
		`INSERT INTO ws_tickets (ticket, user_id, expires_at) VALUES ($1, $2, $3)`,
		ticket, userID, time.Now().Add(r.ttl),
	)
	if err != nil {
		return "", fmt.Errorf("issuing ticket for user %d: %w", userID, err)
	}
	return ticket, nil
}

// Redeem consumes ticket and returns its user. A ticket can be redeemed once;
// expired or unknown tickets yield ok=false.
func (r *TicketRepository) Redeem(ctx context.Context, ticket string) (int64, bool, error) {
	var userID int64
	err := r.db.QueryRow(ctx,
		`DELETE FROM ws_tickets WHERE ticket = $1 AND expires_at > now() RETURNING user_id`,
		ticket,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redeeming ticket: %w", err)
	}
	return userID, true, nil
}

// DeleteExpired removes expired tickets and returns how many were deleted.
func (r *TicketRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM ws_tickets WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired tickets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunCleanup deletes expired tickets every interval until ctx is canceled.
func (r *TicketRepository) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.DeleteExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("ticket cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("expired tickets deleted", "count", n)
			}
		}
	}
}
