package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is the Postgres channel carrying global chat.
const notifyChannel = "chat_global"

// reconnectDelay is the pause before re-acquiring a dropped LISTEN connection.
const reconnectDelay = time.Second

// PGBroker relays chat across server processes with LISTEN/NOTIFY.
// Local subscribers are served by an embedded Hub fed from the listener.
type PGBroker struct {
	pool *pgxpool.Pool
	hub  *Hub
}

// NewPGBroker creates a broker on pool. Run must be started for deliveries.
func NewPGBroker(pool *pgxpool.Pool, buffer int) *PGBroker {
	return &PGBroker{pool: pool, hub: NewHub(buffer)}
}

// Publish implements Broker. When NOTIFY fails the message is still
// delivered to this process's subscribers.
func (b *PGBroker) Publish(ctx context.Context, msg Message) error {
	if err := checkChannel(msg.Channel); err != nil {
		return err
	}

	payload, err := encode(msg)
	if err != nil {
		return err
	}

	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, payload); err != nil {
		slog.Warn("chat notify failed, delivering locally", "error", err)
		b.hub.deliver(msg)
	}
	return nil
}

// Subscribe implements Broker.
func (b *PGBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return b.hub.Subscribe(ctx, channel)
}

// Run listens for notifications until ctx is canceled, reconnecting on error.
func (b *PGBroker) Run(ctx context.Context) error {
	slog.Info("chat listener started", "channel", notifyChannel)
	for {
		err := b.listen(ctx)
		if ctx.Err() != nil {
			slog.Info("chat listener stopped")
			return nil
		}
		slog.Error("chat listener failed", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *PGBroker) listen(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	defer func() {
		// the connection returns to the pool; drop the subscription first
		unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := conn.Exec(unlistenCtx, "UNLISTEN *"); err != nil {
			slog.Debug("unlisten failed", "error", err)
			_ = conn.Hijack().Close(unlistenCtx)
		}
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		msg, err := decode(n.Payload)
		if err != nil {
			slog.Warn("dropping malformed chat notification", "error", err)
			continue
		}
		b.hub.deliver(msg)
	}
}
