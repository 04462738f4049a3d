package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ChangeChannel is the NOTIFY channel written by the table triggers.
const ChangeChannel = "queue_changes"

// Change identifies a row modified by another process. Entity is one of
// "patient", "prescription" or "receipt".
type Change struct {
	Entity string
	ID     uuid.UUID
}

// ParseChange decodes an "entity:id" notification payload.
func ParseChange(payload string) (Change, error) {
	entity, rawID, ok := strings.Cut(payload, ":")
	if !ok || entity == "" {
		return Change{}, fmt.Errorf("malformed change payload %q", payload)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Change{}, fmt.Errorf("malformed change id in %q: %w", payload, err)
	}
	return Change{Entity: entity, ID: id}, nil
}

// ChangeHandler receives every change notification.
type ChangeHandler func(ctx context.Context, change Change)

// Listener holds one pooled connection in LISTEN mode and feeds decoded
// notifications to a handler.
type Listener struct {
	// OnConnect runs after each successful LISTEN, before any notification
	// is handled. Writes committed while the listener was down are never
	// delivered, so this is where a consumer resyncs. An error drops the
	// connection and retries after the backoff.
	OnConnect func(ctx context.Context) error

	pool    *pgxpool.Pool
	handler ChangeHandler
	logger  zerolog.Logger
	backoff time.Duration

	connected atomic.Bool
}

func NewListener(pool *pgxpool.Pool, handler ChangeHandler, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:    pool,
		handler: handler,
		logger:  logger.With().Str("component", "listener").Logger(),
		backoff: 2 * time.Second,
	}
}

// Connected reports whether the LISTEN connection is currently up.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Run listens until ctx is cancelled, reconnecting after connection loss.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn().Err(err).Dur("retry_in", l.backoff).Msg("change listener disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer l.release(conn)

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangeChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	if l.OnConnect != nil {
		if err := l.OnConnect(ctx); err != nil {
			return fmt.Errorf("resync after listen: %w", err)
		}
	}
	l.connected.Store(true)
	l.logger.Info().Str("channel", ChangeChannel).Msg("listening for store changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		change, err := ParseChange(n.Payload)
		if err != nil {
			l.logger.Warn().Err(err).Msg("ignoring change notification")
			continue
		}
		l.handler(ctx, change)
	}
}

// release hands the connection back to the pool unsubscribed. If UNLISTEN
// fails the connection is closed instead, so no other pool user inherits
// the subscription.
func (l *Listener) release(conn *pgxpool.Conn) {
	l.connected.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		l.logger.Debug().Err(err).Msg("closing listener connection")
		_ = conn.Hijack().Close(ctx)
		return
	}
	conn.Release()
}
