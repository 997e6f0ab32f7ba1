// Package broker provides the cross-node publish/subscribe primitive the
// gateway uses to invalidate process-wide caches (JWKS, S3 credentials)
// and to expedite the TUS cross-node lock handoff.
//
// It is implemented over Postgres LISTEN/NOTIFY via a dedicated pgx
// connection, reusing the one dependency (pgx) already in the stack
// rather than adding a separate message broker: the DB advisory lock
// already gives correctness across nodes, so the broker only needs to be
// an expediter, not a second source of truth.
package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Channel names used on the wire.
const (
	ChannelJWKSUpdate        = "tenants_jwks_update"
	ChannelS3CredentialsUpdate = "tenants_s3_credentials_update"
	ChannelRequestLockRelease  = "REQUEST_LOCK_RELEASE"
)

// Broker listens on a dedicated connection and fans out NOTIFY payloads
// to any number of in-process subscribers, keyed by channel name.
type Broker struct {
	connString string
	logger     *slog.Logger

	mu       sync.Mutex
	subs     map[string][]chan string
	conn     *pgx.Conn
	cancel   context.CancelFunc
	closedCh chan struct{}
}

// New connects a dedicated listen connection and starts the fan-out loop.
func New(ctx context.Context, connString string, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		connString: connString,
		logger:     logger,
		subs:       make(map[string][]chan string),
		conn:       conn,
		cancel:     cancel,
		closedCh:   make(chan struct{}),
	}
	go b.loop(runCtx)
	return b, nil
}

func (b *Broker) loop(ctx context.Context) {
	defer close(b.closedCh)
	for {
		notif, err := b.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("broker: wait for notification", "error", err)
			continue
		}
		b.dispatch(notif.Channel, notif.Payload)
	}
}

func (b *Broker) dispatch(channel, payload string) {
	b.mu.Lock()
	subs := append([]chan string{}, b.subs[channel]...)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
			// A slow subscriber never blocks the listen loop; it simply
			// misses this notification (an expediter, not a guarantee).
		}
	}
}

// Subscribe registers interest in channel and returns a receive-only
// channel of payloads plus an unsubscribe func.
func (b *Broker) Subscribe(channel string) (<-chan string, func()) {
	ch := make(chan string, 8)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish issues a NOTIFY on channel with payload. It uses the pool
// connection the caller supplies rather than the dedicated listen
// connection, since LISTEN connections in pgx should not run other
// queries concurrently with WaitForNotification.
func Publish(ctx context.Context, q interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}, channel, payload string) error {
	_, err := q.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	return err
}

// Listen issues LISTEN on the dedicated connection for channel.
func (b *Broker) Listen(ctx context.Context, channel string) error {
	_, err := b.conn.Exec(ctx, "LISTEN \""+channel+"\"")
	return err
}

// Close stops the fan-out loop and releases the dedicated connection.
func (b *Broker) Close() {
	b.cancel()
	<-b.closedCh
	_ = b.conn.Close(context.Background())
}
