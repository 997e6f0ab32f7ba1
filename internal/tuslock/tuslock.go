// Package tuslock implements the cross-node mutual exclusion resumable
// uploads need: a client's lease on an upload id must be held
// exclusively across many HTTP requests that may land on different
// gateway nodes.
//
// A Postgres advisory lock gives cross-node correctness; a
// broker-mediated handoff makes the current holder release promptly
// instead of at its idle timeout. The DB lock is the source of truth,
// the broker is only an expediter.
package tuslock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/apierr"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/broker"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
)

// AcquireTimeout bounds how long Lock waits for the advisory lock before
// giving up.
const AcquireTimeout = 15 * time.Second

const retryInterval = 100 * time.Millisecond

// Locker coordinates TUS upload leases across gateway nodes.
type Locker struct {
	DB     *dbgateway.Gateway
	Broker *broker.Broker
}

// Lease represents a held lock; call Unlock to release it. The
// transaction backing the advisory lock stays open for the lifetime of
// the lease, so Unlock (or the release callback invoked by a remote
// requester) must always run, even on error paths.
type Lease struct {
	id          string
	release     func()
	unsubscribe func()
	unlocked    bool
}

// releasePayload is the JSON body published on broker.ChannelRequestLockRelease.
type releasePayload struct {
	ID string `json:"id"`
}

// Lock acquires the cross-node lease for id (typically
// "bucket:key:version"). If another node currently holds it, this
// publishes a release request on the broker and polls every 100ms until
// either the lock is obtained or AcquireTimeout elapses.
//
// onRelease, if non-nil, fires when some other node requests this lease
// be released while it is still held. The subscription lives until
// Unlock, not just until acquisition: it is the holder, not the waiter,
// that must hear the request.
func (l *Locker) Lock(ctx context.Context, id string, onRelease func()) (*Lease, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, AcquireTimeout)
	defer cancel()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		lease, err := l.tryAcquire(id)
		if err == nil {
			lease.subscribe(l.Broker, onRelease)
			return lease, nil
		}
		var apiErr *apierr.Error
		if !errors.As(err, &apiErr) || apiErr.Code != apierr.ResourceLocked {
			return nil, err
		}

		l.requestRelease(acquireCtx, id)

		select {
		case <-acquireCtx.Done():
			return nil, apierr.New(apierr.LockTimeout, "timed out acquiring tus lock")
		case <-ticker.C:
		}
	}
}

func (l *Locker) requestRelease(ctx context.Context, id string) {
	payload, _ := json.Marshal(releasePayload{ID: id})
	_ = broker.Publish(ctx, l.DB, broker.ChannelRequestLockRelease, string(payload))
}

// tryAcquire opens a transaction and attempts the non-blocking advisory
// lock once; on success the transaction is left open, embedded in the
// returned Lease, until Unlock commits it. The transaction deliberately
// runs on a background context: a lease outlives the request that
// acquired it, and cancelling the acquiring request must not drop the
// connection (and with it the advisory lock) out from under the holder.
func (l *Locker) tryAcquire(id string) (*Lease, error) {
	txCtx := context.Background()

	type result struct {
		lease *Lease
		err   error
	}
	resCh := make(chan result, 1)

	// WithTransaction commits/rolls back when fn returns, but a lease must
	// outlive this call — so fn blocks on a done channel until Unlock
	// signals it to return, keeping the transaction open for the lease's
	// lifetime.
	doneCh := make(chan struct{})
	go func() {
		_ = l.DB.WithTransaction(txCtx, func(tx *dbgateway.Gateway) error {
			if err := tx.MustLockObject(txCtx, "tus", id, ""); err != nil {
				resCh <- result{nil, err}
				return err
			}
			lease := &Lease{id: id, release: func() { close(doneCh) }}
			resCh <- result{lease, nil}
			<-doneCh
			return nil
		})
	}()

	res := <-resCh
	return res.lease, res.err
}

// subscribe wires the holder-side release listener for the lease's
// lifetime.
func (lease *Lease) subscribe(b *broker.Broker, onRelease func()) {
	if onRelease == nil {
		return
	}
	ch, unsub := b.Subscribe(broker.ChannelRequestLockRelease)
	stop := make(chan struct{})
	lease.unsubscribe = func() {
		unsub()
		close(stop)
	}
	go func() {
		for {
			select {
			case <-stop:
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				var p releasePayload
				if json.Unmarshal([]byte(payload), &p) == nil && p.ID == lease.id {
					onRelease()
				}
			}
		}
	}()
}

// Unlock releases the lease, committing the transaction that held the
// advisory lock.
func (l *Lease) Unlock() {
	if l.unlocked {
		return
	}
	l.unlocked = true
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	l.release()
}
