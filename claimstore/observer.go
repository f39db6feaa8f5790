package claimstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/model"
)

var (
	// ErrOverflow terminates an observer whose sink fell too far behind.
	ErrOverflow = errors.New("claimstore: observer queue overflow")
	// ErrEvicted terminates observers of a channel removed by retention.
	ErrEvicted = errors.New("claimstore: observed identity evicted")
	// ErrClosed terminates observers when the store shuts down.
	ErrClosed = errors.New("claimstore: store closed")
)

// Sink receives observed claims. Deliver is called from a single
// goroutine per observer, in chain order, never under a store lock.
// Errors are logged and otherwise ignored.
type Sink interface {
	Deliver(ctx context.Context, rec model.Observed) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec model.Observed) error

func (f SinkFunc) Deliver(ctx context.Context, rec model.Observed) error { return f(ctx, rec) }

// ObserveRequest describes a subscription. An empty Scope observes every
// channel. AccessorRef and AccessorSignature authenticate the subscriber;
// the signature is over Scope, or over the string "null" for a global
// subscription. Without both the subscriber is anonymous and only sees
// public claims.
type ObserveRequest struct {
	Scope             string
	AccessorRef       string
	AccessorSignature string
	Predicate         map[string]any
}

// Observer is a live subscription. It stays registered until Unobserve,
// queue overflow, eviction of the observed channel, eviction of a global
// observer's accessor, or Store.Close.
type Observer struct {
	scope     string
	owner     string
	predicate Predicate
	sink      Sink
	log       *slog.Logger

	queue   chan model.Observed
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	mu  sync.Mutex
	err error
}

func newObserver(scope, owner string, pred Predicate, sink Sink, buffer int, log *slog.Logger) *Observer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		scope:     scope,
		owner:     owner,
		predicate: pred,
		sink:      sink,
		log:       log,
		queue:     make(chan model.Observed, buffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Scope returns the observed reference, or "" for a global observer.
func (o *Observer) Scope() string { return o.scope }

// Accessor returns the authenticated subscriber, or "" when anonymous.
func (o *Observer) Accessor() string { return o.owner }

// Done is closed once the observer has stopped delivering.
func (o *Observer) Done() <-chan struct{} { return o.done }

// Err reports why the observer stopped: nil after Unobserve, otherwise
// one of ErrOverflow, ErrEvicted or ErrClosed.
func (o *Observer) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// offer enqueues rec without blocking. It reports false when the queue
// is full, in which case the observer has been stopped with ErrOverflow.
// Callers hold the lock of the list the observer lives in, which keeps
// per-channel order intact.
func (o *Observer) offer(rec model.Observed) bool {
	if o.stopped.Load() {
		return true
	}
	select {
	case o.queue <- rec:
		return true
	default:
		o.stop(ErrOverflow)
		return false
	}
}

func (o *Observer) stop(reason error) {
	if !o.stopped.CompareAndSwap(false, true) {
		return
	}
	o.mu.Lock()
	o.err = reason
	o.mu.Unlock()
	o.cancel()
}

func (o *Observer) run() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			return
		case rec := <-o.queue:
			if o.stopped.Load() {
				return
			}
			// Stored data is shared; hand each sink its own copy.
			if cp, err := canonical.Normalize(rec.Claim.Data); err == nil {
				rec.Claim.Data = cp
			}
			if err := o.sink.Deliver(o.ctx, rec); err != nil {
				o.log.Debug("observer delivery failed",
					"scope", o.scope,
					"claim_id", rec.ClaimID,
					"error", err,
				)
			}
		}
	}
}

// accepts applies the access and predicate filters. The caller holds
// ch.mu.
func (o *Observer) accepts(ch *channel, c *Claim) bool {
	return permitted(ch, c, o.owner) && o.predicate.Matches(c.Data)
}
