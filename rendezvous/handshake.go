package rendezvous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"xdao.co/claimstore/clock"
	"xdao.co/claimstore/model"
)

const (
	DefaultDelay    = 50 * time.Millisecond
	DefaultAttempts = 10
)

// State is the client-side handshake state.
type State int

const (
	// AwaitingAssociation: nonce minted, registration not yet accepted.
	AwaitingAssociation State = iota
	// Registered: the server accepted the registration but the local
	// stream has not reported itself open.
	Registered
	// Ready: both legs are up; no later claim will be missed.
	Ready
	// Failed: registration was rejected or timed out.
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingAssociation:
		return "awaiting-association"
	case Registered:
		return "registered"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RegisterFunc sends one registration attempt naming nonce.
type RegisterFunc func(ctx context.Context, nonce string) error

// Handshake is the client side of the protocol. It is driven by two
// inputs, StreamOpened and the outcome of Run, in either order.
type Handshake struct {
	Nonce    string
	Delay    time.Duration
	Attempts int
	Clock    clock.Clock

	mu         sync.Mutex
	state      State
	streamOpen bool
	registered bool
	err        error
	settled    chan struct{}
}

// NewHandshake mints a fresh random nonce with the default retry budget.
func NewHandshake() *Handshake {
	return &Handshake{
		Nonce:    uuid.NewString(),
		Delay:    DefaultDelay,
		Attempts: DefaultAttempts,
		settled:  make(chan struct{}),
	}
}

func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err is the failure reason once the handshake is Failed.
func (h *Handshake) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Ready is closed once the handshake settles, in either the Ready or the
// Failed state; Err tells them apart.
func (h *Handshake) Ready() <-chan struct{} { return h.settled }

// Wait blocks until the handshake settles and returns its error, or
// returns ctx's error first.
func (h *Handshake) Wait(ctx context.Context) error {
	select {
	case <-h.settled:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StreamOpened records that the stream is writable and the nonce sent.
func (h *Handshake) StreamOpened() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streamOpen = true
	h.advanceLocked()
}

// Fail moves the handshake to Failed unless it already settled. The
// transport calls it when the stream breaks during the handshake.
func (h *Handshake) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failLocked(err)
}

func (h *Handshake) failLocked(err error) {
	if h.state == Ready || h.state == Failed {
		return
	}
	h.state = Failed
	h.err = err
	close(h.settled)
}

func (h *Handshake) advanceLocked() {
	if h.state == Ready || h.state == Failed {
		return
	}
	switch {
	case h.registered && h.streamOpen:
		h.state = Ready
		close(h.settled)
	case h.registered:
		h.state = Registered
	}
}

// Run performs the bounded registration loop: up to Attempts calls to
// register, Delay apart, stopping at the first success. Only KindNotFound
// (the server has not seen the nonce yet) is retried; any other error
// fails the handshake at once. Exhausting the budget fails it with
// KindTimeout.
func (h *Handshake) Run(ctx context.Context, register RegisterFunc) error {
	attempts := h.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := h.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	clk := clock.OrReal(h.Clock)

	var last error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				h.Fail(ctx.Err())
				return ctx.Err()
			case <-clk.After(delay):
			}
		}
		err := register(ctx, h.Nonce)
		if err == nil {
			h.mu.Lock()
			h.registered = true
			h.advanceLocked()
			h.mu.Unlock()
			return nil
		}
		if !model.IsKind(err, model.KindNotFound) {
			h.Fail(err)
			return err
		}
		last = err
	}
	err := model.WrapError(model.KindTimeout,
		fmt.Sprintf("registration not accepted after %d attempts", attempts), last)
	h.Fail(err)
	return err
}
