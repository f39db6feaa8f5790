package rendezvous

import (
	"errors"
	"sync"
	"time"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/clock"
	"xdao.co/claimstore/model"
)

// DefaultPendingTTL bounds how long an announced stream may wait for its
// registration.
const DefaultPendingTTL = 30 * time.Second

// ErrExpired closes streams whose registration never arrived.
var ErrExpired = errors.New("rendezvous: association expired")

// Stream is the server end of a duplex stream that can carry observed
// claims.
type Stream interface {
	claimstore.Sink
	// Done is closed when the transport goes away.
	Done() <-chan struct{}
	// Close tears the transport down, reporting reason to the peer.
	Close(reason error)
}

type pending struct {
	stream  Stream
	expires time.Time
}

// Table holds streams that announced a nonce but are not yet bound to a
// subscription.
type Table struct {
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	pending map[string]pending
}

// NewTable returns an empty table. ttl <= 0 selects DefaultPendingTTL; a
// nil clock selects the real one.
func NewTable(ttl time.Duration, clk clock.Clock) *Table {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Table{ttl: ttl, clock: clock.OrReal(clk), pending: make(map[string]pending)}
}

// Associate records s under nonce. A nonce can only be associated once.
func (t *Table) Associate(nonce string, s Stream) error {
	if nonce == "" {
		return model.NewError(model.KindInvalidRequest, "empty nonce")
	}
	now := t.clock.Now()

	t.mu.Lock()
	expired := t.expireLocked(now)
	_, dup := t.pending[nonce]
	if !dup {
		t.pending[nonce] = pending{stream: s, expires: now.Add(t.ttl)}
	}
	t.mu.Unlock()

	closeAll(expired)
	if dup {
		return model.Errorf(model.KindInvalidRequest, "nonce %q already associated", nonce)
	}
	return nil
}

// Bind removes and returns the stream associated with nonce. An unknown
// or expired nonce is KindNotFound.
func (t *Table) Bind(nonce string) (Stream, error) {
	now := t.clock.Now()
	t.mu.Lock()
	p, ok := t.pending[nonce]
	if ok {
		delete(t.pending, nonce)
	}
	t.mu.Unlock()

	if !ok {
		return nil, model.Errorf(model.KindNotFound, "no stream associated with nonce %q", nonce)
	}
	if !now.Before(p.expires) {
		p.stream.Close(ErrExpired)
		return nil, model.Errorf(model.KindNotFound, "association for nonce %q expired", nonce)
	}
	return p.stream, nil
}

// Forget drops a pending association without closing its stream. The
// transport calls it when the stream ends before being bound.
func (t *Table) Forget(nonce string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, nonce)
}

// Expire closes and removes every association past its TTL and returns
// how many there were.
func (t *Table) Expire() int {
	t.mu.Lock()
	expired := t.expireLocked(t.clock.Now())
	t.mu.Unlock()
	closeAll(expired)
	return len(expired)
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table) expireLocked(now time.Time) []Stream {
	var out []Stream
	for nonce, p := range t.pending {
		if !now.Before(p.expires) {
			out = append(out, p.stream)
			delete(t.pending, nonce)
		}
	}
	return out
}

func closeAll(streams []Stream) {
	for _, s := range streams {
		s.Close(ErrExpired)
	}
}
