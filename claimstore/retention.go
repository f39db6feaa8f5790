package claimstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"xdao.co/claimstore/clock"
)

// DefaultRetention is the idle window after which an identity is evicted.
const DefaultRetention = 24 * time.Hour

// Evict removes everything held for ref: its channel with all claims
// and channel observers, its claim-owner index entries, its registered
// certificate, the global observers it authenticated, and its activity
// entry. It reports whether anything was removed.
func (s *Store) Evict(ref string) bool {
	s.actMu.Lock()
	_, tracked := s.activity[ref]
	delete(s.activity, ref)
	s.actMu.Unlock()
	return s.evictState(ref) || tracked
}

func (s *Store) evictState(ref string) bool {
	removed := false

	s.chMu.Lock()
	ch := s.channels[ref]
	delete(s.channels, ref)
	s.chMu.Unlock()

	if ch != nil {
		removed = true
		ch.mu.Lock()
		ch.evicted = true
		ids := ch.order
		obs := ch.observers
		ch.observers = nil
		ch.mu.Unlock()

		for _, o := range obs {
			o.stop(ErrEvicted)
		}

		s.ownMu.Lock()
		for _, id := range ids {
			if s.owners[id] == ref {
				delete(s.owners, id)
			}
		}
		s.ownMu.Unlock()
	}

	if _, ok := s.certs.Resolve(ref); ok {
		s.certs.Delete(ref)
		removed = true
	}

	var dropped []*Observer
	s.globalMu.Lock()
	kept := s.global[:0]
	for _, o := range s.global {
		if o.owner == ref {
			dropped = append(dropped, o)
			continue
		}
		kept = append(kept, o)
	}
	clear(s.global[len(kept):])
	s.global = kept
	s.globalMu.Unlock()
	for _, o := range dropped {
		o.stop(ErrEvicted)
	}

	return removed || len(dropped) > 0
}

// idleSince returns the references not touched since cutoff.
func (s *Store) idleSince(cutoff time.Time) []string {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	var refs []string
	for ref, last := range s.activity {
		if last.Before(cutoff) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// evictIfIdle evicts ref unless it was touched after cutoff in the
// meantime.
func (s *Store) evictIfIdle(ref string, cutoff time.Time) bool {
	s.actMu.Lock()
	last, ok := s.activity[ref]
	if !ok || !last.Before(cutoff) {
		s.actMu.Unlock()
		return false
	}
	delete(s.activity, ref)
	s.actMu.Unlock()

	s.evictState(ref)
	return true
}

// Sweeper periodically evicts identities idle for longer than Retention.
type Sweeper struct {
	Store     *Store
	Retention time.Duration
	// Clock defaults to the store's clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

// Period is the sweep interval: a tenth of the retention window, so an
// idle identity lingers at most 10% longer than the window.
func (w *Sweeper) Period() time.Duration {
	p := w.retention() / 10
	if p <= 0 {
		p = time.Millisecond
	}
	return p
}

func (w *Sweeper) retention() time.Duration {
	if w.Retention <= 0 {
		return DefaultRetention
	}
	return w.Retention
}

// timeSource defaults to the store's clock so activity stamps and cutoffs
// come from the same source.
func (w *Sweeper) timeSource() clock.Clock {
	if w.Clock != nil {
		return w.Clock
	}
	return w.Store.clock
}

func (w *Sweeper) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return w.Store.log
}

// Run sweeps every Period until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	t := w.timeSource().NewTicker(w.Period())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.SweepOnce()
		}
	}
}

// SweepOnce evicts every identity idle for longer than Retention and
// returns how many were evicted. A failure evicting one identity is
// logged and does not stop the sweep.
func (w *Sweeper) SweepOnce() int {
	cutoff := w.timeSource().Now().Add(-w.retention())
	log := w.logger()

	n := 0
	for _, ref := range w.Store.idleSince(cutoff) {
		evicted, err := w.evictOne(ref, cutoff)
		if err != nil {
			log.Error("eviction failed", "ref", ref, "error", err)
			continue
		}
		if evicted {
			n++
			log.Info("evicted idle identity", "ref", ref)
		}
	}
	return n
}

func (w *Sweeper) evictOne(ref string, cutoff time.Time) (evicted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Store.evictIfIdle(ref, cutoff), nil
}
