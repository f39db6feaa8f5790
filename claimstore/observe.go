package claimstore

import (
	"context"
	"slices"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/model"
)

// Observe registers a subscription and starts delivering to sink. Only
// claims accepted after Observe returns are delivered.
//
// Supplied accessor credentials that fail verification abort the call
// and nothing is registered.
func (s *Store) Observe(ctx context.Context, req ObserveRequest, sink Sink) (*Observer, error) {
	if sink == nil {
		return nil, model.NewError(model.KindInvalidRequest, "observe requires a sink")
	}
	message := req.Scope
	if message == "" {
		message = "null"
	}
	accessor, err := s.authenticate(ctx, req.AccessorRef, req.AccessorSignature, message)
	if err != nil {
		return nil, err
	}

	var pred Predicate
	if len(req.Predicate) > 0 {
		norm, err := canonical.Normalize(req.Predicate)
		if err != nil {
			return nil, model.WrapError(model.KindInvalidRequest, "predicate is not canonicalizable", err)
		}
		pred = Predicate(norm.(map[string]any))
	}

	o := newObserver(req.Scope, accessor, pred, sink, s.buffer, s.log)
	if req.Scope == "" {
		s.globalMu.Lock()
		s.global = append(s.global, o)
		s.globalMu.Unlock()
	} else {
		s.touch(req.Scope)
		for {
			ch := s.channelFor(req.Scope, true)
			ch.mu.Lock()
			if ch.evicted {
				ch.mu.Unlock()
				continue
			}
			ch.observers = append(ch.observers, o)
			ch.mu.Unlock()
			break
		}
	}
	go o.run()

	s.log.Debug("observer registered", "scope", req.Scope, "accessor", accessor)
	return o, nil
}

// Unobserve removes o and stops its delivery goroutine. It is safe to
// call more than once and on observers the store already dropped.
func (s *Store) Unobserve(o *Observer) {
	if o == nil {
		return
	}
	if o.scope == "" {
		s.globalMu.Lock()
		s.global = removeObserver(s.global, o)
		s.globalMu.Unlock()
	} else if ch := s.channelFor(o.scope, false); ch != nil {
		ch.mu.Lock()
		ch.observers = removeObserver(ch.observers, o)
		ch.mu.Unlock()
	}
	o.stop(nil)
}

func removeObserver(list []*Observer, o *Observer) []*Observer {
	return slices.DeleteFunc(list, func(x *Observer) bool { return x == o })
}
