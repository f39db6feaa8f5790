package rendezvous

import (
	"context"
	"sync"
	"testing"
	"time"

	"xdao.co/claimstore/model"
)

type fakeStream struct {
	records chan model.Observed
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	reason error
}

func newFakeStream() *fakeStream {
	return &fakeStream{records: make(chan model.Observed, 32), done: make(chan struct{})}
}

func (s *fakeStream) Deliver(_ context.Context, rec model.Observed) error {
	s.records <- rec
	return nil
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

func (s *fakeStream) Close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.done)
}

func (s *fakeStream) closeReason() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.reason
}

func (s *fakeStream) next(t *testing.T) model.Observed {
	t.Helper()
	select {
	case rec := <-s.records:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
		return model.Observed{}
	}
}
