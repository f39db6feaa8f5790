package claimstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/claimstore/clock"
	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/model"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = clock.Fake(epoch)
	}
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

func newIdentity(t *testing.T) *identity.Ed25519Identity {
	t.Helper()
	id, err := identity.GenerateEd25519()
	require.NoError(t, err)
	return id
}

func mustClaim(t *testing.T, s *Store, id identity.Identity, payload any) string {
	t.Helper()
	sig, err := id.Sign(payload)
	require.NoError(t, err)
	claimID, err := s.Claim(context.Background(), id.Reference(), sig, payload, nil)
	require.NoError(t, err)
	require.Equal(t, sig, claimID)
	return claimID
}

// getAs reads claimID authenticated as accessor, or anonymously when
// accessor is nil.
func getAs(t *testing.T, s *Store, claimID string, accessor identity.Identity) *model.ClaimView {
	t.Helper()
	ref, sig := "", ""
	if accessor != nil {
		var err error
		ref = accessor.Reference()
		sig, err = accessor.Sign(claimID)
		require.NoError(t, err)
	}
	v, err := s.Get(context.Background(), claimID, ref, sig)
	require.NoError(t, err)
	return v
}

func observeAs(t *testing.T, s *Store, scope string, accessor identity.Identity, pred map[string]any) (*Observer, *recorder) {
	t.Helper()
	req := ObserveRequest{Scope: scope, Predicate: pred}
	if accessor != nil {
		msg := scope
		if msg == "" {
			msg = "null"
		}
		sig, err := accessor.Sign(msg)
		require.NoError(t, err)
		req.AccessorRef = accessor.Reference()
		req.AccessorSignature = sig
	}
	rec := newRecorder()
	o, err := s.Observe(context.Background(), req, rec)
	require.NoError(t, err)
	return o, rec
}

func allow(did string) map[string]any {
	spec := map[string]any{}
	if did != "" {
		spec["did"] = did
	}
	return map[string]any{AllowAttribute: spec}
}

func allowScoped(scope, did string) map[string]any {
	spec := map[string]any{"scope": scope}
	if did != "" {
		spec["did"] = did
	}
	return map[string]any{AllowAttribute: spec}
}

type recorder struct {
	ch chan model.Observed
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan model.Observed, 128)}
}

func (r *recorder) Deliver(_ context.Context, rec model.Observed) error {
	r.ch <- rec
	return nil
}

func (r *recorder) next(t *testing.T) model.Observed {
	t.Helper()
	select {
	case rec := <-r.ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for observed claim")
		return model.Observed{}
	}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case rec := <-r.ch:
		t.Fatalf("unexpected observed claim %s: %v", rec.ClaimID, rec.Claim.Data)
	case <-time.After(50 * time.Millisecond):
	}
}
