package rendezvous

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/clock"
	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/model"
)

func newServer(t *testing.T) (*Server, *identity.Ed25519Identity) {
	t.Helper()
	clk := clock.Fake(epoch)
	store := claimstore.New(claimstore.Options{Clock: clk})
	t.Cleanup(store.Close)
	owner, err := identity.GenerateEd25519()
	require.NoError(t, err)
	return &Server{Store: store, Table: NewTable(0, clk)}, owner
}

func scopedRequest(t *testing.T, id identity.Identity) claimstore.ObserveRequest {
	t.Helper()
	sig, err := id.Sign(id.Reference())
	require.NoError(t, err)
	return claimstore.ObserveRequest{
		Scope:             id.Reference(),
		AccessorRef:       id.Reference(),
		AccessorSignature: sig,
	}
}

func TestServer_RegisterFeedsAssociatedStream(t *testing.T) {
	srv, owner := newServer(t)
	stream := newFakeStream()
	require.NoError(t, srv.Table.Associate("n", stream))
	require.NoError(t, srv.Register(context.Background(), "n", scopedRequest(t, owner)))

	payload := map[string]any{"need": "tea"}
	sig, err := owner.Sign(payload)
	require.NoError(t, err)
	claimID, err := srv.Store.Claim(context.Background(), owner.Reference(), sig, payload, nil)
	require.NoError(t, err)

	rec := stream.next(t)
	assert.Equal(t, claimID, rec.ClaimID)
	assert.Equal(t, owner.Reference(), rec.OwnerRef)
	assert.Equal(t, payload, rec.Claim.Data)
}

func TestServer_RegisterBeforeAssociationIsNotFound(t *testing.T) {
	srv, owner := newServer(t)
	err := srv.Register(context.Background(), "early", scopedRequest(t, owner))
	assert.True(t, model.IsKind(err, model.KindNotFound))
	assert.Equal(t, 0, srv.Store.Stats().Observers)
}

func TestServer_RejectedCredentialsCloseStream(t *testing.T) {
	srv, owner := newServer(t)
	stream := newFakeStream()
	require.NoError(t, srv.Table.Associate("n", stream))

	req := scopedRequest(t, owner)
	req.AccessorSignature = "AAAA"
	err := srv.Register(context.Background(), "n", req)
	assert.True(t, model.IsKind(err, model.KindInvalidSignature))

	closed, reason := stream.closeReason()
	assert.True(t, closed)
	assert.Equal(t, err, reason)
	assert.Equal(t, 0, srv.Table.Len())
}

func TestServer_StreamEndUnobserves(t *testing.T) {
	srv, owner := newServer(t)
	stream := newFakeStream()
	require.NoError(t, srv.Table.Associate("n", stream))
	require.NoError(t, srv.Register(context.Background(), "n", scopedRequest(t, owner)))
	require.Equal(t, 1, srv.Store.Stats().Observers)

	stream.Close(nil)
	assert.Eventually(t, func() bool { return srv.Store.Stats().Observers == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestServer_EvictionClosesStream(t *testing.T) {
	srv, owner := newServer(t)
	stream := newFakeStream()
	require.NoError(t, srv.Table.Associate("n", stream))
	require.NoError(t, srv.Register(context.Background(), "n", scopedRequest(t, owner)))

	require.True(t, srv.Store.Evict(owner.Reference()))
	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after eviction")
	}
	_, reason := stream.closeReason()
	assert.ErrorIs(t, reason, claimstore.ErrEvicted)
}
