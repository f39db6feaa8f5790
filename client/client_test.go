package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/claimstore/claimrpc"
	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/model"
	"xdao.co/claimstore/rendezvous"
	"xdao.co/claimstore/wsstream"
)

// newRemote serves a fresh store over gRPC (bufconn) and WebSocket
// (httptest). streamHandler replaces the WebSocket endpoint when non-nil.
func newRemote(t *testing.T, streamHandler http.Handler) (*claimstore.Store, *Client) {
	t.Helper()
	store := claimstore.New(claimstore.Options{})
	t.Cleanup(store.Close)
	table := rendezvous.NewTable(0, nil)

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	claimrpc.RegisterClaimsServer(srv, &claimrpc.Server{
		Store:      store,
		Rendezvous: &rendezvous.Server{Store: store, Table: table},
	})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	if streamHandler == nil {
		streamHandler = (&wsstream.Handler{Table: table, Store: store}).Router()
	}
	hs := httptest.NewServer(streamHandler)
	t.Cleanup(hs.Close)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	c, err := Dial("passthrough:///bufnet", "ws"+strings.TrimPrefix(hs.URL, "http")+"/observe",
		claimrpc.DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}})
	require.NoError(t, err)
	c.Timeout = 2 * time.Second
	t.Cleanup(func() { _ = c.Close() })
	return store, c
}

func newIdentity(t *testing.T) *identity.Ed25519Identity {
	t.Helper()
	id, err := identity.GenerateEd25519()
	require.NoError(t, err)
	return id
}

func claim(t *testing.T, c *Client, id identity.Identity, payload map[string]any) string {
	t.Helper()
	sig, err := id.Sign(payload)
	require.NoError(t, err)
	claimID, err := c.Claim(context.Background(), id.Reference(), sig, payload, nil)
	require.NoError(t, err)
	return claimID
}

func next(t *testing.T, sub *Subscription) model.Observed {
	t.Helper()
	select {
	case rec, ok := <-sub.Records():
		require.True(t, ok, "subscription ended: %v", sub.Err())
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
		return model.Observed{}
	}
}

func waitReady(t *testing.T, sub *Subscription) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sub.Wait(ctx)
}

func TestObserve_GlobalPredicateEndToEnd(t *testing.T) {
	_, c := newRemote(t, nil)
	alice, bob := newIdentity(t), newIdentity(t)

	sub, err := c.Observe(context.Background(), claimstore.ObserveRequest{
		Predicate: map[string]any{"need": nil},
	})
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, waitReady(t, sub))
	assert.NotEmpty(t, sub.Nonce())

	claim(t, c, alice, map[string]any{"need": "beer", "DISCIPL_ALLOW": map[string]any{}})
	claim(t, c, bob, map[string]any{"offer": "wine", "DISCIPL_ALLOW": map[string]any{}})
	want := claim(t, c, bob, map[string]any{"need": "wine", "DISCIPL_ALLOW": map[string]any{}})

	first := next(t, sub)
	assert.Equal(t, alice.Reference(), first.OwnerRef)
	assert.Equal(t, "beer", first.Claim.Data.(map[string]any)["need"])

	second := next(t, sub)
	assert.Equal(t, want, second.ClaimID)
	assert.NotEmpty(t, second.Claim.Previous)
}

func TestObserve_RejectedCredentialsFailHandshake(t *testing.T) {
	_, c := newRemote(t, nil)
	owner := newIdentity(t)

	sub, err := c.Observe(context.Background(), claimstore.ObserveRequest{
		Scope:             owner.Reference(),
		AccessorRef:       owner.Reference(),
		AccessorSignature: "bm90LWEtc2lnbmF0dXJl",
	})
	require.NoError(t, err)
	defer sub.Close()

	err = waitReady(t, sub)
	assert.True(t, model.IsKind(err, model.KindInvalidSignature), "got %v", err)
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after rejected registration")
	}
}

func TestObserve_RegistrationTimesOutWithoutAssociation(t *testing.T) {
	// A stream endpoint that accepts connections but never associates
	// their nonces.
	silent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	})
	_, c := newRemote(t, silent)
	c.Delay = time.Millisecond
	c.Attempts = 3

	sub, err := c.Observe(context.Background(), claimstore.ObserveRequest{})
	require.NoError(t, err)
	defer sub.Close()

	err = waitReady(t, sub)
	assert.True(t, model.IsKind(err, model.KindTimeout), "got %v", err)
}

func TestObserve_CloseEndsRecords(t *testing.T) {
	store, c := newRemote(t, nil)
	sub, err := c.Observe(context.Background(), claimstore.ObserveRequest{})
	require.NoError(t, err)
	require.NoError(t, waitReady(t, sub))
	require.Eventually(t, func() bool { return store.Stats().GlobalObservers == 1 }, 2*time.Second, 5*time.Millisecond)

	sub.Close()
	_, ok := <-sub.Records()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
	assert.Eventually(t, func() bool { return store.Stats().GlobalObservers == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestFactory_ResolvesRemoteCertificates(t *testing.T) {
	_, c := newRemote(t, nil)
	_, err := c.Factory().FromReference(context.Background(), "crt:00112233", nil)
	assert.True(t, model.IsKind(err, model.KindUnknownIdentity), "got %v", err)
}
