// Package client talks to a remote claim store: control calls go over the
// Claims gRPC service and observation streams over WebSocket, joined by
// the rendezvous handshake.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"xdao.co/claimstore/claimrpc"
	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/clock"
	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/model"
	"xdao.co/claimstore/rendezvous"
)

// DefaultRecordBuffer is the capacity of Subscription.Records.
const DefaultRecordBuffer = 64

// Client is a remote claim store. The embedded claimrpc.Client provides
// Claim, Import, Get, GetLatest, GetOwner and the certificate directory.
type Client struct {
	*claimrpc.Client

	// StreamURL is the WebSocket observe endpoint, e.g.
	// ws://localhost:7701/observe.
	StreamURL string

	// Registration retry policy; zero values select the rendezvous
	// defaults.
	Delay    time.Duration
	Attempts int
	Clock    clock.Clock

	Logger *slog.Logger
}

// Dial connects the control channel. Streams are dialed per Observe.
func Dial(grpcTarget, streamURL string, opts claimrpc.DialOptions) (*Client, error) {
	rpc, err := claimrpc.Dial(grpcTarget, opts)
	if err != nil {
		return nil, err
	}
	return &Client{Client: rpc, StreamURL: streamURL}, nil
}

// Factory returns an identity factory whose certificate references
// resolve against, and register with, the remote store.
func (c *Client) Factory() *identity.Factory {
	return identity.NewFactory(c.Client)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Subscription is one remote observation.
type Subscription struct {
	hs      *rendezvous.Handshake
	conn    *websocket.Conn
	cancel  context.CancelFunc
	records chan model.Observed
	done    chan struct{}

	closing atomic.Bool
	mu      sync.Mutex
	err     error
}

// Observe opens a stream, announces a fresh nonce on it and registers the
// subscription until the server binds the two. It returns as soon as the
// stream is open; Ready reports when registration settles. The
// subscription ends when ctx is cancelled, Close is called or the server
// closes the stream.
func (c *Client) Observe(ctx context.Context, req claimstore.ObserveRequest) (*Subscription, error) {
	hs := rendezvous.NewHandshake()
	if c.Delay > 0 {
		hs.Delay = c.Delay
	}
	if c.Attempts > 0 {
		hs.Attempts = c.Attempts
	}
	hs.Clock = c.Clock

	ctx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(ctx, c.StreamURL, nil)
	if err != nil {
		cancel()
		return nil, model.WrapError(model.KindInvalidRequest, "dial "+c.StreamURL, err)
	}
	if err := wsjson.Write(ctx, conn, hs.Nonce); err != nil {
		cancel()
		_ = conn.CloseNow()
		return nil, model.WrapError(model.KindInternal, "announce nonce", err)
	}
	hs.StreamOpened()

	sub := &Subscription{
		hs:      hs,
		conn:    conn,
		cancel:  cancel,
		records: make(chan model.Observed, DefaultRecordBuffer),
		done:    make(chan struct{}),
	}
	go sub.read(ctx)
	go func() {
		err := hs.Run(ctx, func(ctx context.Context, nonce string) error {
			return c.Client.Register(ctx, nonce, req)
		})
		if err != nil {
			c.logger().Debug("observation registration failed", "nonce", hs.Nonce, "err", err)
			_ = conn.Close(websocket.StatusNormalClosure, "registration failed")
		}
	}()
	return sub, nil
}

func (s *Subscription) read(ctx context.Context) {
	defer close(s.done)
	defer close(s.records)
	for {
		var w model.WireObserved
		if err := wsjson.Read(ctx, s.conn, &w); err != nil {
			s.finish(err)
			return
		}
		select {
		case s.records <- w.FromWire():
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		}
	}
}

func (s *Subscription) finish(err error) {
	if s.closing.Load() || websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
		err = nil
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Nonce is the rendezvous nonce this subscription announced.
func (s *Subscription) Nonce() string { return s.hs.Nonce }

// Records delivers observed claims in order and is closed when the
// subscription ends.
func (s *Subscription) Records() <-chan model.Observed { return s.records }

// Ready is closed once registration succeeded or failed; after it closes
// Err is nil exactly when no claim accepted from then on will be missed.
func (s *Subscription) Ready() <-chan struct{} { return s.hs.Ready() }

// Wait blocks until Ready and returns the registration error.
func (s *Subscription) Wait(ctx context.Context) error { return s.hs.Wait(ctx) }

// Done is closed after Records is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription failed or ended abnormally: the
// registration error if it never became ready, otherwise the stream
// error (nil after a normal close or Close).
func (s *Subscription) Err() error {
	if err := s.hs.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription and waits for the reader to stop. It must
// be called even after the server ended the stream.
func (s *Subscription) Close() {
	s.closing.Store(true)
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	s.cancel()
	<-s.done
}
