package wsstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/model"
	"xdao.co/claimstore/rendezvous"
)

// DefaultWriteTimeout bounds a single record write.
const DefaultWriteTimeout = 5 * time.Second

// maxReasonBytes is the close-frame reason limit from RFC 6455.
const maxReasonBytes = 123

var _ rendezvous.Stream = (*stream)(nil)

// stream adapts one accepted connection to rendezvous.Stream.
type stream struct {
	conn         *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration

	once sync.Once
}

func newStream(parent context.Context, conn *websocket.Conn, writeTimeout time.Duration) *stream {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(parent)
	return &stream{conn: conn, ctx: ctx, cancel: cancel, writeTimeout: writeTimeout}
}

func (s *stream) Deliver(ctx context.Context, rec model.Observed) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, s.conn, rec.ToWire()); err != nil {
		s.abort()
		return err
	}
	return nil
}

func (s *stream) Done() <-chan struct{} { return s.ctx.Done() }

// Close sends a close frame describing reason and ends the stream.
func (s *stream) Close(reason error) {
	s.once.Do(func() {
		code, text := closeStatus(reason)
		_ = s.conn.Close(code, text)
		s.cancel()
	})
}

// abort drops the connection without a close handshake.
func (s *stream) abort() {
	s.once.Do(func() {
		_ = s.conn.CloseNow()
		s.cancel()
	})
}

// drain reads and discards client messages so control frames are
// processed, and ends the stream when the connection fails.
func (s *stream) drain() {
	for {
		if _, _, err := s.conn.Read(s.ctx); err != nil {
			s.abort()
			return
		}
	}
}

func closeStatus(reason error) (websocket.StatusCode, string) {
	var code websocket.StatusCode
	switch {
	case reason == nil, errors.Is(reason, claimstore.ErrClosed):
		return websocket.StatusNormalClosure, "closed"
	case errors.Is(reason, rendezvous.ErrExpired), errors.Is(reason, claimstore.ErrEvicted):
		code = websocket.StatusGoingAway
	case errors.Is(reason, claimstore.ErrOverflow):
		code = websocket.StatusTryAgainLater
	case model.KindOf(reason) == model.KindInternal:
		code = websocket.StatusInternalError
	default:
		code = websocket.StatusPolicyViolation
	}
	text := reason.Error()
	if len(text) > maxReasonBytes {
		text = strings.ToValidUTF8(text[:maxReasonBytes], "")
	}
	return code, text
}
