package rendezvous

import (
	"context"
	"log/slog"

	"xdao.co/claimstore/claimstore"
)

// Server is the receiving side of the protocol: it binds registrations
// to announced streams and feeds them from the store.
type Server struct {
	Store  *claimstore.Store
	Table  *Table
	Logger *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Register binds the stream announced under nonce to a new observer
// described by req. On error the stream is closed, except for
// KindNotFound where no stream is known yet and the client may retry.
func (s *Server) Register(ctx context.Context, nonce string, req claimstore.ObserveRequest) error {
	stream, err := s.Table.Bind(nonce)
	if err != nil {
		return err
	}
	o, err := s.Store.Observe(ctx, req, stream)
	if err != nil {
		stream.Close(err)
		return err
	}

	go func() {
		select {
		case <-stream.Done():
			s.Store.Unobserve(o)
		case <-o.Done():
			stream.Close(o.Err())
		}
	}()

	s.logger().Debug("subscription bound to stream", "scope", req.Scope, "nonce", nonce)
	return nil
}
