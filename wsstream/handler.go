package wsstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/model"
	"xdao.co/claimstore/rendezvous"
)

// DefaultHelloTimeout bounds the wait for the client's nonce message.
const DefaultHelloTimeout = 10 * time.Second

// Handler serves the stream half of the observation protocol.
type Handler struct {
	Table *rendezvous.Table
	// Store is optional; when set /healthz reports its counters.
	Store  *claimstore.Store
	Logger *slog.Logger

	HelloTimeout   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Router mounts /observe and /healthz.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.healthz)
	r.Get("/observe", h.observe)
	return r
}

type health struct {
	Status  string            `json:"status"`
	Pending int               `json:"pending"`
	Store   *claimstore.Stats `json:"store,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	out := health{Status: "ok", Pending: h.Table.Len()}
	if h.Store != nil {
		st := h.Store.Stats()
		out.Store = &st
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handler) observe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		h.logger().Debug("websocket accept failed", "err", err)
		return
	}
	s := newStream(r.Context(), conn, h.WriteTimeout)

	nonce, err := h.readNonce(s.ctx, conn)
	if err != nil {
		s.Close(err)
		return
	}
	if err := h.Table.Associate(nonce, s); err != nil {
		s.Close(err)
		return
	}
	defer h.Table.Forget(nonce)

	go s.drain()
	<-s.Done()
	h.logger().Debug("observation stream ended", "nonce", nonce)
}

func (h *Handler) readNonce(ctx context.Context, conn *websocket.Conn) (string, error) {
	timeout := h.HelloTimeout
	if timeout <= 0 {
		timeout = DefaultHelloTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		return "", model.WrapError(model.KindInvalidRequest, "no nonce received", err)
	}
	var nonce string
	if err := json.Unmarshal(b, &nonce); err != nil {
		return "", model.WrapError(model.KindInvalidRequest, "first message must be the nonce as a JSON string", err)
	}
	if nonce == "" {
		return "", model.NewError(model.KindInvalidRequest, "empty nonce")
	}
	return nonce, nil
}
