package peer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Transport labels used in logs and metrics.
const (
	TransportFramed = "framed"
	TransportGRPC   = "grpc"
)

// hub owns the sessions served over one transport.
type hub struct {
	store     *Store
	token     string
	transport string
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func newHub(store *Store, transport, token string, logger *slog.Logger, metrics *Metrics) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &hub{
		store:     store,
		token:     token,
		transport: transport,
		logger:    logger.With("transport", transport),
		metrics:   metrics,
		sessions:  make(map[*Session]struct{}),
	}
}

// serve runs one stream to completion. recv returns io.EOF when the client
// half-closes; closeStream must unblock a pending recv.
func (h *hub) serve(ctx context.Context, recv func() (*wire.WatchRequest, error), send SendFunc, closeStream func()) error {
	sess := NewSession(h.store, func(resp *wire.WatchResponse) error {
		h.metrics.response(resp)
		return send(resp)
	}, h.token)

	h.mu.Lock()
	h.sessions[sess] = struct{}{}
	h.mu.Unlock()
	h.metrics.sessionOpened(h.transport)
	defer func() {
		h.mu.Lock()
		delete(h.sessions, sess)
		h.mu.Unlock()
		h.metrics.sessionClosed(h.transport)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sess.Run(gctx)
		if err != nil {
			closeStream()
		}
		return err
	})
	g.Go(func() error {
		for {
			req, err := recv()
			if err != nil {
				sess.Finish()
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			h.metrics.request(req)
			sess.Handle(req)
		}
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("stream ended", "error", err)
	}
	return err
}

// evict cancels every watch on every session with reason.
func (h *hub) evict(reason string) int {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	n := 0
	for _, s := range sessions {
		n += s.Evict(reason)
	}
	return n
}

func (h *hub) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *hub) watchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for s := range h.sessions {
		n += s.WatchCount()
	}
	return n
}
