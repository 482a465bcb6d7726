package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Cancel reasons sent to clients.
const (
	ReasonInvalidToken = "invalid auth token"
	ReasonInvalidRange = "invalid key range"
)

// SendFunc writes one response to the client.
type SendFunc func(*wire.WatchResponse) error

// Session is the peer side of one watch stream. Requests are fed through
// Handle; responses are queued and written in order by Run, so a slow
// client never blocks store mutations.
type Session struct {
	store *Store
	send  SendFunc
	token string

	mu      sync.Mutex
	nextID  int64
	watches map[int64]func()

	qmu      sync.Mutex
	queue    []*wire.WatchResponse
	wake     chan struct{}
	finished bool
}

// NewSession creates a session. A non-empty token makes every create
// request carry a matching Token.
func NewSession(store *Store, send SendFunc, token string) *Session {
	return &Session{
		store:   store,
		send:    send,
		token:   token,
		watches: make(map[int64]func()),
		wake:    make(chan struct{}, 1),
	}
}

// Handle processes one client request.
func (s *Session) Handle(req *wire.WatchRequest) {
	switch {
	case req.Create != nil:
		s.create(req)
	case req.Cancel != nil:
		s.cancel(req.Cancel.WatchID)
	}
}

func (s *Session) create(req *wire.WatchRequest) {
	if s.token != "" && req.Token != s.token {
		s.reject(ReasonInvalidToken)
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	c := req.Create
	unwatch, err := s.store.Watch(WatchOptions{
		Range:         c.Range(),
		StartRevision: c.StartRevision,
		PrevKV:        c.PrevKV,
		Filters:       c.Filters,
	}, func(rev int64) {
		s.enqueue(&wire.WatchResponse{
			Header:  wire.ResponseHeader{Revision: rev},
			WatchID: id,
			Created: true,
		})
	}, func(events []wire.Event, rev int64) {
		s.enqueue(&wire.WatchResponse{
			Header:  wire.ResponseHeader{Revision: rev},
			WatchID: id,
			Events:  events,
		})
	})

	switch {
	case errors.Is(err, ErrInvalidRange):
		s.reject(ReasonInvalidRange)
		return
	case errors.Is(err, ErrCompacted):
		// The created ack is already queued; follow it with the cancel.
		s.enqueue(&wire.WatchResponse{
			Header:          wire.ResponseHeader{Revision: s.store.Rev()},
			WatchID:         id,
			Canceled:        true,
			CancelReason:    err.Error(),
			CompactRevision: s.store.CompactRev(),
		})
		return
	}

	s.mu.Lock()
	s.watches[id] = unwatch
	s.mu.Unlock()
}

func (s *Session) reject(reason string) {
	s.enqueue(&wire.WatchResponse{
		Header:       wire.ResponseHeader{Revision: s.store.Rev()},
		WatchID:      wire.InvalidWatchID,
		Created:      true,
		Canceled:     true,
		CancelReason: reason,
	})
}

// cancel stops a watch. Unknown ids get no response.
func (s *Session) cancel(id int64) {
	s.mu.Lock()
	unwatch, ok := s.watches[id]
	delete(s.watches, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	unwatch()
	s.enqueue(&wire.WatchResponse{
		Header:   wire.ResponseHeader{Revision: s.store.Rev()},
		WatchID:  id,
		Canceled: true,
	})
}

// Evict cancels every watch on the session from the peer side with the
// given reason. It returns the number of watches cancelled.
func (s *Session) Evict(reason string) int {
	s.mu.Lock()
	watches := s.watches
	s.watches = make(map[int64]func())
	s.mu.Unlock()

	for id, unwatch := range watches {
		unwatch()
		s.enqueue(&wire.WatchResponse{
			Header:       wire.ResponseHeader{Revision: s.store.Rev()},
			WatchID:      id,
			Canceled:     true,
			CancelReason: reason,
		})
	}
	return len(watches)
}

// WatchCount returns the number of live watches.
func (s *Session) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *Session) enqueue(resp *wire.WatchResponse) {
	s.qmu.Lock()
	if s.finished {
		s.qmu.Unlock()
		return
	}
	s.queue = append(s.queue, resp)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Finish detaches all watches. Run returns after writing what is queued.
func (s *Session) Finish() {
	s.mu.Lock()
	watches := s.watches
	s.watches = make(map[int64]func())
	s.mu.Unlock()
	for _, unwatch := range watches {
		unwatch()
	}

	s.qmu.Lock()
	s.finished = true
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run writes queued responses until ctx is done, a write fails, or the
// session is finished and drained.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		finished := s.finished
		s.qmu.Unlock()

		for _, resp := range batch {
			if err := s.send(resp); err != nil {
				return err
			}
		}
		if finished {
			return nil
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}
