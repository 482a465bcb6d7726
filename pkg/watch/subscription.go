package watch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Handle identifies a subscription for its whole life. Handles start at 1
// and are never reused by a Manager.
type Handle uint64

// State is the lifecycle state of a subscription.
type State uint8

const (
	// StatePending means a create request is outstanding.
	StatePending State = iota

	// StateActive means the peer acknowledged the current create request.
	StateActive

	// StateCancelled means the subscription was cancelled or torn down.
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Response is one delivery to a subscription's callback.
type Response struct {
	// Handle of the subscription the response belongs to.
	Handle Handle

	// Revision is the store revision in the response header.
	Revision int64

	// Events in the order the peer applied them.
	Events []wire.Event

	// Canceled marks the final delivery of a subscription ended by the
	// peer. No further responses follow.
	Canceled bool

	// CancelReason is the peer's explanation, if any.
	CancelReason string

	// CompactRevision is set when the peer ended the watch because the
	// requested revision was compacted.
	CompactRevision int64
}

// Err returns a non-nil error for a terminal response.
func (r Response) Err() error {
	if !r.Canceled {
		return nil
	}
	if r.CancelReason == "" {
		return ErrWatchCanceled
	}
	return fmt.Errorf("%w: %s", ErrWatchCanceled, r.CancelReason)
}

// Callback receives responses for one subscription.
type Callback func(Response)

// Info describes a subscription for introspection.
type Info struct {
	Handle   Handle
	Range    wire.KeyRange
	State    State
	WatchID  int64
	Revision int64
}

// subscription is the registry record behind a Handle. Fields other than
// the atomics and the ready channel are guarded by the registry mutex.
type subscription struct {
	handle Handle
	kr     wire.KeyRange
	opts   subscribeOptions
	cb     Callback

	state   State
	watchID int64
	// sent is set once a create request for the subscription has been
	// written, after which StartRevision is no longer applied.
	sent bool

	cancelled atomic.Bool
	revision  atomic.Int64

	readyOnce sync.Once
	ready     chan struct{}
	err       error
}

func newSubscription(h Handle, kr wire.KeyRange, opts subscribeOptions, cb Callback) *subscription {
	return &subscription{
		handle:  h,
		kr:      kr,
		opts:    opts,
		cb:      cb,
		state:   StatePending,
		watchID: wire.InvalidWatchID,
		ready:   make(chan struct{}),
	}
}

// resolve wakes awaiters. The first call wins.
func (s *subscription) resolve(err error) {
	s.readyOnce.Do(func() {
		s.err = err
		close(s.ready)
	})
}

func (s *subscription) info() Info {
	return Info{
		Handle:   s.handle,
		Range:    s.kr,
		State:    s.state,
		WatchID:  s.watchID,
		Revision: s.revision.Load(),
	}
}
