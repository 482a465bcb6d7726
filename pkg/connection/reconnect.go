package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotBroken        = errors.New("connection not broken")
)

// DefaultAttemptTimeout bounds a single reconnection attempt.
const DefaultAttemptTimeout = 10 * time.Second

// State represents the lifecycle state of a watch stream session.
type State uint8

const (
	// StateIdle indicates no stream has been opened yet.
	StateIdle State = iota

	// StateConnecting indicates the first stream is being opened.
	StateConnecting

	// StateConnected indicates an active stream.
	StateConnected

	// StateBroken indicates the stream failed and has been abandoned.
	StateBroken

	// StateReconnecting indicates reconnection with backoff is in progress.
	StateReconnecting

	// StateClosed indicates the controller has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateBroken:
		return "BROKEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc is called to establish a session.
// It should return nil on success or an error on failure.
type ConnectFunc func(ctx context.Context) error

// Controller tracks session state and drives reconnection with backoff.
//
// Controller does not own a goroutine. Connect and Reconnect run on the
// caller's goroutine, which lets the watch stream's supervisor loop read,
// break and reconnect without handing off state.
type Controller struct {
	mu sync.RWMutex

	state State

	backoff        *Backoff
	clock          clockwork.Clock
	connectFn      ConnectFunc
	attemptTimeout time.Duration

	// Closed when the controller is closed; wakes backoff waits.
	done chan struct{}

	onStateChange  func(oldState, newState State, reason error)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewController creates a controller that uses connectFn for every attempt.
// A nil backoff uses NewBackoff and a nil clock uses the real clock.
func NewController(connectFn ConnectFunc, backoff *Backoff, clock clockwork.Clock) *Controller {
	if backoff == nil {
		backoff = NewBackoff()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		state:          StateIdle,
		backoff:        backoff,
		clock:          clock,
		connectFn:      connectFn,
		attemptTimeout: DefaultAttemptTimeout,
		done:           make(chan struct{}),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetAttemptTimeout bounds each reconnection attempt. Zero disables the bound.
func (c *Controller) SetAttemptTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attemptTimeout = d
}

// OnStateChange sets a callback for state changes. The callback runs on the
// goroutine that caused the transition, with no controller locks held.
func (c *Controller) OnStateChange(fn func(oldState, newState State, reason error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnReconnecting sets a callback invoked before each backoff wait.
func (c *Controller) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnecting = fn
}

// transition moves to newState unless the controller is closed or the current
// state is not one of from. It reports whether the move happened.
func (c *Controller) transition(newState State, reason error, from ...State) (State, bool) {
	c.mu.Lock()
	old := c.state
	if old == StateClosed {
		c.mu.Unlock()
		return old, false
	}
	if len(from) > 0 {
		allowed := false
		for _, s := range from {
			if old == s {
				allowed = true
				break
			}
		}
		if !allowed {
			c.mu.Unlock()
			return old, false
		}
	}
	c.state = newState
	cb := c.onStateChange
	c.mu.Unlock()

	if cb != nil && old != newState {
		cb(old, newState, reason)
	}
	return old, true
}

// Connect opens the first session. On failure the controller returns to Idle
// so a later Connect can retry; no backoff applies to this path.
func (c *Controller) Connect(ctx context.Context) error {
	old, ok := c.transition(StateConnecting, nil, StateIdle)
	if !ok {
		switch old {
		case StateClosed:
			return ErrConnectionClosed
		default:
			return ErrAlreadyConnected
		}
	}

	if err := c.connectFn(ctx); err != nil {
		c.transition(StateIdle, err, StateConnecting)
		return err
	}

	if _, ok := c.transition(StateConnected, nil, StateConnecting); !ok {
		return ErrConnectionClosed
	}
	c.backoff.Reset()
	return nil
}

// ConnectionLost marks the active session broken. It returns false when the
// controller was not connected (for example, already closed).
func (c *Controller) ConnectionLost(reason error) bool {
	_, ok := c.transition(StateBroken, reason, StateConnected)
	return ok
}

// Reconnect retries connectFn with backoff until it succeeds, ctx is done, or
// the controller is closed. Attempts are unbounded.
func (c *Controller) Reconnect(ctx context.Context) error {
	if old, ok := c.transition(StateReconnecting, nil, StateBroken); !ok {
		if old == StateClosed {
			return ErrConnectionClosed
		}
		return ErrNotBroken
	}

	for {
		delay := c.backoff.Next()
		attempt := c.backoff.Attempts()

		c.mu.RLock()
		onReconnecting := c.onReconnecting
		timeout := c.attemptTimeout
		c.mu.RUnlock()
		if onReconnecting != nil {
			onReconnecting(attempt, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrConnectionClosed
		case <-c.clock.After(delay):
		}

		if c.State() == StateClosed {
			return ErrConnectionClosed
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := c.connectFn(attemptCtx)
		cancel()

		if err == nil {
			if _, ok := c.transition(StateConnected, nil, StateReconnecting); !ok {
				return ErrConnectionClosed
			}
			c.backoff.Reset()
			return nil
		}
	}
}

// Close moves the controller to Closed and wakes any backoff wait.
// It returns the state the controller was in. Close is idempotent.
func (c *Controller) Close() State {
	old, ok := c.transition(StateClosed, nil)
	if ok {
		close(c.done)
	}
	return old
}

// Done is closed once the controller is closed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}
