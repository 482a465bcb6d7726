package watch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kvwatch/kvwatch-go/pkg/connection"
	"github.com/kvwatch/kvwatch-go/pkg/transport"
)

// Manager multiplexes subscriptions over one watch stream. It is safe for
// concurrent use.
type Manager struct {
	opts   managerOptions
	reg    *registry
	stream *stream

	lastHandle atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewManager creates a Manager that opens streams with dialer. No I/O
// happens until the first Subscribe.
func NewManager(dialer transport.Dialer, opts ...Option) *Manager {
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		opts: o,
		reg:  newRegistry(),
	}
	m.stream = newStream(dialer, m.reg, o)
	return m
}

// Subscribe watches key and returns as soon as the create request is
// queued. The first call opens the stream and returns any dial error;
// ctx bounds that dial. cb receives responses in arrival order until the
// handle is cancelled.
func (m *Manager) Subscribe(ctx context.Context, key string, cb Callback, opts ...SubscribeOption) (Handle, error) {
	sub, err := m.subscribe(ctx, key, cb, opts)
	if err != nil {
		return 0, err
	}
	return sub.handle, nil
}

// SubscribePrefix watches every key that starts with prefix. An empty
// prefix watches the whole key space.
func (m *Manager) SubscribePrefix(ctx context.Context, prefix string, cb Callback, opts ...SubscribeOption) (Handle, error) {
	return m.Subscribe(ctx, prefix, cb, append(opts, WithPrefix())...)
}

// SubscribeAndAwait is Subscribe that also waits for the peer to
// acknowledge the watch. If ctx ends first the subscription is cancelled
// and ctx's error returned. A refused watch returns ErrWatchRejected.
func (m *Manager) SubscribeAndAwait(ctx context.Context, key string, cb Callback, opts ...SubscribeOption) (Handle, error) {
	sub, err := m.subscribe(ctx, key, cb, opts)
	if err != nil {
		return 0, err
	}

	select {
	case <-sub.ready:
		if sub.err != nil {
			return 0, sub.err
		}
		return sub.handle, nil
	case <-ctx.Done():
		m.Cancel(sub.handle)
		return 0, ctx.Err()
	}
}

func (m *Manager) subscribe(ctx context.Context, key string, cb Callback, opts []SubscribeOption) (*subscription, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if cb == nil {
		return nil, ErrNilCallback
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}
	kr := o.keyRange(key)
	if kr.Key == "" {
		return nil, ErrEmptyKey
	}

	if err := m.stream.ensure(ctx); err != nil {
		return nil, err
	}

	sub := newSubscription(Handle(m.lastHandle.Add(1)), kr, o, cb)
	if err := m.stream.subscribe(sub); err != nil {
		return nil, err
	}
	m.opts.logger.Debug("subscribed", "handle", sub.handle, "range", kr.String())
	return sub, nil
}

// Cancel stops the given subscriptions. Callbacks run on the read loop,
// which checks the handle immediately before each call: once Cancel
// returns, the only response that can still reach the callback is one
// whose check had already passed, and it is the last. Cancel called from
// the handle's own callback ends delivery outright. Unknown or already
// cancelled handles are ignored.
func (m *Manager) Cancel(handles ...Handle) {
	for _, h := range handles {
		if m.stream.cancel(h) {
			m.opts.logger.Debug("cancelled", "handle", h)
		}
	}
}

// State returns the stream's connection state.
func (m *Manager) State() connection.State {
	return m.stream.ctrl.State()
}

// Lookup describes a live subscription.
func (m *Manager) Lookup(h Handle) (Info, bool) {
	return m.reg.get(h)
}

// Subscriptions describes every live subscription in handle order.
func (m *Manager) Subscriptions() []Info {
	return m.reg.list()
}

// Close cancels every subscription, lets the peer confirm for up to the
// drain timeout, and releases the stream. Every handle becomes inert.
// Close is idempotent. It must not be called from a Callback.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.stream.close(m.opts.drainTimeout)
	})
	return nil
}
