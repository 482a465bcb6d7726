package watch

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kvwatch/kvwatch-go/pkg/connection"
	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// DefaultDrainTimeout bounds how long Close waits for the peer to confirm
// cancellations after half-closing the stream.
const DefaultDrainTimeout = 250 * time.Millisecond

type managerOptions struct {
	logger         *slog.Logger
	protocolLogger log.Logger
	backoff        connection.BackoffConfig
	clock          clockwork.Clock
	drainTimeout   time.Duration
	attemptTimeout time.Duration
	metrics        *Metrics
}

func defaultManagerOptions() managerOptions {
	return managerOptions{
		logger:         slog.Default(),
		backoff:        connection.DefaultBackoffConfig(),
		clock:          clockwork.NewRealClock(),
		drainTimeout:   DefaultDrainTimeout,
		attemptTimeout: connection.DefaultAttemptTimeout,
	}
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProtocolLogger records every frame the Manager sends and receives,
// and every session and subscription state change.
func WithProtocolLogger(l log.Logger) Option {
	return func(o *managerOptions) {
		o.protocolLogger = l
	}
}

// WithBackoff sets the reconnection backoff.
func WithBackoff(cfg connection.BackoffConfig) Option {
	return func(o *managerOptions) {
		o.backoff = cfg
	}
}

// WithClock sets the clock used for backoff waits.
func WithClock(c clockwork.Clock) Option {
	return func(o *managerOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithDrainTimeout sets how long Close waits for the stream to drain.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		o.drainTimeout = d
	}
}

// WithAttemptTimeout bounds each reconnection dial. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		o.attemptTimeout = d
	}
}

// WithMetrics records stream and subscription metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *managerOptions) {
		o.metrics = m
	}
}

type subscribeOptions struct {
	rangeEnd      string
	prefix        bool
	fromKey       bool
	startRevision int64
	prevKV        bool
	filters       []wire.FilterType
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeOptions)

// WithRange watches [key, end).
func WithRange(end string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.rangeEnd = end
	}
}

// WithPrefix watches every key starting with key.
func WithPrefix() SubscribeOption {
	return func(o *subscribeOptions) {
		o.prefix = true
	}
}

// WithFromKey watches every key greater than or equal to key.
func WithFromKey() SubscribeOption {
	return func(o *subscribeOptions) {
		o.fromKey = true
	}
}

// WithRevision starts the first creation of the watch at rev, replaying
// history the peer still holds. Reconnects do not reapply it.
func WithRevision(rev int64) SubscribeOption {
	return func(o *subscribeOptions) {
		o.startRevision = rev
	}
}

// WithPrevKV asks the peer to include the previous key-value in events.
func WithPrevKV() SubscribeOption {
	return func(o *subscribeOptions) {
		o.prevKV = true
	}
}

// WithFilterPut suppresses put events.
func WithFilterPut() SubscribeOption {
	return func(o *subscribeOptions) {
		o.filters = append(o.filters, wire.FilterNoPut)
	}
}

// WithFilterDelete suppresses delete events.
func WithFilterDelete() SubscribeOption {
	return func(o *subscribeOptions) {
		o.filters = append(o.filters, wire.FilterNoDelete)
	}
}

// keyRange resolves the watched range. Prefix wins over FromKey, which
// wins over an explicit range end.
func (o subscribeOptions) keyRange(key string) wire.KeyRange {
	switch {
	case o.prefix:
		return wire.Prefix(key)
	case o.fromKey:
		return wire.FromKey(key)
	default:
		return wire.KeyRange{Key: key, RangeEnd: o.rangeEnd}
	}
}
