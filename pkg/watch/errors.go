package watch

import "errors"

// Watch errors.
var (
	// ErrManagerClosed is returned by calls made after Close.
	ErrManagerClosed = errors.New("watch manager closed")

	// ErrWatchRejected is returned by SubscribeAndAwait when the peer
	// refuses the create request. The peer's reason is wrapped.
	ErrWatchRejected = errors.New("watch rejected")

	// ErrWatchCanceled is returned by SubscribeAndAwait when the
	// subscription is cancelled before the peer acknowledges it.
	ErrWatchCanceled = errors.New("watch canceled")

	// ErrEmptyKey is returned when subscribing to an empty key.
	ErrEmptyKey = errors.New("empty key")

	// ErrNilCallback is returned when subscribing without a callback.
	ErrNilCallback = errors.New("nil callback")
)
