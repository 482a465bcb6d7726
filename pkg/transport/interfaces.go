package transport

import (
	"context"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Stream is one physical bidirectional watch stream.
//
// Send may be called concurrently with Recv, but callers serialize Send
// themselves. After Close every pending and future call returns an error.
type Stream interface {
	// Send writes one request frame.
	Send(req *wire.WatchRequest) error

	// Recv blocks for the next response frame.
	Recv() (*wire.WatchResponse, error)

	// CloseSend half-closes the stream; Recv keeps working until the peer
	// finishes.
	CloseSend() error

	// Close releases the stream. Safe to call more than once.
	Close() error
}

// Dialer opens new watch streams.
type Dialer interface {
	// Dial opens a stream. ctx bounds establishment only; the returned
	// stream lives until closed.
	Dial(ctx context.Context) (Stream, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Stream, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Stream, error) {
	return f(ctx)
}

// TokenSource supplies the bearer credential stamped onto outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Stream      = (*FramedStream)(nil)
	_ Dialer      = (*FramedDialer)(nil)
	_ Dialer      = DialerFunc(nil)
	_ TokenSource = StaticToken("")
	_ TokenSource = (*FileToken)(nil)
)
