package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Stream errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendClosed       = errors.New("send side closed")
)

// FramedStream is a Stream over a net.Conn carrying length-prefixed CBOR frames.
type FramedStream struct {
	conn   net.Conn
	framer *Framer
	connID string
	tokens TokenSource
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sendClosed atomic.Bool
	closeOnce  sync.Once
}

// StreamOptions configures a FramedStream.
type StreamOptions struct {
	// MaxMessageSize bounds frames in both directions (default: 4 MiB).
	MaxMessageSize uint32

	// Tokens, when set, stamps every outbound request's Token field.
	Tokens TokenSource

	// Logger receives transport-layer frame and state events.
	Logger log.Logger
}

// NewFramedStream wraps an established connection.
func NewFramedStream(conn net.Conn, opts StreamOptions) *FramedStream {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}

	s := &FramedStream{
		conn:   conn,
		framer: NewFramerWithMaxSize(conn, opts.MaxMessageSize),
		connID: uuid.New().String(),
		tokens: opts.Tokens,
		logger: opts.Logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if s.logger != nil {
		s.framer.SetLogger(s.logger, s.connID)
		s.logState("", "CONNECTED", nil)
	}
	return s
}

// ConnID returns the unique connection identifier used in protocol logs.
func (s *FramedStream) ConnID() string {
	return s.connID
}

// RemoteAddr returns the peer address.
func (s *FramedStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Send encodes and writes one request frame.
func (s *FramedStream) Send(req *wire.WatchRequest) error {
	if s.sendClosed.Load() {
		return ErrSendClosed
	}
	select {
	case <-s.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	if s.tokens != nil {
		token, err := s.tokens.Token(s.ctx)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		stamped := *req
		stamped.Token = token
		req = &stamped
	}

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}
	return s.framer.WriteFrame(data)
}

// Recv reads and decodes one response frame.
func (s *FramedStream) Recv() (*wire.WatchResponse, error) {
	data, err := s.framer.ReadFrame()
	if err != nil {
		select {
		case <-s.ctx.Done():
			return nil, ErrConnectionClosed
		default:
		}
		return nil, err
	}
	return wire.DecodeResponse(data)
}

// CloseSend half-closes the connection when the underlying conn supports it.
func (s *FramedStream) CloseSend() error {
	if s.sendClosed.Swap(true) {
		return nil
	}
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Close closes the connection.
func (s *FramedStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
		if s.logger != nil {
			s.logState("CONNECTED", "DISCONNECTED", err)
		}
	})
	return err
}

func (s *FramedStream) logState(oldState, newState string, err error) {
	sc := &log.StateChangeEvent{
		Entity:   log.StateEntitySession,
		OldState: oldState,
		NewState: newState,
	}
	if err != nil {
		sc.Reason = err.Error()
	}
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   s.conn.RemoteAddr().String(),
		StateChange:  sc,
	})
}
