package transport

import (
	"context"
	"crypto/tls"
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

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("server already running")

// StreamHandler serves one accepted stream. It returns when the stream is
// done; the server closes the connection afterwards. ctx is cancelled when
// the server stops.
type StreamHandler func(ctx context.Context, s *ServerStream)

// ServerConfig configures a framed watch server.
type ServerConfig struct {
	// Address to listen on (e.g., ":2381" or "127.0.0.1:0").
	Address string

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	// MaxMessageSize is the maximum message size (default: 4 MiB).
	MaxMessageSize uint32

	// Logger for protocol logging (optional).
	Logger log.Logger

	// Handler serves each accepted stream. Required.
	Handler StreamHandler

	// OnError is called for accept and handshake errors.
	OnError func(err error)
}

// Server accepts framed watch streams.
//
// A stopped server can be started again; it rebinds the address it was
// first bound to, so clients see a restart rather than a move.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerStream]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new framed watch server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerStream]struct{}),
	}, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.config.Address = listener.Addr().String()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	s.cancel()
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()

	return nil
}

// DropConnections closes every active connection without stopping the
// listener. It returns the number of connections closed.
func (s *Server) DropConnections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	return len(s.conns)
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.reportError(fmt.Errorf("accept error: %w", err))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) reportError(err error) {
	if s.config.OnError != nil {
		s.config.OnError(err)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	if s.config.TLS != nil {
		tlsConn := tls.Server(conn, s.config.TLS)
		if err := tlsConn.HandshakeContext(s.ctx); err != nil {
			conn.Close()
			s.reportError(fmt.Errorf("TLS handshake failed: %w", err))
			return
		}
		if err := VerifyALPN(tlsConn.ConnectionState()); err != nil {
			tlsConn.Close()
			s.reportError(err)
			return
		}
		conn = tlsConn
	}

	connID := uuid.New().String()
	framer := NewFramerWithMaxSize(conn, s.config.MaxMessageSize)
	if s.config.Logger != nil {
		framer.SetLogger(s.config.Logger, connID)
	}

	stream := &ServerStream{
		conn:   conn,
		framer: framer,
		connID: connID,
	}

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		conn.Close()
		return
	}
	s.conns[stream] = struct{}{}
	s.connsMu.Unlock()

	s.logState(connID, conn.RemoteAddr(), "", "CONNECTED")

	s.config.Handler(s.ctx, stream)

	s.connsMu.Lock()
	delete(s.conns, stream)
	s.connsMu.Unlock()
	stream.Close()

	s.logState(connID, conn.RemoteAddr(), "CONNECTED", "DISCONNECTED")
}

func (s *Server) logState(connID string, remote net.Addr, oldState, newState string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   remote.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// ServerStream is the server side of one framed watch stream.
type ServerStream struct {
	conn      net.Conn
	framer    *Framer
	connID    string
	closeOnce sync.Once
}

// ConnID returns the unique connection identifier.
func (c *ServerStream) ConnID() string {
	return c.connID
}

// RemoteAddr returns the remote address of the client.
func (c *ServerStream) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Recv reads the next request. It returns io.EOF when the client half-closes.
func (c *ServerStream) Recv() (*wire.WatchRequest, error) {
	data, err := c.framer.ReadFrame()
	if err != nil {
		return nil, err
	}
	return wire.DecodeRequest(data)
}

// Send writes one response. Safe for concurrent use.
func (c *ServerStream) Send(resp *wire.WatchResponse) error {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.framer.WriteFrame(data)
}

// Close closes the connection.
func (c *ServerStream) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
