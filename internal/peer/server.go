package peer

import (
	"context"
	"crypto/tls"
	"log/slog"

	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/transport"
)

// Config configures a peer server.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:0").
	Address string

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	// Token, when non-empty, is required on every create request.
	Token string

	// Logger for operational logging (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives framed transport events (optional).
	ProtocolLogger log.Logger

	// Metrics records session and request counts (optional).
	Metrics *Metrics
}

// Server serves the framed watch protocol from a Store.
type Server struct {
	*hub
	ts *transport.Server
}

// NewServer creates a framed peer server backed by store.
func NewServer(store *Store, cfg Config) (*Server, error) {
	s := &Server{hub: newHub(store, TransportFramed, cfg.Token, cfg.Logger, cfg.Metrics)}

	ts, err := transport.NewServer(transport.ServerConfig{
		Address: cfg.Address,
		TLS:     cfg.TLS,
		Logger:  cfg.ProtocolLogger,
		Handler: s.handle,
		OnError: func(err error) {
			s.logger.Warn("connection error", "error", err)
		},
	})
	if err != nil {
		return nil, err
	}
	s.ts = ts
	return s, nil
}

func (s *Server) handle(ctx context.Context, ss *transport.ServerStream) {
	s.logger.Debug("stream opened", "conn_id", ss.ConnID(), "remote", ss.RemoteAddr().String())
	_ = s.serve(ctx, ss.Recv, ss.Send, func() { ss.Close() })
	s.logger.Debug("stream closed", "conn_id", ss.ConnID())
}

// Start begins accepting connections. A stopped server restarts on the
// same address.
func (s *Server) Start(ctx context.Context) error {
	return s.ts.Start(ctx)
}

// Stop closes the listener and every connection.
func (s *Server) Stop() error {
	return s.ts.Stop()
}

// Addr returns the listen address, or "" before the first Start.
func (s *Server) Addr() string {
	if a := s.ts.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// DropConnections severs every client stream while keeping the listener,
// simulating a network partition.
func (s *Server) DropConnections() int {
	return s.ts.DropConnections()
}

// Evict cancels every watch from the peer side with reason, as a store does
// after compaction or for a slow consumer.
func (s *Server) Evict(reason string) int {
	return s.evict(reason)
}

// SessionCount returns the number of open streams.
func (s *Server) SessionCount() int {
	return s.sessionCount()
}

// WatchCount returns the number of live watches across all streams.
func (s *Server) WatchCount() int {
	return s.watchCount()
}
