package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/kvwatch/kvwatch-go/pkg/log"
)

// Dialer defaults.
const (
	// DefaultConnectTimeout bounds dialing a single endpoint.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultKeepAlive is the TCP keep-alive period.
	DefaultKeepAlive = 30 * time.Second
)

// ErrNoEndpoints indicates a dialer was configured without addresses.
var ErrNoEndpoints = errors.New("no endpoints configured")

// DialerConfig configures a FramedDialer.
type DialerConfig struct {
	// Endpoints is the resolved address list (host:port).
	Endpoints []string

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	// MaxMessageSize bounds frames (default: 4 MiB).
	MaxMessageSize uint32

	// ConnectTimeout bounds each endpoint attempt (default: 5s).
	ConnectTimeout time.Duration

	// KeepAlive is the TCP keep-alive period (default: 30s, negative disables).
	KeepAlive time.Duration

	// Tokens stamps outbound requests when set.
	Tokens TokenSource

	// Logger receives transport-layer protocol events.
	Logger log.Logger
}

// FramedDialer opens FramedStreams, rotating through its endpoints so
// successive dials start at the next address.
type FramedDialer struct {
	config DialerConfig
	next   atomic.Uint32
}

// NewFramedDialer creates a dialer for the framed watch protocol.
func NewFramedDialer(config DialerConfig) (*FramedDialer, error) {
	if len(config.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.KeepAlive == 0 {
		config.KeepAlive = DefaultKeepAlive
	}
	config.Endpoints = append([]string(nil), config.Endpoints...)
	return &FramedDialer{config: config}, nil
}

// Dial tries each endpoint once, starting after the one used last time.
func (d *FramedDialer) Dial(ctx context.Context) (Stream, error) {
	eps := d.config.Endpoints
	start := int(d.next.Add(1)-1) % len(eps)

	var errs []error
	for i := range eps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr := eps[(start+i)%len(eps)]
		conn, err := d.dialEndpoint(ctx, addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		return NewFramedStream(conn, StreamOptions{
			MaxMessageSize: d.config.MaxMessageSize,
			Tokens:         d.config.Tokens,
			Logger:         d.config.Logger,
		}), nil
	}
	return nil, fmt.Errorf("dial failed: %w", errors.Join(errs...))
}

func (d *FramedDialer) dialEndpoint(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{KeepAlive: d.config.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if d.config.TLS == nil {
		return conn, nil
	}

	tlsConf := d.config.TLS.Clone()
	if tlsConf.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConf.ServerName = host
		}
	}
	tlsConn := tls.Client(conn, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	if err := VerifyALPN(tlsConn.ConnectionState()); err != nil {
		tlsConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
