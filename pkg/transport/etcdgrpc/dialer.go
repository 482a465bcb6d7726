package etcdgrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/resolver/manual"

	"github.com/kvwatch/kvwatch-go/pkg/transport"
	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// TokenMetadataKey is the outgoing metadata key carrying the bearer token.
const TokenMetadataKey = "token"

const (
	resolverScheme       = "kvwatch"
	roundRobinServiceCfg = `{"loadBalancingConfig":[{"round_robin":{}}]}`
)

// Errors.
var (
	ErrUnavailable = errors.New("no watch endpoint available")
	ErrClosed      = errors.New("dialer closed")
)

// Config configures a gRPC Dialer.
type Config struct {
	// Endpoints is the resolved address list (host:port).
	Endpoints []string

	// TLS enables transport security when non-nil.
	TLS *tls.Config

	// MaxMessageSize bounds received messages (default: 4 MiB).
	MaxMessageSize int

	// KeepAliveTime is the gRPC keepalive ping interval (default: 30s).
	KeepAliveTime time.Duration

	// KeepAliveTimeout is how long to wait for a ping ack (default: 10s).
	KeepAliveTimeout time.Duration

	// Tokens, when set, supplies the bearer token for each stream.
	Tokens transport.TokenSource
}

// Dialer opens watch streams over one shared grpc.ClientConn.
type Dialer struct {
	conn   *grpc.ClientConn
	client pb.WatchClient
	tokens transport.TokenSource

	mu     sync.Mutex
	closed bool
}

// NewDialer creates the client connection. No network I/O happens until
// the first Dial.
func NewDialer(cfg Config) (*Dialer, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, transport.ErrNoEndpoints
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	if cfg.KeepAliveTime == 0 {
		cfg.KeepAliveTime = 30 * time.Second
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 10 * time.Second
	}

	addrs := make([]resolver.Address, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		addrs = append(addrs, resolver.Address{Addr: ep})
	}
	r := manual.NewBuilderWithScheme(resolverScheme)
	r.InitialState(resolver.State{Addresses: addrs})

	creds := insecure.NewCredentials()
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS.Clone())
	}

	conn, err := grpc.NewClient(resolverScheme+":///watch",
		grpc.WithResolvers(r),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultServiceConfig(roundRobinServiceCfg),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepAliveTime,
			Timeout:             cfg.KeepAliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc client: %w", err)
	}

	return &Dialer{
		conn:   conn,
		client: pb.NewWatchClient(conn),
		tokens: cfg.Tokens,
	}, nil
}

// Dial waits for a ready connection within ctx and opens a Watch stream.
// The stream outlives ctx.
func (d *Dialer) Dial(ctx context.Context) (transport.Stream, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := d.waitReady(ctx); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	if d.tokens != nil {
		token, err := d.tokens.Token(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("token: %w", err)
		}
		sctx = metadata.AppendToOutgoingContext(sctx, TokenMetadataKey, token)
	}

	wc, err := d.client.Watch(sctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open watch stream: %w", err)
	}
	return &stream{wc: wc, cancel: cancel}, nil
}

func (d *Dialer) waitReady(ctx context.Context) error {
	d.conn.Connect()
	for {
		state := d.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure:
			return ErrUnavailable
		case connectivity.Shutdown:
			return ErrClosed
		}
		if !d.conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// Close closes the shared client connection. Open streams fail.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.conn.Close()
}

// stream adapts a Watch_WatchClient to transport.Stream.
type stream struct {
	wc     pb.Watch_WatchClient
	cancel context.CancelFunc
	once   sync.Once
}

func (s *stream) Send(req *wire.WatchRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return s.wc.Send(RequestToProto(req))
}

func (s *stream) Recv() (*wire.WatchResponse, error) {
	resp, err := s.wc.Recv()
	if err != nil {
		return nil, err
	}
	return ResponseFromProto(resp), nil
}

func (s *stream) CloseSend() error {
	return s.wc.CloseSend()
}

func (s *stream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Stream = (*stream)(nil)
)
