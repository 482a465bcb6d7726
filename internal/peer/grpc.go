package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/kvwatch/kvwatch-go/pkg/transport/etcdgrpc"
	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// ErrRunning is returned by Start on a running server.
var ErrRunning = errors.New("server already running")

// GRPCServer serves the etcd v3 Watch service from a Store.
type GRPCServer struct {
	*hub
	cfg Config

	mu      sync.Mutex
	addr    string
	srv     *grpc.Server
	serveWg sync.WaitGroup
}

// NewGRPCServer creates a gRPC peer server backed by store.
func NewGRPCServer(store *Store, cfg Config) *GRPCServer {
	return &GRPCServer{
		hub:  newHub(store, TransportGRPC, cfg.Token, cfg.Logger, cfg.Metrics),
		cfg:  cfg,
		addr: cfg.Address,
	}
}

// Watch implements etcdserverpb.WatchServer.
func (g *GRPCServer) Watch(ws pb.Watch_WatchServer) error {
	var token string
	if md, ok := metadata.FromIncomingContext(ws.Context()); ok {
		if v := md.Get(etcdgrpc.TokenMetadataKey); len(v) > 0 {
			token = v[0]
		}
	}

	recv := func() (*wire.WatchRequest, error) {
		for {
			in, err := ws.Recv()
			if err != nil {
				return nil, err
			}
			req, err := etcdgrpc.RequestFromProto(in)
			if err != nil {
				g.logger.Debug("ignoring request", "error", err)
				continue
			}
			req.Token = token
			return req, nil
		}
	}
	send := func(resp *wire.WatchResponse) error {
		return ws.Send(etcdgrpc.ResponseToProto(resp))
	}

	err := g.serve(ws.Context(), recv, send, func() {})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start listens and serves. A stopped server restarts on the address it
// was first bound to.
func (g *GRPCServer) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.srv != nil {
		return ErrRunning
	}

	lis, err := (&net.ListenConfig{}).Listen(ctx, "tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	g.addr = lis.Addr().String()

	var opts []grpc.ServerOption
	if g.cfg.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(g.cfg.TLS)))
	}
	srv := grpc.NewServer(opts...)
	pb.RegisterWatchServer(srv, g)

	g.srv = srv
	g.serveWg.Add(1)
	go func() {
		defer g.serveWg.Done()
		if err := srv.Serve(lis); err != nil {
			g.logger.Warn("serve ended", "error", err)
		}
	}()
	g.logger.Info("listening", "address", g.addr)
	return nil
}

// Stop closes the listener and aborts every stream.
func (g *GRPCServer) Stop() error {
	g.mu.Lock()
	srv := g.srv
	g.srv = nil
	g.mu.Unlock()

	if srv == nil {
		return nil
	}
	srv.Stop()
	g.serveWg.Wait()
	return nil
}

// Addr returns the listen address.
func (g *GRPCServer) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Evict cancels every watch from the peer side with reason.
func (g *GRPCServer) Evict(reason string) int {
	return g.evict(reason)
}

// SessionCount returns the number of open streams.
func (g *GRPCServer) SessionCount() int {
	return g.sessionCount()
}

var _ pb.WatchServer = (*GRPCServer)(nil)
