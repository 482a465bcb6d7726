package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// ackHandler answers every create with a Created ack carrying a fresh id and
// records the tokens it saw.
type ackHandler struct {
	mu     sync.Mutex
	tokens []string
	nextID int64
}

func (h *ackHandler) serve(_ context.Context, s *ServerStream) {
	for {
		req, err := s.Recv()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.tokens = append(h.tokens, req.Token)
		id := h.nextID
		h.nextID++
		h.mu.Unlock()

		switch {
		case req.Create != nil:
			_ = s.Send(&wire.WatchResponse{WatchID: id, Created: true})
		case req.Cancel != nil:
			_ = s.Send(&wire.WatchResponse{WatchID: req.Cancel.WatchID, Canceled: true})
		}
	}
}

func (h *ackHandler) seenTokens() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.tokens...)
}

func startServer(t *testing.T, h StreamHandler) *Server {
	t.Helper()

	srv, err := NewServer(ServerConfig{Address: "127.0.0.1:0", Handler: h})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestServerRequiresHandler(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer should fail without a handler")
	}
}

func TestDialerStreamRoundTrip(t *testing.T) {
	h := &ackHandler{nextID: 1}
	srv := startServer(t, h.serve)

	d, err := NewFramedDialer(DialerConfig{
		Endpoints: []string{srv.Addr().String()},
		Tokens:    StaticToken("secret"),
	})
	if err != nil {
		t.Fatalf("NewFramedDialer failed: %v", err)
	}

	stream, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	if err := stream.Send(wire.NewCreateRequest(wire.SingleKey("k"))); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if resp.Kind() != wire.ResponseCreated || resp.WatchID != 1 {
		t.Errorf("response = %+v, want Created id 1", resp)
	}

	if err := stream.Send(wire.NewCancelRequest(1)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	resp, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if resp.Kind() != wire.ResponseCanceled {
		t.Errorf("Kind = %v, want CANCELED", resp.Kind())
	}

	tokens := h.seenTokens()
	if len(tokens) != 2 || tokens[0] != "secret" || tokens[1] != "secret" {
		t.Errorf("tokens = %v, want [secret secret]", tokens)
	}
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 })
}

func TestStreamCloseSend(t *testing.T) {
	h := &ackHandler{}
	srv := startServer(t, h.serve)

	d, _ := NewFramedDialer(DialerConfig{Endpoints: []string{srv.Addr().String()}})
	stream, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}
	if err := stream.Send(wire.NewCancelRequest(1)); !errors.Is(err, ErrSendClosed) {
		t.Errorf("Send after CloseSend = %v, want ErrSendClosed", err)
	}

	// The handler returns on EOF and the server closes its side.
	if _, err := stream.Recv(); err == nil {
		t.Error("Recv should fail once the server finishes")
	}
}

func TestStreamCloseUnblocksRecv(t *testing.T) {
	h := &ackHandler{}
	srv := startServer(t, h.serve)

	d, _ := NewFramedDialer(DialerConfig{Endpoints: []string{srv.Addr().String()}})
	stream, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errCh <- err
	}()

	stream.Close()
	stream.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("Recv error = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestServerDropConnections(t *testing.T) {
	h := &ackHandler{}
	srv := startServer(t, h.serve)

	d, _ := NewFramedDialer(DialerConfig{Endpoints: []string{srv.Addr().String()}})
	stream, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()
	waitFor(t, func() bool { return srv.ConnectionCount() == 1 })

	if n := srv.DropConnections(); n != 1 {
		t.Errorf("DropConnections() = %d, want 1", n)
	}
	if _, err := stream.Recv(); err == nil {
		t.Error("Recv should fail after the server drops the connection")
	}

	// The listener survives, so a new dial succeeds.
	again, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial after drop failed: %v", err)
	}
	again.Close()
}

func TestServerRestartKeepsAddress(t *testing.T) {
	h := &ackHandler{}
	srv := startServer(t, h.serve)
	addr := srv.Addr().String()

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("dial should fail while stopped")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if srv.Addr().String() != addr {
		t.Errorf("Addr after restart = %s, want %s", srv.Addr(), addr)
	}
	if err := srv.Start(context.Background()); !errors.Is(err, ErrServerRunning) {
		t.Errorf("second Start = %v, want ErrServerRunning", err)
	}
}

func TestDialerRotatesEndpoints(t *testing.T) {
	h := &ackHandler{}
	srv := startServer(t, h.serve)

	// A listener that is closed immediately gives a refused address.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	dead := l.Addr().String()
	l.Close()

	d, _ := NewFramedDialer(DialerConfig{
		Endpoints:      []string{dead, srv.Addr().String()},
		ConnectTimeout: time.Second,
	})

	for i := 0; i < 3; i++ {
		stream, err := d.Dial(context.Background())
		if err != nil {
			t.Fatalf("Dial %d failed: %v", i, err)
		}
		fs := stream.(*FramedStream)
		if fs.RemoteAddr().String() != srv.Addr().String() {
			t.Errorf("Dial %d connected to %s", i, fs.RemoteAddr())
		}
		stream.Close()
	}
}

func TestDialerAllEndpointsDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	dead := l.Addr().String()
	l.Close()

	d, _ := NewFramedDialer(DialerConfig{Endpoints: []string{dead}, ConnectTimeout: time.Second})
	if _, err := d.Dial(context.Background()); err == nil {
		t.Error("Dial should fail when no endpoint is reachable")
	}
}

func TestNewFramedDialerNoEndpoints(t *testing.T) {
	if _, err := NewFramedDialer(DialerConfig{}); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("error = %v, want ErrNoEndpoints", err)
	}
}

func TestFramedStreamOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	logger := &capturingLogger{}
	stream := NewFramedStream(client, StreamOptions{Logger: logger})
	defer stream.Close()

	go func() {
		framer := NewFramer(server)
		data, err := framer.ReadFrame()
		if err != nil {
			return
		}
		req, err := wire.DecodeRequest(data)
		if err != nil {
			return
		}
		out, _ := wire.EncodeResponse(&wire.WatchResponse{WatchID: req.Cancel.WatchID, Canceled: true})
		_ = framer.WriteFrame(out)
		_, _ = io.Copy(io.Discard, server)
	}()

	if err := stream.Send(wire.NewCancelRequest(9)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if resp.WatchID != 9 || !resp.Canceled {
		t.Errorf("response = %+v", resp)
	}

	// net.Pipe has no half-close; CloseSend only blocks further sends.
	if err := stream.CloseSend(); err != nil {
		t.Errorf("CloseSend failed: %v", err)
	}

	// CONNECTED state + out frame + in frame.
	if n := len(logger.Events()); n != 3 {
		t.Errorf("logged %d events, want 3", n)
	}
}
