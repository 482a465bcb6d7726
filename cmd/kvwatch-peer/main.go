// Command kvwatch-peer runs an in-memory revisioned key-value store that
// serves watches over the framed protocol and the etcd v3 gRPC Watch
// service. It exists to exercise kvwatch clients: keys are changed from an
// interactive shell, and connections can be dropped or watches evicted on
// demand.
//
// Usage:
//
//	kvwatch-peer [flags]
//
// Examples:
//
//	# Framed protocol on the default port, gRPC on 2379, metrics on 9181
//	kvwatch-peer --grpc-listen :2379 --metrics-listen :9181 --interactive
//
//	# Require a token and TLS
//	kvwatch-peer --token s3cret --cert peer.pem --key peer-key.pem
//
// Interactive commands:
//
//	put <key> <value>   Store a value
//	del <key>           Delete a key
//	get <key>           Show a key
//	compact <rev>       Discard history up to rev
//	drop                Sever every framed connection
//	evict [reason]      Cancel every watch from the peer side
//	status              Show revision, sessions and watches
//	quit                Exit
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kvwatch/kvwatch-go/internal/peer"
	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/transport"
)

// Config holds the peer's command-line configuration.
type Config struct {
	Listen        string
	GRPCListen    string
	MetricsListen string
	Token         string
	TLS           transport.TLSConfig
	LogLevel      string
	ProtocolLog   string
	Interactive   bool
}

func parseFlags() *Config {
	var cfg Config
	flag.StringVarP(&cfg.Listen, "listen", "l", net.JoinHostPort("", strconv.Itoa(transport.DefaultPort)), "Framed protocol listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", "", "gRPC Watch service listen address (disabled if empty)")
	flag.StringVar(&cfg.MetricsListen, "metrics-listen", "", "Prometheus /metrics listen address (disabled if empty)")
	flag.StringVar(&cfg.Token, "token", "", "Token required on every create request")
	flag.StringVar(&cfg.TLS.CertFile, "cert", "", "Server certificate (PEM); enables TLS")
	flag.StringVar(&cfg.TLS.KeyFile, "key", "", "Server private key (PEM)")
	flag.StringVar(&cfg.TLS.CAFile, "ca", "", "CA bundle for client certificate verification")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.ProtocolLog, "protocol-log", "", "Write framed transport events to this trace file")
	flag.BoolVarP(&cfg.Interactive, "interactive", "i", false, "Enable interactive command mode")
	flag.Parse()
	return &cfg
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "kvwatch-peer: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	store := peer.NewStore()

	// The shell owns the terminal, so logs go through it when enabled.
	var sh *shell
	logOut := io.Writer(os.Stderr)
	if cfg.Interactive {
		var err error
		if sh, err = newShell(store); err != nil {
			return err
		}
		logOut = sh.Stdout()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tlsConfig *tls.Config
	if cfg.TLS.CertFile != "" {
		var err error
		if tlsConfig, err = transport.NewServerTLSConfig(&cfg.TLS); err != nil {
			return err
		}
	}

	var plog log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fl.Close()
		plog = fl
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := peer.NewMetrics(reg, store)

	framed, err := peer.NewServer(store, peer.Config{
		Address:        cfg.Listen,
		TLS:            tlsConfig,
		Token:          cfg.Token,
		Logger:         logger.With("transport", peer.TransportFramed),
		ProtocolLogger: plog,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := framed.Start(ctx); err != nil {
		return fmt.Errorf("start framed server: %w", err)
	}
	logger.Info("framed watch server listening", "addr", framed.Addr())
	g.Go(func() error {
		<-ctx.Done()
		return framed.Stop()
	})

	var grpcSrv *peer.GRPCServer
	if cfg.GRPCListen != "" {
		var grpcTLS *tls.Config
		if tlsConfig != nil {
			grpcTLS = tlsConfig.Clone()
			grpcTLS.NextProtos = nil
		}
		grpcSrv = peer.NewGRPCServer(store, peer.Config{
			Address: cfg.GRPCListen,
			TLS:     grpcTLS,
			Token:   cfg.Token,
			Logger:  logger.With("transport", peer.TransportGRPC),
			Metrics: metrics,
		})
		if err := grpcSrv.Start(ctx); err != nil {
			return fmt.Errorf("start grpc server: %w", err)
		}
		logger.Info("grpc watch server listening", "addr", grpcSrv.Addr())
		g.Go(func() error {
			<-ctx.Done()
			return grpcSrv.Stop()
		})
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		hs := &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsListen)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	if sh != nil {
		sh.framed, sh.grpc = framed, grpcSrv
		g.Go(func() error {
			sh.Run(ctx)
			stop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("shut down", "revision", store.Rev())
	return err
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
