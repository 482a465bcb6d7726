// Command kvwatch watches keys on a kvwatch or etcd v3 peer and prints every
// change. All watches share one stream that survives peer restarts and
// network failures.
//
// Usage:
//
//	kvwatch [flags] [key...]
//
// Keys given on the command line are watched until interrupted. With
// --interactive, watches are added and cancelled from a shell instead.
//
// Examples:
//
//	# Watch two keys on a local peer
//	kvwatch --endpoints 127.0.0.1:2381 config/a config/b
//
//	# Watch a prefix over gRPC against etcd, with previous values
//	kvwatch --transport grpc --endpoints 127.0.0.1:2379 --prefix --prev-kv services/
//
//	# Load settings from a file and record a protocol trace
//	kvwatch --config kvwatch.yaml --protocol-log client.wlog --interactive
//
// Interactive commands:
//
//	watch <key> [rev]   Watch a single key, optionally from a revision
//	prefix <prefix>     Watch every key with the prefix
//	cancel <handle>...  Cancel watches
//	list                List watches
//	state               Show the stream state
//	quit                Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kvwatch/kvwatch-go/pkg/config"
	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/watch"
)

// options holds the flags that are not part of config.Config.
type options struct {
	configFile    string
	interactive   bool
	prefix        bool
	prevKV        bool
	revision      int64
	metricsListen string
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvwatch: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "kvwatch: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags loads --config first, then lets explicit flags override it.
func parseFlags(args []string) (*config.Config, *options, error) {
	var opts options
	cfg := config.Default()

	var (
		endpoints []string
		transport string
		token     string
		tokenFile string
		caFile    string
		certFile  string
		keyFile   string
		logLevel  string
		plogPath  string
	)
	flag.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML)")
	flag.StringSliceVarP(&endpoints, "endpoints", "e", nil, "Peer addresses (host:port), comma separated")
	flag.StringVar(&transport, "transport", "", "Transport: framed or grpc")
	flag.StringVar(&token, "token", "", "Bearer token")
	flag.StringVar(&tokenFile, "token-file", "", "File holding the bearer token")
	flag.StringVar(&caFile, "ca", "", "CA bundle for verifying the peer")
	flag.StringVar(&certFile, "cert", "", "Client certificate (PEM)")
	flag.StringVar(&keyFile, "key", "", "Client private key (PEM)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&plogPath, "protocol-log", "", "Write a protocol trace to this file")
	flag.BoolVarP(&opts.interactive, "interactive", "i", false, "Enable interactive command mode")
	flag.BoolVarP(&opts.prefix, "prefix", "p", false, "Treat command-line keys as prefixes")
	flag.BoolVar(&opts.prevKV, "prev-kv", false, "Include previous values in events")
	flag.Int64Var(&opts.revision, "rev", 0, "Start command-line watches at this revision")
	flag.StringVar(&opts.metricsListen, "metrics-listen", "", "Serve Prometheus /metrics on this address")

	if err := flag.CommandLine.Parse(args); err != nil {
		return nil, nil, err
	}

	if opts.configFile != "" {
		loaded, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	set := func(name string, apply func()) {
		if flag.CommandLine.Changed(name) {
			apply()
		}
	}
	set("endpoints", func() { cfg.Endpoints = endpoints })
	set("transport", func() { cfg.Transport = transport })
	set("token", func() { cfg.Token, cfg.TokenFile = token, "" })
	set("token-file", func() { cfg.TokenFile, cfg.Token = tokenFile, "" })
	set("ca", func() { cfg.TLS.CAFile = caFile })
	set("cert", func() { cfg.TLS.CertFile = certFile })
	set("key", func() { cfg.TLS.KeyFile = keyFile })
	set("log-level", func() { cfg.LogLevel = logLevel })
	set("protocol-log", func() { cfg.ProtocolLog = plogPath })

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, &opts, nil
}

func run(cfg *config.Config, opts *options, keys []string) error {
	if !opts.interactive && len(keys) == 0 {
		return errors.New("no keys to watch (pass keys or --interactive)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sh *shell
	out := io.Writer(os.Stdout)
	logOut := io.Writer(os.Stderr)
	if opts.interactive {
		var err error
		if sh, err = newShell(); err != nil {
			return err
		}
		out, logOut = sh.Stdout(), sh.Stderr()
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var plog log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		ml := log.NewMultiLogger(fl, debugAdapter(logger, level))
		defer ml.Close()
		plog = ml
	}

	dialer, closer, err := newDialer(cfg, plog)
	if err != nil {
		return err
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	metrics := watch.NewMetrics(reg)
	if opts.metricsListen != "" {
		hs := &http.Server{
			Addr:              opts.metricsListen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer hs.Close()
	}

	mopts := []watch.Option{
		watch.WithLogger(logger),
		watch.WithBackoff(cfg.Backoff),
		watch.WithDrainTimeout(cfg.DrainTimeout),
		watch.WithAttemptTimeout(cfg.AttemptTimeout),
		watch.WithMetrics(metrics),
	}
	if plog != nil {
		mopts = append(mopts, watch.WithProtocolLogger(plog))
	}
	m := watch.NewManager(dialer, mopts...)
	defer m.Close()

	cb := func(resp watch.Response) { printResponse(out, resp) }

	for _, key := range keys {
		var sopts []watch.SubscribeOption
		if opts.prefix {
			sopts = append(sopts, watch.WithPrefix())
		}
		if opts.prevKV {
			sopts = append(sopts, watch.WithPrevKV())
		}
		if opts.revision > 0 {
			sopts = append(sopts, watch.WithRevision(opts.revision))
		}

		actx, cancel := context.WithTimeout(ctx, cfg.AwaitTimeout)
		h, err := m.SubscribeAndAwait(actx, key, cb, sopts...)
		cancel()
		if err != nil {
			return fmt.Errorf("watch %q: %w", key, err)
		}
		logger.Info("watching", "handle", h, "key", key)
	}

	if sh != nil {
		sh.manager, sh.cb, sh.awaitTimeout = m, cb, cfg.AwaitTimeout
		sh.Run(ctx)
		return nil
	}

	<-ctx.Done()
	return nil
}

// debugAdapter mirrors protocol events to the console only at debug level.
func debugAdapter(logger *slog.Logger, level slog.Level) log.Logger {
	if level > slog.LevelDebug {
		return nil
	}
	return log.NewSlogAdapter(logger)
}
