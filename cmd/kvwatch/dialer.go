package main

import (
	"fmt"
	"io"

	"github.com/kvwatch/kvwatch-go/pkg/config"
	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/transport"
	"github.com/kvwatch/kvwatch-go/pkg/transport/etcdgrpc"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newDialer builds the transport the configuration selects. The closer
// releases transport resources shared across dials.
func newDialer(cfg *config.Config, plog log.Logger) (transport.Dialer, io.Closer, error) {
	var tlsCfg *transport.TLSConfig
	if cfg.TLS.Enabled() {
		tlsCfg = &cfg.TLS
	}

	switch cfg.Transport {
	case config.TransportGRPC:
		gc := etcdgrpc.Config{
			Endpoints:      cfg.Endpoints,
			MaxMessageSize: int(cfg.MaxMessageSize),
			Tokens:         cfg.TokenSource(),
		}
		if tlsCfg != nil {
			tc, err := transport.NewClientTLSConfig(tlsCfg)
			if err != nil {
				return nil, nil, err
			}
			// gRPC negotiates h2 itself.
			tc.NextProtos = nil
			gc.TLS = tc
		}
		d, err := etcdgrpc.NewDialer(gc)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil

	case config.TransportFramed:
		dc := transport.DialerConfig{
			Endpoints:      cfg.Endpoints,
			MaxMessageSize: cfg.MaxMessageSize,
			Tokens:         cfg.TokenSource(),
			Logger:         plog,
		}
		if tlsCfg != nil {
			tc, err := transport.NewClientTLSConfig(tlsCfg)
			if err != nil {
				return nil, nil, err
			}
			dc.TLS = tc
		}
		d, err := transport.NewFramedDialer(dc)
		if err != nil {
			return nil, nil, err
		}
		return d, nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
}
