// Package log provides structured protocol tracing for watch streams.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at three layers (transport frames, decoded wire
// messages, and watch state). It is separate from operational logging
// (slog): protocol capture provides a complete machine-readable trace of a
// stream for debugging reconnects and dispatch.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	opts = append(opts, watch.WithProtocolLogger(log.NewSlogAdapter(slog.Default())))
//
//	// For production: write to a CBOR trace file
//	fl, _ := log.NewFileLogger("/var/log/kvwatch/client.wlog")
//
//	// Both
//	logger := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frame bytes (FrameEvent)
//   - Wire: Decoded watch requests and responses (MessageEvent)
//   - Watch: Session and subscription state changes (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Trace files are a sequence of CBOR-encoded events. Reader iterates them
// with optional filtering.
package log
