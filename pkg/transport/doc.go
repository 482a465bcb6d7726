// Package transport provides the bidirectional streams a watch client runs on.
//
// The transport layer handles:
//   - The Stream and Dialer contracts consumed by pkg/watch
//   - Length-prefixed CBOR framing over TCP, optionally TLS
//   - Endpoint rotation across a resolved address list
//   - Stamping a bearer token into each outbound frame
//   - A framed server side used by the in-process peer
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   WatchRequest / WatchResponse │
//	├────────────────────────────────┤
//	│         CBOR (pkg/wire)        │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│       TLS 1.3 (optional)       │
//	├────────────────────────────────┤
//	│              TCP               │
//	└────────────────────────────────┘
//
// The gRPC transport against the etcd v3 Watch service lives in the
// etcdgrpc subpackage and implements the same Dialer contract.
package transport
