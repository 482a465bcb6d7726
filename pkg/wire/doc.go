// Package wire defines the CBOR frame types exchanged on a watch stream.
//
// A watch stream carries two kinds of frames:
//   - WatchRequest: client to peer (create or cancel a watch)
//   - WatchResponse: peer to client (creation ack, cancellation, or an event batch)
//
// The frame layout mirrors the etcd v3 Watch service so the same types can be
// carried over the framed TCP transport or converted to and from the gRPC
// messages of an etcd-compatible peer.
//
// # CBOR Integer Keys
//
// All maps use integer keys for compactness. Frames are length-prefixed by the
// transport layer; this package only deals with the encoded payload.
//
// # Key Ranges
//
// A KeyRange with an empty RangeEnd selects a single key. PrefixEnd computes
// the RangeEnd that selects every key sharing a prefix, and the special
// RangeEnd "\x00" selects every key greater than or equal to Key.
package wire
