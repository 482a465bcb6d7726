// Package watch multiplexes key and range subscriptions over one shared
// watch stream.
//
// A Manager hands out Handles. Each Handle names one subscription for its
// whole life, while the identifier the peer assigns to it (the watch id)
// changes every time the stream is re-established.
//
// # Stream Lifecycle
//
// The first Subscribe dials the peer synchronously and returns any dial
// error to its caller. From then on a single supervisor goroutine reads
// the stream, and on any read or write failure it abandons the stream,
// backs off, redials and replays every live subscription:
//
//	IDLE -> CONNECTING -> CONNECTED -> BROKEN -> RECONNECTING -> CONNECTED
//	                                                  |
//	                          Close from any state -> CLOSED
//
// Replay sends one create request per Pending or Active subscription in
// handle order. Revisions requested with WithRevision apply to the first
// creation only; a replayed watch resumes from the peer's current state.
// Events that happen while the stream is down are not redelivered.
//
// # Acknowledgments
//
// The peer acknowledges creates in the order it receives them, so the
// registry keeps a FIFO of unacknowledged creates per stream and pairs each
// Created response with its head. A subscription cancelled while its create
// is unacknowledged stays in the FIFO as a tombstone; when the ack arrives
// the stream cancels the new watch id.
//
// # Callbacks
//
// Callbacks run on the supervisor goroutine, outside every lock, in the
// order responses arrive. A callback may call Cancel or Subscribe. A slow
// callback delays every other subscription on the Manager.
package watch
