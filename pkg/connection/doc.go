// Package connection provides stream lifecycle management for watch clients.
//
// This package handles:
//   - Exponential backoff for reconnection attempts
//   - Jitter to prevent thundering herd
//   - Session state tracking
//   - Reconnection on stream loss
//
// # Reconnection Strategy
//
// When a stream breaks, the client uses exponential backoff:
//
//  1. Initial delay: 250 milliseconds
//  2. Exponential increase: 500ms, 1s, 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Continue at 30s until successful (attempts are unbounded)
//  5. Reset to 250ms on successful reconnection
//
// # Jitter
//
// To prevent thundering herd when many clients lose the same peer:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// # States
//
//	IDLE -> CONNECTING -> CONNECTED -> BROKEN -> RECONNECTING -> CONNECTED ...
//
// Any state may move to CLOSED, which is terminal.
package connection
