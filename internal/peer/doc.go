// Package peer is an in-memory watch peer.
//
// A Store holds a revisioned key space with history. Server serves it over
// the framed protocol and GRPCServer over the etcd v3 Watch service. Both
// hand each stream to a Session, which assigns watch ids, acknowledges
// creates and cancels, and fans store events out in revision order.
//
// The peer backs the client tests and the kvwatch-peer command. It can
// drop connections, restart on the same address, and evict watches, which
// is how reconnect and server-side cancellation are exercised.
package peer
