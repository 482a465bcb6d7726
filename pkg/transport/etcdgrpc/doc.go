// Package etcdgrpc implements transport.Dialer over the etcd v3 gRPC Watch
// service.
//
// One grpc.ClientConn is shared by every stream the dialer opens. The
// resolved endpoint list is fed to a manual resolver and balanced
// round-robin, so a reconnect after a peer failure lands on any healthy
// member. Bearer tokens travel in the "token" metadata key of each stream,
// which is where etcd's auth interceptor looks for them.
package etcdgrpc
