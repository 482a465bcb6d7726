package watch

import (
	"sort"
	"sync"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// registry holds every live subscription plus the per-session tables that
// map peer watch ids back to handles. One mutex guards all of it so a
// cancel racing a reconnect can never leave a record in one table and not
// the other.
type registry struct {
	mu sync.Mutex

	// Live (Pending or Active) subscriptions by handle.
	subs map[Handle]*subscription

	// Per-session state, reset wholesale by resetSession.
	epoch     uint64
	connected bool
	byWatchID map[int64]*subscription
	// Creates written on this session and not yet acknowledged, oldest
	// first. Cancelled entries stay until their ack arrives.
	unacked []*subscription
	// Watch ids this session has sent a cancel for and the peer has not
	// yet confirmed.
	cancelled map[int64]struct{}
}

func newRegistry() *registry {
	return &registry{
		subs:      make(map[Handle]*subscription),
		byWatchID: make(map[int64]*subscription),
		cancelled: make(map[int64]struct{}),
	}
}

// add registers sub. When a session is connected the create is queued for
// acknowledgment and add returns true; the caller must then write it.
func (r *registry) add(sub *subscription) (epoch uint64, send bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[sub.handle] = sub
	if !r.connected {
		return r.epoch, false
	}
	r.unacked = append(r.unacked, sub)
	return r.epoch, true
}

// markSent records that a create for sub reached the stream.
func (r *registry) markSent(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub.sent = true
}

// remove cancels h. It returns the watch id to cancel on the peer, which
// is InvalidWatchID unless the subscription is Active on the current
// session. Unknown handles return ok=false.
func (r *registry) remove(h Handle) (sub *subscription, watchID int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok = r.subs[h]
	if !ok {
		return nil, wire.InvalidWatchID, false
	}
	delete(r.subs, h)

	watchID = wire.InvalidWatchID
	if sub.state == StateActive {
		watchID = sub.watchID
		delete(r.byWatchID, watchID)
		r.cancelled[watchID] = struct{}{}
	}
	sub.state = StateCancelled
	sub.cancelled.Store(true)
	return sub, watchID, true
}

// drain cancels every subscription, as remove does for each.
func (r *registry) drain() (subs []*subscription, watchIDs []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		if sub.state == StateActive {
			watchIDs = append(watchIDs, sub.watchID)
			delete(r.byWatchID, sub.watchID)
			r.cancelled[sub.watchID] = struct{}{}
		}
		sub.state = StateCancelled
		sub.cancelled.Store(true)
		subs = append(subs, sub)
	}
	r.subs = make(map[Handle]*subscription)
	sort.Slice(subs, func(i, j int) bool { return subs[i].handle < subs[j].handle })
	sort.Slice(watchIDs, func(i, j int) bool { return watchIDs[i] < watchIDs[j] })
	return subs, watchIDs
}

// resetSession discards the per-session tables and returns every live
// subscription to Pending. When connected, the snapshot is queued for
// acknowledgment in handle order and the caller must write it in that
// order. The returned epoch identifies the new session.
func (r *registry) resetSession(connected bool) (epoch uint64, snapshot []replayEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.epoch++
	r.connected = connected
	r.byWatchID = make(map[int64]*subscription)
	r.cancelled = make(map[int64]struct{})
	r.unacked = nil

	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		sub.state = StatePending
		sub.watchID = wire.InvalidWatchID
		subs = append(subs, sub)
	}
	if !connected {
		return r.epoch, nil
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].handle < subs[j].handle })
	r.unacked = subs
	snapshot = make([]replayEntry, len(subs))
	for i, sub := range subs {
		snapshot[i] = replayEntry{
			Handle: sub.handle,
			Range:  sub.kr,
			Opts:   sub.opts,
			First:  !sub.sent,
		}
	}
	return r.epoch, snapshot
}

// markAllSent records that the replayed creates reached the stream.
func (r *registry) markAllSent(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch != r.epoch {
		return
	}
	for _, sub := range r.unacked {
		sub.sent = true
	}
}

// ackResult is the outcome of pairing a Created response.
type ackResult struct {
	sub *subscription
	// cancel is set when the subscription was cancelled while its create
	// was in flight; the new watch id must be cancelled on the peer.
	cancel bool
}

// acked pairs a Created response with the oldest unacknowledged create.
// ok is false when nothing is outstanding.
func (r *registry) acked(watchID int64) (res ackResult, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.popUnacked()
	if !ok {
		return ackResult{}, false
	}
	if sub.state == StateCancelled {
		r.cancelled[watchID] = struct{}{}
		return ackResult{sub: sub, cancel: true}, true
	}
	sub.state = StateActive
	sub.watchID = watchID
	r.byWatchID[watchID] = sub
	return ackResult{sub: sub}, true
}

// rejected pairs a Created+Canceled response with the oldest
// unacknowledged create and drops that subscription. sub is nil when the
// subscription had already been cancelled.
func (r *registry) rejected() (sub *subscription, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok = r.popUnacked()
	if !ok {
		return nil, false
	}
	if sub.state == StateCancelled {
		return nil, true
	}
	delete(r.subs, sub.handle)
	sub.state = StateCancelled
	sub.cancelled.Store(true)
	return sub, true
}

func (r *registry) popUnacked() (*subscription, bool) {
	if len(r.unacked) == 0 {
		return nil, false
	}
	sub := r.unacked[0]
	r.unacked[0] = nil
	r.unacked = r.unacked[1:]
	return sub, true
}

// lookup resolves a watch id on the current session.
func (r *registry) lookup(watchID int64) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byWatchID[watchID]
	return sub, ok
}

// canceledByPeer handles a Canceled response. For a watch the client
// still holds, the subscription is dropped and returned. A confirmation of
// a client cancel settles the outstanding cancel and returns ok=false.
func (r *registry) canceledByPeer(watchID int64) (sub *subscription, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok = r.byWatchID[watchID]
	if !ok {
		delete(r.cancelled, watchID)
		return nil, false
	}
	delete(r.byWatchID, watchID)
	delete(r.subs, sub.handle)
	sub.state = StateCancelled
	sub.cancelled.Store(true)
	return sub, true
}

// markUnknown records a response for a watch id the session does not
// know. It returns true the first time, when the caller should cancel it.
func (r *registry) markUnknown(watchID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.cancelled[watchID]; seen {
		return false
	}
	r.cancelled[watchID] = struct{}{}
	return true
}

// currentEpoch returns the epoch of the current session.
func (r *registry) currentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func (r *registry) get(h Handle) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[h]
	if !ok {
		return Info{}, false
	}
	return sub.info(), true
}

func (r *registry) list() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
