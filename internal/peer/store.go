package peer

import (
	"errors"
	"sort"
	"sync"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Store errors.
var (
	ErrCompacted    = errors.New("mvcc: required revision has been compacted")
	ErrFutureRev    = errors.New("mvcc: required revision is a future revision")
	ErrInvalidRange = errors.New("invalid key range")
)

// WatchSink receives events for one watcher. It is called with the store
// lock held and must not block or call back into the store.
type WatchSink func(events []wire.Event, rev int64)

// Store is an in-memory revisioned key-value store with watch support.
// Every mutation bumps the revision and is retained in history until
// compacted.
type Store struct {
	mu sync.Mutex

	rev        int64
	compactRev int64
	kvs        map[string]wire.KeyValue
	history    []wire.Event

	watchers map[*watcher]struct{}
}

type watcher struct {
	kr       wire.KeyRange
	prevKV   bool
	noPut    bool
	noDelete bool
	sink     WatchSink
}

func (w *watcher) filter(ev wire.Event) (wire.Event, bool) {
	if !w.kr.Contains(string(ev.KV.Key)) {
		return ev, false
	}
	if (ev.Type == wire.EventPut && w.noPut) || (ev.Type == wire.EventDelete && w.noDelete) {
		return ev, false
	}
	if !w.prevKV {
		ev.PrevKV = nil
	}
	return ev, true
}

// NewStore creates an empty store at revision 1, the way a fresh etcd
// cluster starts.
func NewStore() *Store {
	return &Store{
		rev:      1,
		kvs:      make(map[string]wire.KeyValue),
		watchers: make(map[*watcher]struct{}),
	}
}

// Rev returns the current revision.
func (s *Store) Rev() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// CompactRev returns the revision history was last compacted at.
func (s *Store) CompactRev() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactRev
}

// Get returns the current value of key.
func (s *Store) Get(key string) (wire.KeyValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, ok := s.kvs[key]
	return kv, ok
}

// Range returns the current values in kr, sorted by key.
func (s *Store) Range(kr wire.KeyRange) []wire.KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []wire.KeyValue
	for k, kv := range s.kvs {
		if kr.Contains(k) {
			out = append(out, kv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

// Put sets key to value and returns the new revision.
func (s *Store) Put(key, value string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rev++
	prev, existed := s.kvs[key]
	kv := wire.KeyValue{
		Key:            []byte(key),
		Value:          []byte(value),
		CreateRevision: s.rev,
		ModRevision:    s.rev,
		Version:        1,
	}
	ev := wire.Event{Type: wire.EventPut, KV: kv}
	if existed {
		kv.CreateRevision = prev.CreateRevision
		kv.Version = prev.Version + 1
		ev.KV = kv
		p := prev
		ev.PrevKV = &p
	}
	s.kvs[key] = kv
	s.apply(ev)
	return s.rev
}

// Delete removes key. It returns the new revision and true, or the current
// revision and false when the key does not exist.
func (s *Store) Delete(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.kvs[key]
	if !ok {
		return s.rev, false
	}
	s.rev++
	delete(s.kvs, key)

	p := prev
	s.apply(wire.Event{
		Type:   wire.EventDelete,
		KV:     wire.KeyValue{Key: []byte(key), ModRevision: s.rev},
		PrevKV: &p,
	})
	return s.rev, true
}

// apply records ev in history and fans it out. Caller holds s.mu.
func (s *Store) apply(ev wire.Event) {
	s.history = append(s.history, ev)
	for w := range s.watchers {
		if out, ok := w.filter(ev); ok {
			w.sink([]wire.Event{out}, s.rev)
		}
	}
}

// Compact discards history before rev.
func (s *Store) Compact(rev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rev <= s.compactRev {
		return ErrCompacted
	}
	if rev > s.rev {
		return ErrFutureRev
	}
	i := sort.Search(len(s.history), func(i int) bool {
		return s.history[i].KV.ModRevision >= rev
	})
	s.history = append([]wire.Event(nil), s.history[i:]...)
	s.compactRev = rev
	return nil
}

// WatchOptions selects what a watcher receives.
type WatchOptions struct {
	Range         wire.KeyRange
	StartRevision int64
	PrevKV        bool
	Filters       []wire.FilterType
}

// Watch registers a watcher. created runs under the store lock with the
// current revision before any event reaches sink, so a session can order
// its acknowledgment ahead of replayed history. A StartRevision at or
// below the compaction point returns ErrCompacted after created has run.
func (s *Store) Watch(opts WatchOptions, created func(rev int64), sink WatchSink) (unwatch func(), err error) {
	kr := opts.Range
	if len(kr.Key) == 0 || (kr.RangeEnd != "" && kr.RangeEnd != wire.AllKeys && kr.RangeEnd <= kr.Key) {
		return nil, ErrInvalidRange
	}

	w := &watcher{kr: kr, prevKV: opts.PrevKV, sink: sink}
	for _, f := range opts.Filters {
		switch f {
		case wire.FilterNoPut:
			w.noPut = true
		case wire.FilterNoDelete:
			w.noDelete = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if created != nil {
		created(s.rev)
	}

	if opts.StartRevision > 0 {
		if opts.StartRevision <= s.compactRev {
			return nil, ErrCompacted
		}
		var batch []wire.Event
		for _, ev := range s.history {
			if ev.KV.ModRevision < opts.StartRevision {
				continue
			}
			if out, ok := w.filter(ev); ok {
				batch = append(batch, out)
			}
		}
		if len(batch) > 0 {
			sink(batch, s.rev)
		}
	}

	s.watchers[w] = struct{}{}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, w)
	}, nil
}

// WatcherCount returns the number of registered watchers.
func (s *Store) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
