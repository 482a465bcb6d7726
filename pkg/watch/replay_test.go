package watch

import (
	"testing"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

func TestReplayRequests(t *testing.T) {
	snapshot := []replayEntry{
		{Handle: 1, Range: wire.SingleKey("k"), Opts: subscribeOptions{startRevision: 5}, First: true},
		{Handle: 2, Range: wire.Prefix("p/"), Opts: subscribeOptions{startRevision: 5, prevKV: true}},
		{Handle: 3, Range: wire.FromKey("m"), Opts: subscribeOptions{filters: []wire.FilterType{wire.FilterNoPut}}},
	}

	reqs := replayRequests(snapshot)
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			t.Errorf("request %d invalid: %v", i, err)
		}
	}

	first := reqs[0].Create
	if string(first.Key) != "k" || len(first.RangeEnd) != 0 {
		t.Errorf("request 0 range = %q..%q, want single key k", first.Key, first.RangeEnd)
	}
	if first.StartRevision != 5 {
		t.Errorf("first creation StartRevision = %d, want 5", first.StartRevision)
	}

	second := reqs[1].Create
	if string(second.RangeEnd) != "p0" {
		t.Errorf("prefix range end = %q, want p0", second.RangeEnd)
	}
	if second.StartRevision != 0 {
		t.Errorf("replayed StartRevision = %d, want 0", second.StartRevision)
	}
	if !second.PrevKV {
		t.Error("PrevKV not carried over")
	}

	third := reqs[2].Create
	if string(third.RangeEnd) != wire.AllKeys {
		t.Errorf("from-key range end = %q, want AllKeys", third.RangeEnd)
	}
	if len(third.Filters) != 1 || third.Filters[0] != wire.FilterNoPut {
		t.Errorf("filters = %v, want [NoPut]", third.Filters)
	}
}

func TestReplayRequestsEmpty(t *testing.T) {
	if reqs := replayRequests(nil); len(reqs) != 0 {
		t.Errorf("got %d requests for empty snapshot", len(reqs))
	}
}

func TestSubscribeOptionsKeyRange(t *testing.T) {
	tests := []struct {
		name string
		key  string
		opts []SubscribeOption
		want wire.KeyRange
	}{
		{"SingleKey", "k", nil, wire.KeyRange{Key: "k"}},
		{"Range", "a", []SubscribeOption{WithRange("c")}, wire.KeyRange{Key: "a", RangeEnd: "c"}},
		{"Prefix", "p/", []SubscribeOption{WithPrefix()}, wire.KeyRange{Key: "p/", RangeEnd: "p0"}},
		{"EmptyPrefix", "", []SubscribeOption{WithPrefix()}, wire.KeyRange{Key: wire.AllKeys, RangeEnd: wire.AllKeys}},
		{"FromKey", "m", []SubscribeOption{WithFromKey()}, wire.KeyRange{Key: "m", RangeEnd: wire.AllKeys}},
		{"PrefixWinsOverRange", "p", []SubscribeOption{WithRange("z"), WithPrefix()}, wire.KeyRange{Key: "p", RangeEnd: "q"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o subscribeOptions
			for _, opt := range tt.opts {
				opt(&o)
			}
			if got := o.keyRange(tt.key); got != tt.want {
				t.Errorf("keyRange(%q) = %+v, want %+v", tt.key, got, tt.want)
			}
		})
	}
}
