package watch

import "github.com/kvwatch/kvwatch-go/pkg/wire"

// replayEntry is the part of a subscription needed to (re)create it.
type replayEntry struct {
	Handle Handle
	Range  wire.KeyRange
	Opts   subscribeOptions
	// First is true when no create for the subscription has been written
	// yet, so its start revision still applies.
	First bool
}

// createRequest builds the create frame for one entry.
func createRequest(e replayEntry) *wire.WatchRequest {
	req := wire.NewCreateRequest(e.Range)
	req.Create.PrevKV = e.Opts.prevKV
	if len(e.Opts.filters) > 0 {
		req.Create.Filters = append([]wire.FilterType(nil), e.Opts.filters...)
	}
	if e.First {
		req.Create.StartRevision = e.Opts.startRevision
	}
	return req
}

// replayRequests returns the create frames that re-establish a snapshot on
// a new session, in snapshot order. The first connection and every
// reconnection go through here.
func replayRequests(snapshot []replayEntry) []*wire.WatchRequest {
	reqs := make([]*wire.WatchRequest, 0, len(snapshot))
	for _, e := range snapshot {
		reqs = append(reqs, createRequest(e))
	}
	return reqs
}
