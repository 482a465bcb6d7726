package etcdgrpc

import (
	"errors"

	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// ErrUnsupportedRequest is returned for request kinds the watch layer never sends.
var ErrUnsupportedRequest = errors.New("unsupported watch request")

// RequestToProto converts a wire request to its protobuf form.
// The Token field is not part of the message; it travels as stream metadata.
func RequestToProto(req *wire.WatchRequest) *pb.WatchRequest {
	switch {
	case req.Create != nil:
		c := req.Create
		cr := &pb.WatchCreateRequest{
			Key:           c.Key,
			RangeEnd:      c.RangeEnd,
			StartRevision: c.StartRevision,
			PrevKv:        c.PrevKV,
		}
		for _, f := range c.Filters {
			switch f {
			case wire.FilterNoPut:
				cr.Filters = append(cr.Filters, pb.WatchCreateRequest_NOPUT)
			case wire.FilterNoDelete:
				cr.Filters = append(cr.Filters, pb.WatchCreateRequest_NODELETE)
			}
		}
		return &pb.WatchRequest{RequestUnion: &pb.WatchRequest_CreateRequest{CreateRequest: cr}}
	case req.Cancel != nil:
		return &pb.WatchRequest{RequestUnion: &pb.WatchRequest_CancelRequest{
			CancelRequest: &pb.WatchCancelRequest{WatchId: req.Cancel.WatchID},
		}}
	default:
		return &pb.WatchRequest{}
	}
}

// RequestFromProto converts a protobuf request to the wire form.
// Progress requests are not supported.
func RequestFromProto(req *pb.WatchRequest) (*wire.WatchRequest, error) {
	if cr := req.GetCreateRequest(); cr != nil {
		c := &wire.CreateRequest{
			Key:           cr.Key,
			RangeEnd:      cr.RangeEnd,
			StartRevision: cr.StartRevision,
			PrevKV:        cr.PrevKv,
		}
		for _, f := range cr.Filters {
			switch f {
			case pb.WatchCreateRequest_NOPUT:
				c.Filters = append(c.Filters, wire.FilterNoPut)
			case pb.WatchCreateRequest_NODELETE:
				c.Filters = append(c.Filters, wire.FilterNoDelete)
			}
		}
		return &wire.WatchRequest{Create: c}, nil
	}
	if cr := req.GetCancelRequest(); cr != nil {
		return wire.NewCancelRequest(cr.WatchId), nil
	}
	return nil, ErrUnsupportedRequest
}

func kvToProto(kv *wire.KeyValue) *mvccpb.KeyValue {
	if kv == nil {
		return nil
	}
	return &mvccpb.KeyValue{
		Key:            kv.Key,
		Value:          kv.Value,
		CreateRevision: kv.CreateRevision,
		ModRevision:    kv.ModRevision,
		Version:        kv.Version,
		Lease:          kv.Lease,
	}
}

func kvFromProto(kv *mvccpb.KeyValue) *wire.KeyValue {
	if kv == nil {
		return nil
	}
	return &wire.KeyValue{
		Key:            kv.Key,
		Value:          kv.Value,
		CreateRevision: kv.CreateRevision,
		ModRevision:    kv.ModRevision,
		Version:        kv.Version,
		Lease:          kv.Lease,
	}
}

// ResponseToProto converts a wire response to its protobuf form.
func ResponseToProto(resp *wire.WatchResponse) *pb.WatchResponse {
	out := &pb.WatchResponse{
		Header:          &pb.ResponseHeader{Revision: resp.Header.Revision},
		WatchId:         resp.WatchID,
		Created:         resp.Created,
		Canceled:        resp.Canceled,
		CancelReason:    resp.CancelReason,
		CompactRevision: resp.CompactRevision,
	}
	for i := range resp.Events {
		ev := &resp.Events[i]
		pe := &mvccpb.Event{
			Kv:     kvToProto(&ev.KV),
			PrevKv: kvToProto(ev.PrevKV),
		}
		if ev.Type == wire.EventDelete {
			pe.Type = mvccpb.DELETE
		} else {
			pe.Type = mvccpb.PUT
		}
		out.Events = append(out.Events, pe)
	}
	return out
}

// ResponseFromProto converts a protobuf response to the wire form.
func ResponseFromProto(resp *pb.WatchResponse) *wire.WatchResponse {
	out := &wire.WatchResponse{
		WatchID:         resp.WatchId,
		Created:         resp.Created,
		Canceled:        resp.Canceled,
		CancelReason:    resp.CancelReason,
		CompactRevision: resp.CompactRevision,
	}
	if resp.Header != nil {
		out.Header.Revision = resp.Header.Revision
	}
	if len(resp.Events) > 0 {
		out.Events = make([]wire.Event, 0, len(resp.Events))
	}
	for _, pe := range resp.Events {
		ev := wire.Event{PrevKV: kvFromProto(pe.PrevKv)}
		if kv := kvFromProto(pe.Kv); kv != nil {
			ev.KV = *kv
		}
		if pe.Type == mvccpb.DELETE {
			ev.Type = wire.EventDelete
		} else {
			ev.Type = wire.EventPut
		}
		out.Events = append(out.Events, ev)
	}
	return out
}
