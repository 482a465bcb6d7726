package wire

import (
	"errors"
	"fmt"
)

// Frame validation errors.
var (
	ErrEmptyRequest     = errors.New("request carries neither create nor cancel")
	ErrAmbiguousRequest = errors.New("request carries both create and cancel")
	ErrEmptyKey         = errors.New("key is empty")
)

// InvalidWatchID marks a watch that has no peer-assigned identifier yet.
const InvalidWatchID int64 = -1

// EventType is the kind of change carried by an Event.
type EventType uint8

const (
	// EventPut indicates a key was created or updated.
	EventPut EventType = 0

	// EventDelete indicates a key was removed.
	EventDelete EventType = 1
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventPut:
		return "PUT"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FilterType names a class of events the peer should not send for a watch.
type FilterType uint8

const (
	// FilterNoPut drops put events.
	FilterNoPut FilterType = 0

	// FilterNoDelete drops delete events.
	FilterNoDelete FilterType = 1
)

// KeyValue is the state of a key at a given revision.
//
// CBOR encoding:
//
//	{
//	  1: key,            // bytes
//	  2: value,          // bytes
//	  3: createRevision, // int64
//	  4: modRevision,    // int64
//	  5: version,        // int64
//	  6: lease           // int64
//	}
type KeyValue struct {
	Key            []byte `cbor:"1,keyasint"`
	Value          []byte `cbor:"2,keyasint,omitempty"`
	CreateRevision int64  `cbor:"3,keyasint,omitempty"`
	ModRevision    int64  `cbor:"4,keyasint,omitempty"`
	Version        int64  `cbor:"5,keyasint,omitempty"`
	Lease          int64  `cbor:"6,keyasint,omitempty"`
}

// Event is a single change notification.
type Event struct {
	Type   EventType `cbor:"1,keyasint"`
	KV     KeyValue  `cbor:"2,keyasint"`
	PrevKV *KeyValue `cbor:"3,keyasint,omitempty"`
}

// IsCreate returns true if the event created the key.
func (e *Event) IsCreate() bool {
	return e.Type == EventPut && e.KV.CreateRevision == e.KV.ModRevision
}

// String renders the event the way the CLI prints it.
func (e Event) String() string {
	if e.Type == EventDelete {
		return fmt.Sprintf("DELETE %s", e.KV.Key)
	}
	return fmt.Sprintf("PUT %s=%s", e.KV.Key, e.KV.Value)
}

// CreateRequest asks the peer to start a watch.
type CreateRequest struct {
	Key           []byte       `cbor:"1,keyasint"`
	RangeEnd      []byte       `cbor:"2,keyasint,omitempty"`
	StartRevision int64        `cbor:"3,keyasint,omitempty"`
	PrevKV        bool         `cbor:"4,keyasint,omitempty"`
	Filters       []FilterType `cbor:"5,keyasint,omitempty"`
}

// Range returns the key range selected by the request.
func (c *CreateRequest) Range() KeyRange {
	return KeyRange{Key: string(c.Key), RangeEnd: string(c.RangeEnd)}
}

// CancelRequest asks the peer to stop a watch.
type CancelRequest struct {
	WatchID int64 `cbor:"1,keyasint"`
}

// WatchRequest is a client-to-peer frame.
//
// CBOR encoding:
//
//	{
//	  1: create,  // CreateRequest (exclusive with cancel)
//	  2: cancel,  // CancelRequest
//	  3: token    // optional bearer credential
//	}
type WatchRequest struct {
	Create *CreateRequest `cbor:"1,keyasint,omitempty"`
	Cancel *CancelRequest `cbor:"2,keyasint,omitempty"`
	Token  string         `cbor:"3,keyasint,omitempty"`
}

// Validate checks that exactly one operation is set.
func (r *WatchRequest) Validate() error {
	switch {
	case r.Create == nil && r.Cancel == nil:
		return ErrEmptyRequest
	case r.Create != nil && r.Cancel != nil:
		return ErrAmbiguousRequest
	case r.Create != nil && len(r.Create.Key) == 0:
		return ErrEmptyKey
	}
	return nil
}

// NewCreateRequest builds a create frame for a key range.
func NewCreateRequest(kr KeyRange) *WatchRequest {
	create := &CreateRequest{Key: []byte(kr.Key)}
	if kr.RangeEnd != "" {
		create.RangeEnd = []byte(kr.RangeEnd)
	}
	return &WatchRequest{Create: create}
}

// NewCancelRequest builds a cancel frame for a peer-assigned watch ID.
func NewCancelRequest(watchID int64) *WatchRequest {
	return &WatchRequest{Cancel: &CancelRequest{WatchID: watchID}}
}

// ResponseHeader carries store metadata for a response.
type ResponseHeader struct {
	Revision int64 `cbor:"1,keyasint"`
}

// WatchResponse is a peer-to-client frame.
//
// CBOR encoding:
//
//	{
//	  1: header,          // ResponseHeader
//	  2: watchId,         // int64
//	  3: created,         // bool
//	  4: canceled,        // bool
//	  5: cancelReason,    // string
//	  6: compactRevision, // int64
//	  7: events           // []Event
//	}
type WatchResponse struct {
	Header          ResponseHeader `cbor:"1,keyasint"`
	WatchID         int64          `cbor:"2,keyasint"`
	Created         bool           `cbor:"3,keyasint,omitempty"`
	Canceled        bool           `cbor:"4,keyasint,omitempty"`
	CancelReason    string         `cbor:"5,keyasint,omitempty"`
	CompactRevision int64          `cbor:"6,keyasint,omitempty"`
	Events          []Event        `cbor:"7,keyasint,omitempty"`
}

// ResponseKind classifies a WatchResponse.
type ResponseKind uint8

const (
	// ResponseCreated acknowledges a create request.
	ResponseCreated ResponseKind = iota

	// ResponseRejected acknowledges a create request the peer refused.
	ResponseRejected

	// ResponseCanceled confirms or announces the end of a watch.
	ResponseCanceled

	// ResponseEvents carries an event batch.
	ResponseEvents

	// ResponseProgress carries a revision update without events.
	ResponseProgress
)

// String returns the response kind name.
func (k ResponseKind) String() string {
	switch k {
	case ResponseCreated:
		return "CREATED"
	case ResponseRejected:
		return "REJECTED"
	case ResponseCanceled:
		return "CANCELED"
	case ResponseEvents:
		return "EVENTS"
	case ResponseProgress:
		return "PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Kind returns the classification of the response.
func (r *WatchResponse) Kind() ResponseKind {
	switch {
	case r.Created && r.Canceled:
		return ResponseRejected
	case r.Created:
		return ResponseCreated
	case r.Canceled:
		return ResponseCanceled
	case len(r.Events) > 0:
		return ResponseEvents
	default:
		return ResponseProgress
	}
}
