package log

import (
	"time"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the physical stream session (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session/subscription state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the frame encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerWatch is the subscription layer.
	LayerWatch Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerWatch:
		return "WATCH"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol frame.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded watch frame at the wire layer.
type MessageEvent struct {
	// Type distinguishes create/cancel/response frames.
	Type MessageType `cbor:"1,keyasint"`

	// Handle is the client-visible subscription handle, when known.
	Handle *uint64 `cbor:"2,keyasint,omitempty"`

	// WatchID is the peer-assigned identifier, when known.
	WatchID *int64 `cbor:"3,keyasint,omitempty"`

	// For create frames: the watched range.
	Key      string `cbor:"4,keyasint,omitempty"`
	RangeEnd string `cbor:"5,keyasint,omitempty"`

	// For responses: the response classification (wire.ResponseKind).
	Kind *wire.ResponseKind `cbor:"6,keyasint,omitempty"`

	// For responses: the number of events carried.
	EventCount int `cbor:"7,keyasint,omitempty"`

	// For responses: the store revision in the header.
	Revision int64 `cbor:"8,keyasint,omitempty"`
}

// MessageType distinguishes watch frame types.
type MessageType uint8

const (
	// MessageTypeCreate indicates a create request.
	MessageTypeCreate MessageType = 0
	// MessageTypeCancel indicates a cancel request.
	MessageTypeCancel MessageType = 1
	// MessageTypeResponse indicates a peer response.
	MessageTypeResponse MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeCreate:
		return "CREATE"
	case MessageTypeCancel:
		return "CANCEL"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures session and subscription lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a stream session state change.
	StateEntitySession StateEntity = 0
	// StateEntitySubscription indicates a subscription state change.
	StateEntitySubscription StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// RequestMessage builds the wire-layer payload for an outbound request.
func RequestMessage(req *wire.WatchRequest, handle uint64) *MessageEvent {
	msg := &MessageEvent{}
	if handle != 0 {
		msg.Handle = &handle
	}
	switch {
	case req.Create != nil:
		msg.Type = MessageTypeCreate
		msg.Key = string(req.Create.Key)
		msg.RangeEnd = string(req.Create.RangeEnd)
	case req.Cancel != nil:
		msg.Type = MessageTypeCancel
		id := req.Cancel.WatchID
		msg.WatchID = &id
	}
	return msg
}

// ResponseMessage builds the wire-layer payload for an inbound response.
func ResponseMessage(resp *wire.WatchResponse) *MessageEvent {
	kind := resp.Kind()
	id := resp.WatchID
	return &MessageEvent{
		Type:       MessageTypeResponse,
		WatchID:    &id,
		Kind:       &kind,
		EventCount: len(resp.Events),
		Revision:   resp.Header.Revision,
	}
}

// MaxFrameData is the number of frame bytes retained in a FrameEvent.
const MaxFrameData = 512

// NewFrameEvent captures a frame payload, truncating it to MaxFrameData.
// size is the on-wire size including the length prefix.
func NewFrameEvent(data []byte, size int) *FrameEvent {
	fe := &FrameEvent{Size: size}
	if len(data) > MaxFrameData {
		fe.Data = append([]byte(nil), data[:MaxFrameData]...)
		fe.Truncated = true
		return fe
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}
