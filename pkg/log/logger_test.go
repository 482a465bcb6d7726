package log

import (
	"bytes"
	"testing"
	"time"

	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Log(Event{})
}

func TestEventStringers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerWire.String(), "WIRE"},
		{LayerWatch.String(), "WATCH"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{MessageTypeCreate.String(), "CREATE"},
		{MessageTypeCancel.String(), "CANCEL"},
		{MessageTypeResponse.String(), "RESPONSE"},
		{StateEntitySession.String(), "SESSION"},
		{StateEntitySubscription.String(), "SUBSCRIPTION"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestEventRoundTrip(t *testing.T) {
	handle := uint64(3)
	id := int64(11)
	kind := wire.ResponseCreated
	event := Event{
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
		ConnectionID: "conn-abc",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		RemoteAddr:   "127.0.0.1:2379",
		Message: &MessageEvent{
			Type:    MessageTypeResponse,
			Handle:  &handle,
			WatchID: &id,
			Kind:    &kind,
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !got.Timestamp.Equal(event.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v (nanoseconds must survive)", got.Timestamp, event.Timestamp)
	}
	if got.RemoteAddr != event.RemoteAddr {
		t.Errorf("RemoteAddr: got %q, want %q", got.RemoteAddr, event.RemoteAddr)
	}
	if got.Message == nil || got.Message.Handle == nil || *got.Message.Handle != 3 {
		t.Fatalf("Message.Handle not preserved: %+v", got.Message)
	}
	if got.Message.Kind == nil || *got.Message.Kind != wire.ResponseCreated {
		t.Errorf("Message.Kind not preserved: %+v", got.Message.Kind)
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	small := NewFrameEvent([]byte{1, 2, 3}, 7)
	if small.Truncated || len(small.Data) != 3 {
		t.Errorf("small frame: truncated=%v len=%d", small.Truncated, len(small.Data))
	}

	big := bytes.Repeat([]byte{0xAB}, MaxFrameData+10)
	fe := NewFrameEvent(big, len(big)+4)
	if !fe.Truncated {
		t.Error("large frame should be truncated")
	}
	if len(fe.Data) != MaxFrameData {
		t.Errorf("len(Data) = %d, want %d", len(fe.Data), MaxFrameData)
	}
	if fe.Size != len(big)+4 {
		t.Errorf("Size = %d, want %d", fe.Size, len(big)+4)
	}

	big[0] = 0
	if fe.Data[0] != 0xAB {
		t.Error("frame data must be copied")
	}
}

func TestRequestMessageCancel(t *testing.T) {
	msg := RequestMessage(wire.NewCancelRequest(5), 0)
	if msg.Type != MessageTypeCancel {
		t.Errorf("Type = %v, want CANCEL", msg.Type)
	}
	if msg.Handle != nil {
		t.Error("zero handle should be omitted")
	}
	if msg.WatchID == nil || *msg.WatchID != 5 {
		t.Errorf("WatchID = %v, want 5", msg.WatchID)
	}
}

func TestLoggerFunc(t *testing.T) {
	var got []string
	var l Logger = LoggerFunc(func(e Event) { got = append(got, e.ConnectionID) })

	l.Log(Event{ConnectionID: "a"})
	l.Log(Event{ConnectionID: "b"})

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
}
