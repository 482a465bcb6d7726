package wire

import (
	"errors"
	"testing"
)

func TestEncodeRequestValidates(t *testing.T) {
	tests := []struct {
		name    string
		req     WatchRequest
		wantErr error
	}{
		{
			name:    "empty",
			req:     WatchRequest{},
			wantErr: ErrEmptyRequest,
		},
		{
			name: "both set",
			req: WatchRequest{
				Create: &CreateRequest{Key: []byte("k")},
				Cancel: &CancelRequest{WatchID: 1},
			},
			wantErr: ErrAmbiguousRequest,
		},
		{
			name:    "empty key",
			req:     WatchRequest{Create: &CreateRequest{}},
			wantErr: ErrEmptyKey,
		},
		{
			name: "create",
			req:  *NewCreateRequest(Prefix("p/")),
		},
		{
			name: "cancel",
			req:  *NewCancelRequest(7),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeRequest(&tt.req)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("EncodeRequest() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("EncodeRequest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateRequestRoundTrip(t *testing.T) {
	req := NewCreateRequest(Prefix("p/"))
	req.Create.StartRevision = 42
	req.Create.PrevKV = true
	req.Create.Filters = []FilterType{FilterNoDelete}
	req.Token = "secret"

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	got, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}

	if got.Create == nil {
		t.Fatal("decoded request has no create")
	}
	if got.Create.Range() != Prefix("p/") {
		t.Errorf("Range() = %v, want %v", got.Create.Range(), Prefix("p/"))
	}
	if got.Create.StartRevision != 42 {
		t.Errorf("StartRevision = %d, want 42", got.Create.StartRevision)
	}
	if !got.Create.PrevKV {
		t.Error("PrevKV = false, want true")
	}
	if len(got.Create.Filters) != 1 || got.Create.Filters[0] != FilterNoDelete {
		t.Errorf("Filters = %v, want [FilterNoDelete]", got.Create.Filters)
	}
	if got.Token != "secret" {
		t.Errorf("Token = %q, want %q", got.Token, "secret")
	}
}

func TestSingleKeyRequestOmitsRangeEnd(t *testing.T) {
	data, err := EncodeRequest(NewCreateRequest(SingleKey("k")))
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	var raw map[uint64]map[uint64]any
	if err := Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, ok := raw[1][2]; ok {
		t.Error("single key create should not carry a range end")
	}
}

func TestEventResponseRoundTrip(t *testing.T) {
	resp := &WatchResponse{
		Header:  ResponseHeader{Revision: 9},
		WatchID: 3,
		Events: []Event{
			{Type: EventPut, KV: KeyValue{Key: []byte("k"), Value: []byte("v1"), CreateRevision: 8, ModRevision: 8, Version: 1}},
			{Type: EventDelete, KV: KeyValue{Key: []byte("k"), ModRevision: 9}, PrevKV: &KeyValue{Key: []byte("k"), Value: []byte("v1")}},
		},
	}

	data, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	got, err := DecodeResponse(data)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}

	if got.Kind() != ResponseEvents {
		t.Errorf("Kind() = %v, want EVENTS", got.Kind())
	}
	if got.WatchID != 3 || got.Header.Revision != 9 {
		t.Errorf("WatchID/Revision = %d/%d, want 3/9", got.WatchID, got.Header.Revision)
	}
	if len(got.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(got.Events))
	}
	if !got.Events[0].IsCreate() {
		t.Error("first event should be a create")
	}
	if got.Events[1].Type != EventDelete || got.Events[1].PrevKV == nil {
		t.Errorf("second event = %+v, want delete with prev kv", got.Events[1])
	}
	if string(got.Events[1].PrevKV.Value) != "v1" {
		t.Errorf("PrevKV.Value = %q, want v1", got.Events[1].PrevKV.Value)
	}
}

func TestResponseKind(t *testing.T) {
	tests := []struct {
		resp WatchResponse
		want ResponseKind
	}{
		{WatchResponse{Created: true}, ResponseCreated},
		{WatchResponse{Created: true, Canceled: true}, ResponseRejected},
		{WatchResponse{Canceled: true}, ResponseCanceled},
		{WatchResponse{Events: []Event{{}}}, ResponseEvents},
		{WatchResponse{}, ResponseProgress},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := tt.resp.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeResponseGarbage(t *testing.T) {
	if _, err := DecodeResponse([]byte{0xff, 0x00}); err == nil {
		t.Error("DecodeResponse() should fail on garbage")
	}
}
