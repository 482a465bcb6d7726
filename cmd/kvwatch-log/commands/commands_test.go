package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvwatch/kvwatch-go/pkg/log"
	"github.com/kvwatch/kvwatch-go/pkg/wire"
)

var traceStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// writeTrace records a short session: connect, one create acknowledged and
// one event batch, then a second session after a reconnect.
func writeTrace(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.wlog")
	fl, err := log.NewFileLogger(path)
	require.NoError(t, err)

	at := func(ms int) time.Time { return traceStart.Add(time.Duration(ms) * time.Millisecond) }
	create := &wire.WatchRequest{Create: &wire.CreateRequest{Key: []byte("k")}}

	events := []log.Event{
		{Timestamp: at(0), ConnectionID: "session-aaaa-1111", Layer: log.LayerWatch, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: "CONNECTING", NewState: "CONNECTED"}},
		{Timestamp: at(1), ConnectionID: "session-aaaa-1111", Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: log.RequestMessage(create, 1)},
		{Timestamp: at(2), ConnectionID: "session-aaaa-1111", Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: log.ResponseMessage(&wire.WatchResponse{WatchID: 0, Created: true})},
		{Timestamp: at(3), ConnectionID: "session-aaaa-1111", Direction: log.DirectionIn, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: log.ResponseMessage(&wire.WatchResponse{WatchID: 0, Header: wire.ResponseHeader{Revision: 7}, Events: []wire.Event{{Type: wire.EventPut}}})},
		{Timestamp: at(4), ConnectionID: "session-aaaa-1111", Layer: log.LayerTransport, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "connection reset"}},
		{Timestamp: at(10), ConnectionID: "session-bbbb-2222", Direction: log.DirectionOut, Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: log.RequestMessage(create, 1)},
	}
	for _, e := range events {
		fl.Log(e)
	}
	require.NoError(t, fl.Close())
	return path
}

func TestRunView(t *testing.T) {
	path := writeTrace(t)

	var buf bytes.Buffer
	require.NoError(t, RunView(path, log.Filter{}, &buf))
	out := buf.String()

	assert.Contains(t, out, "[conn:session-] OUT WIRE CREATE")
	assert.Contains(t, out, "  Handle: 1")
	assert.Contains(t, out, `  Key: "k"`)
	assert.Contains(t, out, "  Kind: EVENTS")
	assert.Contains(t, out, "  Revision: 7")
	assert.Contains(t, out, "  CONNECTING -> CONNECTED")
	assert.Contains(t, out, "  Message: connection reset")
}

func TestRunViewFiltered(t *testing.T) {
	path := writeTrace(t)
	filter, err := FilterFlags{Direction: "in", WatchID: -1}.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RunView(path, filter, &buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "RESPONSE"))
	assert.NotContains(t, buf.String(), "CREATE\n")
}

func TestRunStats(t *testing.T) {
	path := writeTrace(t)

	stats, err := CollectStats(path)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalEvents)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 4, stats.EventsByLayer[log.LayerWire])
	require.Len(t, stats.Sessions, 2)

	first := stats.Sessions["session-aaaa-1111"]
	assert.Equal(t, 1, first.Creates)
	assert.Equal(t, 2, first.Responses)
	assert.Len(t, first.Handles, 1)

	var buf bytes.Buffer
	require.NoError(t, RunStats(path, &buf))
	assert.Contains(t, buf.String(), "Total Events: 6")
	assert.Contains(t, buf.String(), "Sessions: 2")
}

func TestRunFilter(t *testing.T) {
	path := writeTrace(t)
	out := filepath.Join(t.TempDir(), "filtered.wlog")

	filter, err := FilterFlags{ConnID: "session-bbbb-2222", WatchID: -1}.Build()
	require.NoError(t, err)
	kept, scanned, err := RunFilter(path, out, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, kept)
	assert.Equal(t, 6, scanned)

	stats, err := CollectStats(out)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEvents)
}

func TestRunExport(t *testing.T) {
	path := writeTrace(t)

	t.Run("JSONL", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RunExport(path, FormatJSONL, log.Filter{}, &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 6)
		var e log.Event
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
		require.NotNil(t, e.Message)
		assert.Equal(t, log.MessageTypeCreate, e.Message.Type)
	})

	t.Run("CSV", func(t *testing.T) {
		var buf bytes.Buffer
		filter, err := FilterFlags{Handle: 1, WatchID: -1}.Build()
		require.NoError(t, err)
		require.NoError(t, RunExport(path, FormatCSV, filter, &buf))
		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "handle", rows[0][6])
		assert.Equal(t, "1", rows[1][6])
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		assert.Error(t, RunExport(path, "xml", log.Filter{}, &bytes.Buffer{}))
	})
}

func TestFilterFlagsBuild(t *testing.T) {
	f, err := FilterFlags{Layer: "WATCH", Category: "state", WatchID: 3, TimeStart: "2026-03-01T12:00:00Z"}.Build()
	require.NoError(t, err)
	assert.Equal(t, log.LayerWatch, *f.Layer)
	assert.Equal(t, log.CategoryState, *f.Category)
	assert.Equal(t, int64(3), *f.WatchID)
	assert.True(t, f.TimeStart.Equal(traceStart))
	assert.Nil(t, f.Handle)

	for _, bad := range []FilterFlags{
		{Layer: "service", WatchID: -1},
		{Direction: "sideways", WatchID: -1},
		{Category: "control", WatchID: -1},
		{TimeEnd: "yesterday", WatchID: -1},
	} {
		_, err := bad.Build()
		assert.Error(t, err, "%+v", bad)
	}
}
