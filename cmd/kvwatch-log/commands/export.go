package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/kvwatch/kvwatch-go/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// RunExport writes the events of path matching filter to w as JSON lines or
// CSV.
func RunExport(path, format string, filter log.Filter, w io.Writer) error {
	var write func(log.Event) error
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		write = func(e log.Event) error { return enc.Encode(e) }
	case FormatCSV:
		cw := csv.NewWriter(w)
		defer cw.Flush()
		if err := cw.Write([]string{"timestamp", "connection_id", "direction", "layer", "category", "type", "handle", "watch_id"}); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		write = func(e log.Event) error { return cw.Write(csvRow(e)) }
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if err := write(event); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
}

func csvRow(e log.Event) []string {
	var handle, watchID string
	if e.Message != nil {
		if e.Message.Handle != nil {
			handle = strconv.FormatUint(*e.Message.Handle, 10)
		}
		if e.Message.WatchID != nil {
			watchID = strconv.FormatInt(*e.Message.WatchID, 10)
		}
	}
	return []string{
		e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		e.ConnectionID,
		e.Direction.String(),
		e.Layer.String(),
		e.Category.String(),
		eventLabel(e),
		handle,
		watchID,
	}
}
