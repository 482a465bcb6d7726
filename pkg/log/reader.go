package log

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrTruncated is returned by Reader.Next when the trace ends inside a
// record, as it does when the writing process died mid-write.
var ErrTruncated = errors.New("trace truncated")

// Filter selects trace events. A zero field places no constraint, so the
// zero Filter matches everything.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// Handle and WatchID only match wire messages that carry them.
	Handle  *uint64
	WatchID *int64
}

// Match reports whether e satisfies every constraint in f.
func (f Filter) Match(e Event) bool {
	switch {
	case f.ConnectionID != "" && e.ConnectionID != f.ConnectionID:
		return false
	case f.Direction != nil && e.Direction != *f.Direction:
		return false
	case f.Layer != nil && e.Layer != *f.Layer:
		return false
	case f.Category != nil && e.Category != *f.Category:
		return false
	case f.TimeStart != nil && e.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !e.Timestamp.Before(*f.TimeEnd):
		return false
	}

	if f.Handle != nil {
		h, ok := e.handle()
		if !ok || h != *f.Handle {
			return false
		}
	}
	if f.WatchID != nil {
		id, ok := e.watchID()
		if !ok || id != *f.WatchID {
			return false
		}
	}
	return true
}

func (e Event) handle() (uint64, bool) {
	if e.Message == nil || e.Message.Handle == nil {
		return 0, false
	}
	return *e.Message.Handle, true
}

func (e Event) watchID() (int64, bool) {
	if e.Message == nil || e.Message.WatchID == nil {
		return 0, false
	}
	return *e.Message.WatchID, true
}

// Reader streams events out of a trace written by FileLogger, one record
// at a time.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter

	scanned int
}

// NewReader opens the trace at path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the trace at path and yields only events that
// match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	return &Reader{
		file:   file,
		dec:    NewDecoder(bufio.NewReader(file)),
		filter: filter,
	}, nil
}

// Next returns the next matching event, or io.EOF at the end of the trace.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		err := r.dec.Decode(&e)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return Event{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Event{}, fmt.Errorf("%w after %d events", ErrTruncated, r.scanned)
		default:
			return Event{}, fmt.Errorf("decode event %d: %w", r.scanned+1, err)
		}

		r.scanned++
		if r.filter.Match(e) {
			return e, nil
		}
	}
}

// Scanned returns how many events have been decoded, matching or not.
func (r *Reader) Scanned() int {
	return r.scanned
}

// Close releases the trace file.
func (r *Reader) Close() error {
	return r.file.Close()
}
