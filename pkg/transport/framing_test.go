package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/kvwatch/kvwatch-go/pkg/log"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x42}},
		{"small message", []byte("hello")},
		{"binary data", []byte{0x00, 0xFF, 0x7F, 0x80}},
		{"event batch sized", bytes.Repeat([]byte("x"), 64*1024)},
		{"max size message", bytes.Repeat([]byte("y"), DefaultMaxMessageSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			if err := NewFrameWriter(buf).WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != FrameSize(len(tt.payload)) {
				t.Errorf("frame size = %d, want %d", buf.Len(), FrameSize(len(tt.payload)))
			}

			got, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got), len(tt.payload))
			}
		})
	}
}

func TestFrameWriterErrors(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		w := NewFrameWriter(new(bytes.Buffer))
		if err := w.WriteFrame(nil); !errors.Is(err, ErrMessageEmpty) {
			t.Errorf("expected ErrMessageEmpty, got %v", err)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		w := NewFrameWriterWithMaxSize(new(bytes.Buffer), 100)
		if err := w.WriteFrame(bytes.Repeat([]byte("x"), 101)); !errors.Is(err, ErrMessageTooLarge) {
			t.Errorf("expected ErrMessageTooLarge, got %v", err)
		}
	})
}

func prefixed(length uint32, payload []byte) *bytes.Buffer {
	buf := new(bytes.Buffer)
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], length)
	buf.Write(lengthBuf[:])
	buf.Write(payload)
	return buf
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   io.Reader
		maxSize uint32
		wantErr error
	}{
		{"eof", new(bytes.Buffer), DefaultMaxMessageSize, io.EOF},
		{"zero length", prefixed(0, nil), DefaultMaxMessageSize, ErrMessageEmpty},
		{"too large", prefixed(1000, bytes.Repeat([]byte("x"), 1000)), 100, ErrMessageTooLarge},
		{"truncated length", bytes.NewReader([]byte{0x00, 0x01}), DefaultMaxMessageSize, ErrFrameTruncated},
		{"truncated payload", prefixed(100, bytes.Repeat([]byte("x"), 50)), DefaultMaxMessageSize, ErrFrameTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReaderWithMaxSize(tt.input, tt.maxSize).ReadFrame()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadFrame error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// writeCounter records the size of every Write call.
type writeCounter struct {
	mu     sync.Mutex
	writes []int
}

func (w *writeCounter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, len(p))
	return len(p), nil
}

func TestFrameWriterSingleWrite(t *testing.T) {
	wc := &writeCounter{}
	w := NewFrameWriter(wc)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteFrame([]byte("abc"))
		}()
	}
	wg.Wait()

	if len(wc.writes) != 10 {
		t.Fatalf("got %d writes, want 10", len(wc.writes))
	}
	for i, n := range wc.writes {
		if n != FrameSize(3) {
			t.Errorf("write %d = %d bytes, want %d", i, n, FrameSize(3))
		}
	}
}

// readWriter combines a reader and writer for testing.
type readWriter struct {
	r io.Reader
	w io.Writer
}

func (rw *readWriter) Read(p []byte) (n int, err error)  { return rw.r.Read(p) }
func (rw *readWriter) Write(p []byte) (n int, err error) { return rw.w.Write(p) }

func TestFramerBidirectional(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()

	logger := &capturingLogger{}
	payload := []byte("test message")
	done := make(chan struct{})

	go func() {
		defer close(done)
		framer := NewFramer(&readWriter{r: r, w: w})
		framer.SetLogger(logger, "conn-789")
		if err := framer.WriteFrame(payload); err != nil {
			t.Errorf("WriteFrame failed: %v", err)
		}
	}()

	framer := NewFramer(&readWriter{r: r, w: w})
	framer.SetLogger(logger, "conn-789")
	got, err := framer.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch")
	}
	<-done

	events := logger.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, e := range events {
		if e.ConnectionID != "conn-789" {
			t.Errorf("ConnectionID = %q, want conn-789", e.ConnectionID)
		}
		if e.Layer != log.LayerTransport || e.Frame == nil {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

func TestMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)

	messages := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, msg := range messages {
		if err := writer.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	reader := NewFrameReader(buf)
	for i, want := range messages {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("message %d mismatch: got %q, want %q", i, got, want)
		}
	}

	if _, err := reader.ReadFrame(); err != io.EOF {
		t.Errorf("expected EOF after all messages, got %v", err)
	}
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

func TestFrameWriterLogsDirectionAndSize(t *testing.T) {
	logger := &capturingLogger{}
	writer := NewFrameWriter(new(bytes.Buffer))
	writer.SetLogger(logger, "conn-123")

	payload := []byte("hello")
	if err := writer.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Direction != log.DirectionOut {
		t.Errorf("Direction = %v, want OUT", e.Direction)
	}
	if e.Category != log.CategoryMessage {
		t.Errorf("Category = %v, want MESSAGE", e.Category)
	}
	if e.Frame.Size != FrameSize(len(payload)) {
		t.Errorf("Frame.Size = %d, want %d", e.Frame.Size, FrameSize(len(payload)))
	}
	if !bytes.Equal(e.Frame.Data, payload) {
		t.Errorf("Frame.Data = %v, want %v", e.Frame.Data, payload)
	}
}

func TestFramerLogsTruncatedData(t *testing.T) {
	logger := &capturingLogger{}
	writer := NewFrameWriter(new(bytes.Buffer))
	writer.SetLogger(logger, "conn-trunc")

	large := bytes.Repeat([]byte("x"), log.MaxFrameData*3)
	if err := writer.WriteFrame(large); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	e := logger.Events()[0]
	if e.Frame.Size != FrameSize(len(large)) {
		t.Errorf("Frame.Size = %d, want %d", e.Frame.Size, FrameSize(len(large)))
	}
	if len(e.Frame.Data) != log.MaxFrameData {
		t.Errorf("Frame.Data length = %d, want %d", len(e.Frame.Data), log.MaxFrameData)
	}
	if !e.Frame.Truncated {
		t.Error("Frame.Truncated = false, want true")
	}
}

func BenchmarkFrameWrite(b *testing.B) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	payload := bytes.Repeat([]byte("x"), 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		writer.WriteFrame(payload)
	}
}
