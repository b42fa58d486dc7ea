package frame_test

import (
	"bytes"
	"io"
	"testing"

	"loopbackd/internal/frame"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	payload := []byte("hello loopback")
	if err := frame.Write(&buf, payload, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := frame.Read(&buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteReadEmptyPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := frame.Write(&buf, nil, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := frame.Read(&buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %q", got)
	}
}

func TestWriteRejectsOversizePayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := frame.Write(&buf, make([]byte, 100), 10)
	if err == nil {
		t.Fatal("expected error for oversize payload")
	}
}

func TestReadRejectsOversizeHeader(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	// Construct a frame whose declared length exceeds maxBytes without
	// actually writing that much payload.
	_ = frame.Write(&buf, make([]byte, 20), 0)
	_, err := frame.Read(&buf, 10)
	if err == nil {
		t.Fatal("expected error for oversize declared length")
	}
}

func TestReadCleanEOFBeforeAnyFrame(t *testing.T) {
	t.Parallel()

	r := bytes.NewReader(nil)
	_, err := frame.Read(r, 0)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadTruncatedFrameIsUnexpectedEOF(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := frame.Write(&buf, []byte("truncated-me"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	truncated := buf.Bytes()[:6]
	_, err := frame.Read(bytes.NewReader(truncated), 0)
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestMultipleFramesOnSameStream(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	messages := []string{"one", "two", "three"}
	for _, m := range messages {
		if err := frame.Write(&buf, []byte(m), 0); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	for _, want := range messages {
		got, err := frame.Read(&buf, 0)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}
