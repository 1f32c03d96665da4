// ABOUTME: Tests for LC3 container parsing and looping reads
// ABOUTME: Covers header fields, frame round trips, wraparound and malformed input
package lc3bin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func makeFrame(size int, fill byte) []byte {
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = fill + byte(i)
	}
	return frame
}

func buildContainer(t *testing.T, hdr Header, frames ...[]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := NewWriter(&buf, hdr)
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("failed to write frame: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return buf.Bytes()
}

var monoHeader = Header{
	SampleRate:    16000,
	Bitrate:       32000,
	Channels:      1,
	FrameDuration: 10000,
	Samples:       32000,
}

func TestReadHeader(t *testing.T) {
	blob := buildContainer(t, monoHeader, makeFrame(40, 1))

	hdr, err := ReadHeader(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if hdr.FrameDuration != 10000 {
		t.Errorf("expected frame duration 10000us, got %d", hdr.FrameDuration)
	}
	if hdr.SampleRate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", hdr.SampleRate)
	}
	if hdr.Channels != 1 {
		t.Errorf("expected 1 channel, got %d", hdr.Channels)
	}
	if hdr.Samples != 32000 {
		t.Errorf("expected 32000 samples, got %d", hdr.Samples)
	}
	if hdr.Bitrate != 32000 {
		t.Errorf("expected bitrate 32000, got %d", hdr.Bitrate)
	}
	if hdr.HeaderSize != HeaderSize {
		t.Errorf("expected header size %d, got %d", HeaderSize, hdr.HeaderSize)
	}
	if hdr.FileID != FileID {
		t.Errorf("expected file id %#x, got %#x", FileID, hdr.FileID)
	}
	if hdr.Duration().Seconds() != 2 {
		t.Errorf("expected 2s duration, got %v", hdr.Duration())
	}
}

func TestReadHeaderSampleCountHalves(t *testing.T) {
	hdr := monoHeader
	hdr.Samples = 0x0123ABCD
	blob := buildContainer(t, hdr)

	got, err := ReadHeader(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Samples != 0x0123ABCD {
		t.Errorf("expected samples %#x, got %#x", 0x0123ABCD, got.Samples)
	}
}

func TestReadHeaderTruncated(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"short", make([]byte, HeaderSize-1)},
		{"declared size past end", func() []byte {
			b := make([]byte, HeaderSize)
			binary.LittleEndian.PutUint16(b[2:4], 64)
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader(tt.blob)
			if !errors.Is(err, ErrTruncatedContainer) {
				t.Errorf("expected ErrTruncatedContainer, got %v", err)
			}
		})
	}
}

func TestReadHeaderExtendedSize(t *testing.T) {
	blob := buildContainer(t, monoHeader)
	// Grow the header by 4 bytes and place one frame after it
	binary.LittleEndian.PutUint16(blob[2:4], HeaderSize+4)
	blob = append(blob, 0xEE, 0xEE, 0xEE, 0xEE)
	blob = append(blob, 20, 0)
	blob = append(blob, makeFrame(20, 7)...)

	r, err := NewReader(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame := make([]byte, MaxFrameBytes)
	n, err := r.ReadFrame(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(frame[:n], makeFrame(20, 7)) {
		t.Errorf("frame after extended header does not match")
	}
}

func TestReadFrameRoundTrip(t *testing.T) {
	sizes := []int{20, 40, 45, 120, 400, 77}
	frames := make([][]byte, len(sizes))
	for i, s := range sizes {
		frames[i] = makeFrame(s, byte(i*13))
	}

	r, err := NewReader(buildContainer(t, monoHeader, frames...))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst := make([]byte, MaxFrameBytes)
	for i, want := range frames {
		n, err := r.ReadFrame(dst)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if !bytes.Equal(dst[:n], want) {
			t.Errorf("frame %d: expected %d bytes matching input, got %d", i, len(want), n)
		}
	}
}

func TestReadFrameWraparound(t *testing.T) {
	first := makeFrame(40, 1)
	second := makeFrame(45, 100)

	r, err := NewReader(buildContainer(t, monoHeader, first, second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var hooked []uint64
	r.OnLoop(func(loops uint64) { hooked = append(hooked, loops) })

	dst := make([]byte, MaxFrameBytes)
	expected := [][]byte{first, second, first, second, first, second, first}

	for i, want := range expected {
		n, err := r.ReadFrame(dst)
		if err != nil {
			t.Fatalf("read %d: unexpected error: %v", i, err)
		}
		if !bytes.Equal(dst[:n], want) {
			t.Errorf("read %d: expected %d-byte frame, got %d bytes", i, len(want), n)
		}
	}

	if r.Loops() != 3 {
		t.Errorf("expected 3 loops, got %d", r.Loops())
	}
	if len(hooked) != 3 || hooked[2] != 3 {
		t.Errorf("expected loop hook called with 1,2,3, got %v", hooked)
	}
	if r.Offset() != HeaderSize+2+40 {
		t.Errorf("expected cursor after first frame, got %d", r.Offset())
	}
}

func TestRewind(t *testing.T) {
	first := makeFrame(30, 3)
	r, err := NewReader(buildContainer(t, monoHeader, first, makeFrame(50, 9), makeFrame(60, 2)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst := make([]byte, MaxFrameBytes)
	for i := 0; i < 2; i++ {
		if _, err := r.ReadFrame(dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	r.Rewind()
	n, err := r.ReadFrame(dst)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(dst[:n], first) {
		t.Error("expected first frame after rewind")
	}
	if r.Loops() != 0 {
		t.Errorf("rewind should not count as a loop, got %d", r.Loops())
	}
}

func TestReadFrameMalformed(t *testing.T) {
	t.Run("length exceeds remaining bytes", func(t *testing.T) {
		blob := buildContainer(t, monoHeader, makeFrame(40, 1))
		blob = blob[:len(blob)-5]

		r, err := NewReader(blob)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err = r.ReadFrame(make([]byte, MaxFrameBytes))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
		if r.Offset() != HeaderSize {
			t.Errorf("cursor moved on malformed frame: %d", r.Offset())
		}
	})

	t.Run("length exceeds destination", func(t *testing.T) {
		r, err := NewReader(buildContainer(t, monoHeader, makeFrame(100, 1)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err = r.ReadFrame(make([]byte, 50))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
	})

	t.Run("no frames", func(t *testing.T) {
		r, err := NewReader(buildContainer(t, monoHeader))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err = r.ReadFrame(make([]byte, MaxFrameBytes))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
	})

	t.Run("dangling length byte", func(t *testing.T) {
		blob := append(buildContainer(t, monoHeader, makeFrame(40, 1)), 0x05)
		r, err := NewReader(blob)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		dst := make([]byte, MaxFrameBytes)
		if _, err := r.ReadFrame(dst); err != nil {
			t.Fatalf("first frame: unexpected error: %v", err)
		}
		if _, err := r.ReadFrame(dst); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("expected ErrMalformedFrame, got %v", err)
		}
	})
}

func TestScan(t *testing.T) {
	frames := [][]byte{makeFrame(40, 1), makeFrame(40, 2), makeFrame(41, 3)}
	blob := buildContainer(t, monoHeader, frames...)

	var sizes []int
	count, err := Scan(blob, func(index int, frame []byte) error {
		if !bytes.Equal(frame, frames[index]) {
			t.Errorf("frame %d mismatch", index)
		}
		sizes = append(sizes, len(frame))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 frames, got %d", count)
	}
	if len(sizes) != 3 || sizes[2] != 41 {
		t.Errorf("unexpected sizes: %v", sizes)
	}

	stop := errors.New("stop")
	count, err = Scan(blob, func(index int, frame []byte) error {
		if index == 1 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || count != 1 {
		t.Errorf("expected scan to stop at frame 1, got count=%d err=%v", count, err)
	}

	if _, err := Scan(blob[:len(blob)-1], nil); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame for truncated frame, got %v", err)
	}
}

func TestWriterRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, monoHeader)

	if err := w.WriteFrame(make([]byte, MaxFrameBytes+1)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
	if w.Frames() != 0 {
		t.Errorf("expected no frames written, got %d", w.Frames())
	}
}
