// ABOUTME: LC3 container writer
// ABOUTME: Emits a header followed by length-prefixed frames
package lc3bin

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer writes frames to a container.
// The header is written on the first call to WriteFrame or Close.
type Writer struct {
	w             io.Writer
	header        Header
	headerWritten bool
	frames        int
}

// NewWriter creates a container writer with the given stream description
func NewWriter(w io.Writer, hdr Header) *Writer {
	return &Writer{w: w, header: hdr}
}

func (w *Writer) writeHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := w.w.Write(w.header.Encode()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteFrame appends one length-prefixed frame
func (w *Writer) WriteFrame(frame []byte) error {
	if len(frame) > MaxFrameBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformedFrame, len(frame), MaxFrameBytes)
	}
	if err := w.writeHeader(); err != nil {
		return err
	}

	var prefix [lengthPrefixSize]byte
	binary.LittleEndian.PutUint16(prefix[:], uint16(len(frame)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	w.frames++
	return nil
}

// Frames returns the number of frames written so far
func (w *Writer) Frames() int {
	return w.frames
}

// Close makes sure the header is present, even for an empty container
func (w *Writer) Close() error {
	return w.writeHeader()
}
