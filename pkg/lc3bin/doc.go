// ABOUTME: LC3 binary container format
// ABOUTME: Header parsing, looping frame reader and container writer
// Package lc3bin reads and writes the LC3 binary container.
//
// A container is a fixed 18-byte little-endian header followed by frames,
// each prefixed by its length as a 2-byte little-endian value. The Reader
// walks an in-memory container frame by frame and wraps back to the first
// frame when the end is reached, which makes it suitable for looping
// playback of a fixed clip.
//
// Example:
//
//	hdr, err := lc3bin.ReadHeader(blob)
//	r, err := lc3bin.NewReader(blob)
//	frame := make([]byte, lc3bin.MaxFrameBytes)
//	n, err := r.ReadFrame(frame)
package lc3bin
