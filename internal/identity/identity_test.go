// ABOUTME: Tests for broadcast identifier derivation
// ABOUTME: Tests byte order, fallbacks and the machine-id source
package identity

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type failingSource struct{}

func (failingSource) HardwareID(int) ([]byte, error) {
	return nil, errors.New("no device id")
}

func TestDeriveBroadcastID(t *testing.T) {
	tests := []struct {
		name string
		src  HardwareIDSource
		want uint32
	}{
		{"little endian", Static{0x01, 0x02, 0x03}, 0x030201},
		{"long id", Static{0x01, 0x02, 0x03, 0x04}, FallbackBroadcastID},
		{"short id", Static{0x01, 0x02}, FallbackBroadcastID},
		{"empty id", Static{}, FallbackBroadcastID},
		{"read failure", failingSource{}, FallbackBroadcastID},
		{"nil source", nil, FallbackBroadcastID},
		{"override", FromBroadcastID(0x123456), 0x123456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveBroadcastID(tt.src); got != tt.want {
				t.Errorf("expected 0x%06X, got 0x%06X", tt.want, got)
			}
		})
	}
}

func TestMachineID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine-id")
	if err := os.WriteFile(path, []byte("0123456789abcdef0123456789abcdef\n"), 0o644); err != nil {
		t.Fatalf("failed to write machine-id: %v", err)
	}

	src := MachineID{Paths: []string{filepath.Join(dir, "missing"), path}}
	id, err := src.HardwareID(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) != 3 || id[0] != 0x01 || id[1] != 0x23 || id[2] != 0x45 {
		t.Errorf("unexpected id bytes: %x", id)
	}

	if got := DeriveBroadcastID(src); got != 0x452301 {
		t.Errorf("expected 0x452301, got 0x%06X", got)
	}
}

func TestMachineIDUnavailable(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "machine-id")
	os.WriteFile(bad, []byte("not-an-id"), 0o644)

	_, err := MachineID{Paths: []string{bad}}.HardwareID(3)
	if !errors.Is(err, ErrHardwareIDUnavailable) {
		t.Errorf("expected ErrHardwareIDUnavailable, got %v", err)
	}

	if got := DeriveBroadcastID(MachineID{Paths: []string{filepath.Join(dir, "none")}}); got != FallbackBroadcastID {
		t.Errorf("expected fallback, got 0x%06X", got)
	}
}

func TestBroadcastAudioURI(t *testing.T) {
	addr := net.HardwareAddr{0xC0, 0xFF, 0xEE, 0x00, 0x11, 0x22}
	uri := BroadcastAudioURI("Hold on a Sec", addr, 0, 0xDEADBF)

	want := "BLUETOOTH:UUID:184F;BN:SG9sZCBvbiBhIFNlYw==;SQ:1;AT:1;AD:C0FFEE001122;AS:0;BI:DEADBF;PI:FFFF;NS:1;BS:1;;"
	if uri != want {
		t.Errorf("expected %s, got %s", want, uri)
	}

	if uri := BroadcastAudioURI("x", nil, 1, 0x000001); !strings.Contains(uri, "AD:000000000000;AS:1;BI:000001") {
		t.Errorf("unexpected URI without address: %s", uri)
	}
}
