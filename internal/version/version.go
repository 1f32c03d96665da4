// ABOUTME: Version and device identity constants
// ABOUTME: Reported in listener handshakes and telemetry
package version

// Version is overridden at build time with -ldflags "-X"
var Version = "0.1.0"

const (
	Product      = "lc3cast"
	Manufacturer = "Resonate Protocol"
)
