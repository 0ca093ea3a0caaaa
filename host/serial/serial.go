package serial

import (
	"io"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Raw TTY device (using github.com/mattn/go-tty), e.g. a QEMU pty
// - In-process pipes (for the simulator and tests)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Port kinds accepted in Config.Kind
const (
	KindSerial = "serial"
	KindTTY    = "tty"
)

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3", "/dev/pts/3")
	Device string

	// Kind selects the port implementation (KindSerial or KindTTY)
	Kind string

	// Baud rate (USB CDC ignores this)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the configuration for a USB CDC device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Kind:        KindSerial,
		Baud:        250000,
		ReadTimeout: 100, // 100ms read timeout
	}
}
