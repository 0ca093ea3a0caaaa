//go:build !wasm

package serial

import (
	"fmt"
	"sync"

	tty "github.com/mattn/go-tty"
)

// TTYPort is a raw-mode terminal device. It suits pseudo terminals such
// as the serial console QEMU exposes for an emulated board, where the
// line discipline would otherwise eat frame bytes.
type TTYPort struct {
	tty     *tty.TTY
	restore func() error
	once    sync.Once
}

// OpenTTY opens device and switches it to raw mode
func OpenTTY(device string) (Port, error) {
	t, err := tty.OpenDevice(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open tty %s: %w", device, err)
	}
	restore, err := t.Raw()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to set raw mode on %s: %w", device, err)
	}
	return &TTYPort{tty: t, restore: restore}, nil
}

// Read reads raw bytes from the device
func (p *TTYPort) Read(b []byte) (int, error) {
	return p.tty.Input().Read(b)
}

// Write writes raw bytes to the device
func (p *TTYPort) Write(b []byte) (int, error) {
	return p.tty.Output().Write(b)
}

// Flush syncs the output side
func (p *TTYPort) Flush() error {
	return p.tty.Output().Sync()
}

// Close restores the terminal mode and closes the device
func (p *TTYPort) Close() error {
	var err error
	p.once.Do(func() {
		if p.restore != nil {
			_ = p.restore()
		}
		err = p.tty.Close()
	})
	return err
}
