package serial

import "net"

// PipePort is one end of an in-memory full-duplex connection
type PipePort struct {
	net.Conn
}

// Pipe returns two connected ports. Writes on one end block until the
// other end reads them.
func Pipe() (*PipePort, *PipePort) {
	a, b := net.Pipe()
	return &PipePort{a}, &PipePort{b}
}

// Flush is a no-op; pipe writes are unbuffered
func (p *PipePort) Flush() error {
	return nil
}
