package sim

import (
	"errors"
	"io"
	"sync"

	"gotick/core"
	"gotick/protocol"
)

// Device is an in-process gotick kernel serving the wire protocol on a
// port, with a clock that only moves when Advance is called. It uses the
// core package globals (clock, command registry, response transport), so
// only one Device may exist at a time.
type Device struct {
	mu        sync.Mutex
	port      io.ReadWriter
	alarm     *core.SysTickAlarm
	kernel    *core.Kernel
	input     *protocol.FifoBuffer
	output    *protocol.ScratchOutput
	transport *protocol.Transport
}

// NewDevice builds the kernel at tick start and registers its commands
func NewDevice(port io.ReadWriter, freq core.Frequency, start core.Ticks) *Device {
	core.SetTime(start)
	core.TimerInit()

	alarm := core.NewSysTickAlarm(freq)
	core.SetHardwareAlarm(alarm)

	d := &Device{
		port:   port,
		alarm:  alarm,
		kernel: core.NewKernel(core.MustHardwareAlarm()),
		input:  protocol.NewFifoBuffer(1024),
		output: protocol.NewScratchOutput(),
	}
	d.transport = protocol.NewTransport(d.output, core.DispatchCommand)
	core.SetGlobalTransport(d.transport)
	core.InitAlarmCommands(d.kernel)
	return d
}

// Kernel returns the simulated kernel
func (d *Device) Kernel() *core.Kernel {
	return d.kernel
}

// Serve handles incoming frames until the port is closed
func (d *Device) Serve() error {
	buf := make([]byte, 256)
	for {
		n, err := d.port.Read(buf)
		if n > 0 {
			d.mu.Lock()
			d.input.Write(buf[:n])
			d.transport.Receive(d.input)
			werr := d.flush()
			d.mu.Unlock()
			if werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// Advance moves the clock forward by dt, fires due alarms and sends the
// resulting upcalls, the way one pass of the firmware main loop does.
func (d *Device) Advance(dt core.Ticks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	core.AdvanceTime(dt)
	for i := 0; i < maxPolls && d.alarm.Poll(); i++ {
	}
	d.kernel.Processes.DeliverAll()
	return d.flush()
}

// flush writes pending output frames to the port
func (d *Device) flush() error {
	out := d.output.Result()
	if len(out) == 0 {
		return nil
	}
	_, err := d.port.Write(out)
	d.output.Reset()
	return err
}
