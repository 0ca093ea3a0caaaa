// Package kernel is the host side of the alarm syscall surface: it drives
// a gotick kernel over the framed serial protocol.
package kernel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"gotick/core"
	"gotick/host/serial"
	"gotick/protocol"
)

// DefaultTimeout bounds the wait for a command's response
const DefaultTimeout = 2 * time.Second

// timingIdle ends a get_timing read when no further event arrives
const timingIdle = 100 * time.Millisecond

// Upcall is an alarm expiry forwarded by the device
type Upcall struct {
	PID      uint8
	Now      uint32
	Deadline uint32
	Arg      uint32
}

// Client talks to one device. Requests are serialized: each one is sent,
// acknowledged and answered before the next starts.
type Client struct {
	transport *protocol.HostTransport
	timeout   time.Duration

	mu      sync.Mutex // held for a whole request
	upcalls chan Upcall
	dropped uint32 // atomic
}

// Connect opens the port described by cfg and returns a client on it
func Connect(cfg *serial.Config) (*Client, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open port: %w", err)
	}
	return NewClient(port), nil
}

// NewClient wraps an open port
func NewClient(port io.ReadWriteCloser) *Client {
	c := &Client{
		transport: protocol.NewHostTransport(port),
		timeout:   DefaultTimeout,
		upcalls:   make(chan Upcall, 64),
	}
	c.transport.SetResponseHandler(c.handleResponse)
	return c
}

// SetTimeout changes the response timeout
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close stops the transport and closes the port
func (c *Client) Close() error {
	return c.transport.Close()
}

// Upcalls returns the stream of alarm expiries of subscribed processes
func (c *Client) Upcalls() <-chan Upcall {
	return c.upcalls
}

// Dropped returns how many upcalls were lost because nobody read them
func (c *Client) Dropped() uint32 {
	return atomic.LoadUint32(&c.dropped)
}

// handleResponse runs on the transport's reader goroutine
func (c *Client) handleResponse(id uint16, data *[]byte) error {
	if id != protocol.MsgAlarmUpcall {
		return nil
	}
	var pid, now, deadline, arg uint32
	if err := protocol.DecodeVLQArgs(data, &pid, &now, &deadline, &arg); err != nil {
		return err
	}
	select {
	case c.upcalls <- Upcall{PID: uint8(pid), Now: now, Deadline: deadline, Arg: arg}:
	default:
		atomic.AddUint32(&c.dropped, 1)
	}
	return nil
}

// request sends one message and returns the arguments of the response
// with id want
func (c *Client) request(id uint16, want uint16, args ...uint32) ([]uint32, error) {
	name := protocol.MessageName(id)
	err := c.transport.SendCommandWithTimeout(id, func(output protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(output, a)
		}
	}, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	data, err := c.transport.WaitFor(want, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var values []uint32
	for len(data) > 0 {
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, fmt.Errorf("%s: bad %s: %w", name, protocol.MessageName(want), err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Clock returns the device's current tick
func (c *Client) Clock() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.request(protocol.MsgGetClock, protocol.MsgClock)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("get_clock: expected 1 value, got %d", len(values))
	}
	return values[0], nil
}

// Spawn creates a process on the device
func (c *Client) Spawn() (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.request(protocol.MsgSpawnProcess, protocol.MsgProcessResult)
	if err != nil {
		return 0, err
	}
	return processResult(values)
}

// Terminate kills a process and releases its alarm
func (c *Client) Terminate(pid uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.request(protocol.MsgTerminateProcess, protocol.MsgProcessResult, uint32(pid))
	if err != nil {
		return err
	}
	_, err = processResult(values)
	return err
}

func processResult(values []uint32) (uint8, error) {
	if len(values) != 2 {
		return 0, fmt.Errorf("process_result: expected 2 values, got %d", len(values))
	}
	if err := core.ErrorOf(uint8(values[1])); err != nil {
		return 0, err
	}
	return uint8(values[0]), nil
}

// Command runs alarm driver command cmd for pid and returns its value.
// Driver failures come back as the core sentinel errors.
func (c *Client) Command(pid uint8, cmd, data, data2 uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.request(protocol.MsgAlarmCommand, protocol.MsgAlarmResult, uint32(pid), cmd, data, data2)
	if err != nil {
		return 0, err
	}
	return alarmResult(values, pid, cmd)
}

// Subscribe turns delivery of pid's alarm expiries on or off
func (c *Client) Subscribe(pid uint8, enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.request(protocol.MsgAlarmSubscribe, protocol.MsgAlarmResult, uint32(pid), flagOf(enable))
	if err != nil {
		return err
	}
	_, err = alarmResult(values, pid, protocol.SubscribeCmd)
	return err
}

func alarmResult(values []uint32, pid uint8, cmd uint32) (uint32, error) {
	if len(values) != 4 {
		return 0, fmt.Errorf("alarm_result: expected 4 values, got %d", len(values))
	}
	if values[0] != uint32(pid) || values[1] != cmd {
		return 0, fmt.Errorf("alarm_result for pid %d cmd %d, expected pid %d cmd %d", values[0], values[1], pid, cmd)
	}
	if err := core.ErrorOf(uint8(values[2])); err != nil {
		return 0, err
	}
	return values[3], nil
}

// SetDebug switches the device's debug output and timing capture and
// returns the state the device reports back
func (c *Client) SetDebug(debug, timing bool) (debugOn, timingOn bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.request(protocol.MsgSetDebug, protocol.MsgDebugState, flagOf(debug), flagOf(timing))
	if err != nil {
		return false, false, err
	}
	if len(values) != 2 {
		return false, false, fmt.Errorf("debug_state: expected 2 values, got %d", len(values))
	}
	return values[0] != 0, values[1] != 0, nil
}

func flagOf(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Timing reads up to count events of the device's timing ring starting
// at offset, oldest first. Large reads are split into device windows.
func (c *Client) Timing(offset, count uint32) ([]core.TimingEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []core.TimingEvent
	for count > 0 {
		window := count
		if window > core.TimingWindowMax {
			window = core.TimingWindowMax
		}
		got, err := c.timingWindow(offset, window)
		events = append(events, got...)
		if err != nil {
			return events, err
		}
		if uint32(len(got)) < window {
			break
		}
		offset += window
		count -= window
	}
	return events, nil
}

func (c *Client) timingWindow(offset, count uint32) ([]core.TimingEvent, error) {
	err := c.transport.SendCommandWithTimeout(protocol.MsgGetTiming, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, count)
	}, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("get_timing: %w", err)
	}

	var events []core.TimingEvent
	for uint32(len(events)) < count {
		data, err := c.transport.WaitFor(protocol.MsgTimingEvent, timingIdle)
		if err != nil {
			if errors.Is(err, protocol.ErrTransportStopped) {
				return events, err
			}
			// The ring held fewer events than asked for
			break
		}
		var index, typ, id, clock, v1, v2 uint32
		if err := protocol.DecodeVLQArgs(&data, &index, &typ, &id, &clock, &v1, &v2); err != nil {
			return events, fmt.Errorf("get_timing: bad timing_event: %w", err)
		}
		events = append(events, core.TimingEvent{
			EventType: uint8(typ),
			ID:        uint8(id),
			Clock:     clock,
			Value1:    v1,
			Value2:    v2,
		})
	}
	return events, nil
}
