package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTransportStopped is returned by waits interrupted by Close
var ErrTransportStopped = errors.New("transport stopped")

// ResponseHandler is called for every response frame received
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is a received frame
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
}

// ID decodes the message id at the front of the payload
func (m *Message) ID() (uint16, []byte, error) {
	data := m.Payload
	id, err := DecodeVLQUint(&data)
	return uint16(id), data, err
}

// HostTransport is the host side of the protocol: it sends framed
// commands, waits for their ACK and queues responses.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq     uint32 // atomic; 0x10-0x1F
	isSynchronized uint32 // atomic bool

	inputBuffer  *FifoBuffer
	outputBuffer *bytes.Buffer

	ackChan      chan *Message
	responseChan chan *Message

	responseHandler ResponseHandler

	writeMutex sync.Mutex
	readMutex  sync.Mutex

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport creates a transport over port and starts its reader
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:           port,
		currentSeq:     MessageDest,
		isSynchronized: 1,
		inputBuffer:    NewFifoBuffer(1024),
		outputBuffer:   bytes.NewBuffer(make([]byte, 0, MessageLengthMax)),
		ackChan:        make(chan *Message, 1),
		responseChan:   make(chan *Message, 32),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends a command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command with a custom ACK timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	msg, err := t.buildCommandMessage(cmdID, args)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}
	if err := t.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := t.waitForAck(timeout); err != nil {
		return fmt.Errorf("ACK timeout or error: %w", err)
	}
	return nil
}

// buildCommandMessage frames one command
func (t *HostTransport) buildCommandMessage(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()

	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}

	t.outputBuffer.Reset()
	t.outputBuffer.Write([]byte{uint8(msgLen), uint8(atomic.LoadUint32(&t.currentSeq))})
	t.outputBuffer.Write(payload)
	crc := CRC16(t.outputBuffer.Bytes())
	t.outputBuffer.Write([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})

	msg := make([]byte, t.outputBuffer.Len())
	copy(msg, t.outputBuffer.Bytes())
	return msg, nil
}

func (t *HostTransport) writeMessage(msg []byte) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

func (t *HostTransport) waitForAck(timeout time.Duration) error {
	select {
	case ack := <-t.ackChan:
		expected := uint8(atomic.LoadUint32(&t.currentSeq))
		next := ((expected + 1) & MessageSeqMask) | MessageDest
		if ack.Sequence != next {
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", next, ack.Sequence)
		}
		atomic.StoreUint32(&t.currentSeq, uint32(next))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("ACK timeout after %v", timeout)
	case <-t.stopChan:
		return ErrTransportStopped
	}
}

// ReceiveResponse waits for the next response frame
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrTransportStopped
	}
}

// WaitFor waits for a response with message id, discarding others
func (t *HostTransport) WaitFor(id uint16, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no %s response within %v", MessageName(id), timeout)
		}
		msg, err := t.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		got, args, err := msg.ID()
		if err == nil && got == id {
			return args, nil
		}
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.responseHandler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n > 0 {
			t.inputBuffer.Write(buffer[:n])
			t.processMessages()
		}
	}
}

func (t *HostTransport) processMessages() {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	data := t.inputBuffer.Data()
	for len(data) > 0 {
		if !t.getSynchronized() {
			var found bool
			if data, found = skipToSync(data); found {
				t.setSynchronized(true)
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, status := checkFrame(data)
		if status == frameNeedMore {
			break
		}
		if status == frameBad {
			t.setSynchronized(false)
			continue
		}

		payload := make([]byte, msgLen-MessageHeaderSize-MessageTrailerSize)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		msg := &Message{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  payload,
		}
		data = data[msgLen:]
		t.dispatchMessage(msg)
	}

	consumed := t.inputBuffer.Available() - len(data)
	if consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatchMessage routes ACKs and responses to their channels
func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
		}
		return
	}

	if t.responseHandler != nil {
		if id, args, err := msg.ID(); err == nil {
			_ = t.responseHandler(id, &args)
		}
	}

	select {
	case t.responseChan <- msg:
	default:
		// Full: drop the oldest response
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	close(t.stopChan)
	var err error
	if t.port != nil {
		err = t.port.Close()
	}
	<-t.doneChan
	return err
}

func (t *HostTransport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *HostTransport) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&t.isSynchronized, 1)
	} else {
		atomic.StoreUint32(&t.isSynchronized, 0)
	}
}
