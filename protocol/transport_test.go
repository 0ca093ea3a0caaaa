package protocol

import "testing"

// hostFrame builds a frame the way HostTransport does, without a port
func hostFrame(t *testing.T, seq uint8, cmdID uint16, args ...uint32) []byte {
	t.Helper()
	ht := &HostTransport{currentSeq: uint32(seq), outputBuffer: bytesBuffer()}
	msg, err := ht.buildCommandMessage(cmdID, func(output OutputBuffer) {
		for _, a := range args {
			EncodeVLQUint(output, a)
		}
	})
	if err != nil {
		t.Fatalf("buildCommandMessage failed: %v", err)
	}
	return msg
}

func TestTransportDispatchesFrame(t *testing.T) {
	output := NewScratchOutput()
	var gotID uint16
	var gotArgs []uint32
	transport := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		gotID = cmdID
		for len(*data) > 0 {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			gotArgs = append(gotArgs, v)
		}
		return nil
	})

	frame := hostFrame(t, MessageDest, MsgAlarmCommand, 1, 6, 100, 50)
	input := NewSliceInputBuffer(frame)
	transport.Receive(input)

	if input.Available() != 0 {
		t.Errorf("Expected frame fully consumed, %d bytes left", input.Available())
	}
	if gotID != MsgAlarmCommand {
		t.Errorf("Expected message id %d, got %d", MsgAlarmCommand, gotID)
	}
	if len(gotArgs) != 4 || gotArgs[2] != 100 || gotArgs[3] != 50 {
		t.Errorf("Unexpected arguments: %v", gotArgs)
	}

	ack := output.Result()
	if len(ack) != MessageLengthMin {
		t.Fatalf("Expected a %d byte ACK, got %v", MessageLengthMin, ack)
	}
	if ack[MessagePositionSeq] != MessageDest+1 {
		t.Errorf("Expected ACK sequence 0x11, got 0x%02x", ack[MessagePositionSeq])
	}
	if _, status := checkFrame(ack); status != frameOK {
		t.Error("ACK does not pass frame validation")
	}
}

func TestTransportPartialFrame(t *testing.T) {
	output := NewScratchOutput()
	calls := 0
	transport := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		calls++
		*data = nil
		return nil
	})

	frame := hostFrame(t, MessageDest, MsgGetClock)
	fifo := NewFifoBuffer(128)
	fifo.Write(frame[:3])

	transport.Receive(fifo)
	if calls != 0 {
		t.Fatal("Handler called on a partial frame")
	}
	if fifo.Available() != 3 {
		t.Errorf("Expected partial frame kept, %d bytes buffered", fifo.Available())
	}

	fifo.Write(frame[3:])
	transport.Receive(fifo)
	if calls != 1 {
		t.Errorf("Expected 1 handler call, got %d", calls)
	}
	if !fifo.IsEmpty() {
		t.Errorf("Expected empty FIFO, %d bytes left", fifo.Available())
	}
}

func TestTransportCorruptFrameResyncs(t *testing.T) {
	output := NewScratchOutput()
	calls := 0
	transport := NewTransport(output, func(cmdID uint16, data *[]byte) error {
		calls++
		*data = nil
		return nil
	})

	bad := hostFrame(t, MessageDest, MsgGetClock)
	bad[len(bad)-2] ^= 0xFF // break the CRC
	good := hostFrame(t, MessageDest, MsgGetClock)

	transport.Receive(NewSliceInputBuffer(append(bad, good...)))
	if calls != 1 {
		t.Errorf("Expected only the valid frame dispatched, got %d calls", calls)
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	output := NewScratchOutput()
	transport := NewTransport(output, nil)
	transport.SendCommand(MsgAlarmResult, func(out OutputBuffer) {
		EncodeVLQUint(out, 1)
		EncodeVLQUint(out, 6)
		EncodeVLQUint(out, 0)
		EncodeVLQUint(out, 150)
	})

	data := output.Result()
	msgLen, status := checkFrame(data)
	if status != frameOK {
		t.Fatalf("Encoded frame invalid: %v", data)
	}
	msg := &Message{Payload: data[MessageHeaderSize : msgLen-MessageTrailerSize]}
	id, args, err := msg.ID()
	if err != nil || id != MsgAlarmResult {
		t.Fatalf("Expected id %d, got %d (%v)", MsgAlarmResult, id, err)
	}
	var pid, cmd, status2, value uint32
	if err := DecodeVLQArgs(&args, &pid, &cmd, &status2, &value); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if value != 150 {
		t.Errorf("Expected value 150, got %d", value)
	}
}

func TestFifoBufferWrapAround(t *testing.T) {
	fifo := NewFifoBuffer(8)
	fifo.Write([]byte{1, 2, 3, 4, 5})
	fifo.Pop(4)
	if n := fifo.Write([]byte{6, 7, 8, 9, 10}); n != 5 {
		t.Fatalf("Expected 5 bytes written, got %d", n)
	}
	if fifo.Free() != 1 {
		t.Errorf("Expected 1 byte free, got %d", fifo.Free())
	}

	got := fifo.Data()
	want := []byte{5, 6, 7, 8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Byte %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}
