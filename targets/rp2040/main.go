//go:build rp2040

package main

import (
	"machine"
	"strconv"
	"time"

	"gotick/core"
	"gotick/protocol"
)

var (
	// Buffers for communication
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	kernel *core.Kernel
	strobe *Strobe

	// Strobe pulses dropped on a full PIO FIFO, as last reported
	strobeMissedReported uint32

	// Debug counters
	messagesReceived uint32
	messagesSent     uint32
	msgerrors        uint32

	// USB connection state tracking
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog state left over from before the reset
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitDebugUART()

	UpdateSystemTime()
	core.TimerInit()

	var onFire func()
	strobe, err = NewStrobe(strobePin)
	if err == nil {
		onFire = strobe.Pulse
	} else {
		msgerrors++
		core.DebugPrintln("strobe: " + err.Error())
	}

	core.SetHardwareAlarm(InitAlarm(onFire))
	kernel = core.NewKernel(core.MustHardwareAlarm())

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(resetConnection)
	// The host expects the ACK promptly after each frame
	transport.SetFlushCallback(writeUSB)
	core.SetGlobalTransport(transport)

	core.InitAlarmCommands(kernel)

	go usbReaderLoop()

	for {
		// A panic in a handler drops the pending bytes instead of the firmware
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				inputBuf := protocol.NewSliceInputBuffer(data)

				transport.Receive(inputBuf)
				messagesReceived++

				consumed := originalLen - inputBuf.Available()
				if consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			// Upcalls queued by the alarm interrupt go out from here,
			// never from interrupt context
			kernel.Processes.DeliverAll()

			if len(outputBuffer.Result()) > 0 {
				writeUSB()
				messagesSent++
			}

			reportStrobe()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

// reportStrobe logs pulses the strobe had to drop since the last report
func reportStrobe() {
	if strobe == nil || strobe.missed == strobeMissedReported {
		return
	}
	strobeMissedReported = strobe.missed
	core.DebugPrintln("strobe: missed " + strconv.FormatUint(uint64(strobe.missed), 10) + " pulses")
}

// resetConnection drops buffered bytes when the host resynchronizes
func resetConnection() {
	inputBuffer.Reset()
	outputBuffer.Reset()
}

// usbReaderLoop runs in a goroutine to continuously read USB data
func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			data, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(1 * time.Millisecond)
				continue
			}

			// First byte after a disconnect starts a fresh session. Processes
			// and their alarms survive; only the link state is reset.
			if usbWasDisconnected {
				usbWasDisconnected = false
				core.DebugPrintln("usb: reconnect after " + strconv.FormatUint(uint64(messagesReceived), 10) +
					" received, " + strconv.FormatUint(uint64(messagesSent), 10) +
					" sent, " + strconv.FormatUint(uint64(msgerrors), 10) + " errors")
				resetConnection()
				transport.Reset()
				messagesReceived = 0
				messagesSent = 0
				consecutiveWriteFailures = 0
			}

			if inputBuffer.Write([]byte{data}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB writes available data from output buffer to USB
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// After several failures assume the host is gone and stop
			// holding stale frames
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				resetConnection()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}
