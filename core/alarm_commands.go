package core

import "gotick/protocol"

var wireKernel *Kernel

// InitAlarmCommands registers the wire surface of k.
// IMPORTANT: registration order defines the message ids and must follow
// protocol.Messages, since the host does not fetch a dictionary.
func InitAlarmCommands(k *Kernel) {
	wireKernel = k

	handlers := [...]CommandHandler{
		protocol.MsgClock:            nil,
		protocol.MsgGetClock:         handleGetClock,
		protocol.MsgAlarmCommand:     handleAlarmCommand,
		protocol.MsgAlarmResult:      nil,
		protocol.MsgAlarmSubscribe:   handleAlarmSubscribe,
		protocol.MsgAlarmUpcall:      nil,
		protocol.MsgSpawnProcess:     handleSpawnProcess,
		protocol.MsgTerminateProcess: handleTerminateProcess,
		protocol.MsgProcessResult:    nil,
		protocol.MsgGetTiming:        handleGetTiming,
		protocol.MsgTimingEvent:      nil,
		protocol.MsgSetDebug:         handleSetDebug,
		protocol.MsgDebugState:       nil,
	}
	for id, msg := range protocol.Messages {
		if got := RegisterCommand(msg[0], msg[1], handlers[id]); int(got) != id {
			panic("message registered out of order: " + msg[0])
		}
	}
}

// handleGetClock returns the current tick
func handleGetClock(data *[]byte) error {
	now := wireKernel.Hardware.Now()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(now))
	})
	return nil
}

// toProcessID range-checks a wire pid before it is narrowed
func toProcessID(pid uint32) (ProcessID, error) {
	if pid >= MaxProcesses {
		return 0, ErrNoSuchProcess
	}
	return ProcessID(pid), nil
}

func sendAlarmResult(pid, cmd uint32, err error, value uint32) {
	SendResponse("alarm_result", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, pid)
		protocol.EncodeVLQUint(output, cmd)
		protocol.EncodeVLQUint(output, uint32(StatusOf(err)))
		protocol.EncodeVLQUint(output, value)
	})
}

// handleAlarmCommand runs an alarm driver command
// Format: alarm_command pid=%c cmd=%c data=%u data2=%u
func handleAlarmCommand(data *[]byte) error {
	var pid, cmd, arg1, arg2 uint32
	if err := protocol.DecodeVLQArgs(data, &pid, &cmd, &arg1, &arg2); err != nil {
		return err
	}

	var value uint32
	p, err := toProcessID(pid)
	if err == nil {
		value, err = wireKernel.Driver.Command(cmd, arg1, arg2, p)
	}
	sendAlarmResult(pid, cmd, err, value)
	return nil
}

// handleAlarmSubscribe installs or removes the process's alarm upcall.
// Delivered upcalls are forwarded to the host as alarm_upcall.
// Format: alarm_subscribe pid=%c enable=%c
func handleAlarmSubscribe(data *[]byte) error {
	var pid, enable uint32
	if err := protocol.DecodeVLQArgs(data, &pid, &enable); err != nil {
		return err
	}

	p, err := toProcessID(pid)
	if err == nil {
		var cb *Callback
		if enable != 0 {
			cb = wireKernel.Processes.NewCallback(p, func(now, deadline, arg uint32) {
				SendResponse("alarm_upcall", func(output protocol.OutputBuffer) {
					protocol.EncodeVLQUint(output, pid)
					protocol.EncodeVLQUint(output, now)
					protocol.EncodeVLQUint(output, deadline)
					protocol.EncodeVLQUint(output, arg)
				})
			})
		}
		err = wireKernel.Driver.Subscribe(0, cb, p)
	}
	sendAlarmResult(pid, protocol.SubscribeCmd, err, 0)
	return nil
}

func sendProcessResult(pid uint32, err error) {
	SendResponse("process_result", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, pid)
		protocol.EncodeVLQUint(output, uint32(StatusOf(err)))
	})
}

// handleSpawnProcess creates a process slot for a host-side client
func handleSpawnProcess(data *[]byte) error {
	pid, err := wireKernel.Processes.Spawn("host")
	sendProcessResult(uint32(pid), err)
	return nil
}

// handleTerminateProcess releases a process and its alarm
// Format: terminate_process pid=%c
func handleTerminateProcess(data *[]byte) error {
	pid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	p, err := toProcessID(pid)
	if err == nil {
		err = wireKernel.Processes.Terminate(p)
	}
	sendProcessResult(pid, err)
	return nil
}

// TimingWindowMax is the most timing events one get_timing returns, so a
// reply always fits the transport's output buffer.
const TimingWindowMax = 16

// handleGetTiming returns a window of the timing ring, oldest first.
// Format: get_timing offset=%c count=%c
func handleGetTiming(data *[]byte) error {
	var offset, count uint32
	if err := protocol.DecodeVLQArgs(data, &offset, &count); err != nil {
		return err
	}
	if count > TimingWindowMax {
		count = TimingWindowMax
	}

	events := TimingEvents()
	for i := offset; i < offset+count && int(i) < len(events); i++ {
		evt := events[i]
		index := i
		SendResponse("timing_event", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, index)
			protocol.EncodeVLQUint(output, uint32(evt.EventType))
			protocol.EncodeVLQUint(output, uint32(evt.ID))
			protocol.EncodeVLQUint(output, evt.Clock)
			protocol.EncodeVLQUint(output, evt.Value1)
			protocol.EncodeVLQUint(output, evt.Value2)
		})
	}
	return nil
}

// handleSetDebug switches debug output and timing capture and reports
// the resulting state.
// Format: set_debug debug=%c timing=%c
func handleSetDebug(data *[]byte) error {
	var debug, timing uint32
	if err := protocol.DecodeVLQArgs(data, &debug, &timing); err != nil {
		return err
	}
	SetDebugEnabled(debug != 0)
	SetTimingEnabled(timing != 0)

	SendResponse("debug_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolFlag(IsDebugEnabled()))
		protocol.EncodeVLQUint(output, boolFlag(IsTimingEnabled()))
	})
	return nil
}

func boolFlag(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
