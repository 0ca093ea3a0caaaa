// Package protocol implements the framed serial protocol used to reach the
// alarm syscall surface of a gotick kernel from a host.
//
// A frame is: length, sequence, VLQ payload, CRC16 (big endian), 0x7E.
// The payload is a message id followed by its VLQ-encoded arguments.
package protocol

// Version is the protocol version reported by the host tools
const Version = "0.1.0"

// Message ids. The device registers its commands in exactly this order,
// so host and device agree on ids without exchanging a dictionary.
const (
	MsgClock            = iota // clock=%u (response)
	MsgGetClock                // (command)
	MsgAlarmCommand            // pid=%c cmd=%c data=%u data2=%u
	MsgAlarmResult             // pid=%c cmd=%c status=%c value=%u (response)
	MsgAlarmSubscribe          // pid=%c enable=%c
	MsgAlarmUpcall             // pid=%c now=%u deadline=%u arg=%u (response)
	MsgSpawnProcess            // (command)
	MsgTerminateProcess        // pid=%c
	MsgProcessResult           // pid=%c status=%c (response)
	MsgGetTiming               // offset=%c count=%c
	MsgTimingEvent             // index=%c type=%c id=%c clock=%u v1=%u v2=%u (response)
	MsgSetDebug                // debug=%c timing=%c
	MsgDebugState              // debug=%c timing=%c (response)
)

// SubscribeCmd is the cmd value echoed in the alarm_result of a subscribe
const SubscribeCmd = 0xFF

// Messages lists name and argument format for every message id
var Messages = [...][2]string{
	MsgClock:            {"clock", "clock=%u"},
	MsgGetClock:         {"get_clock", ""},
	MsgAlarmCommand:     {"alarm_command", "pid=%c cmd=%c data=%u data2=%u"},
	MsgAlarmResult:      {"alarm_result", "pid=%c cmd=%c status=%c value=%u"},
	MsgAlarmSubscribe:   {"alarm_subscribe", "pid=%c enable=%c"},
	MsgAlarmUpcall:      {"alarm_upcall", "pid=%c now=%u deadline=%u arg=%u"},
	MsgSpawnProcess:     {"spawn_process", ""},
	MsgTerminateProcess: {"terminate_process", "pid=%c"},
	MsgProcessResult:    {"process_result", "pid=%c status=%c"},
	MsgGetTiming:        {"get_timing", "offset=%c count=%c"},
	MsgTimingEvent:      {"timing_event", "index=%c type=%c id=%c clock=%u v1=%u v2=%u"},
	MsgSetDebug:         {"set_debug", "debug=%c timing=%c"},
	MsgDebugState:       {"debug_state", "debug=%c timing=%c"},
}

// MessageName returns the name of message id, or "" if unknown
func MessageName(id uint16) string {
	if int(id) >= len(Messages) {
		return ""
	}
	return Messages[id][0]
}
