package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures an alarm event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	ID        uint8  // Virtual alarm id or process id
	Clock     uint32 // Tick at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtVirtualSet    = 1 // virtual alarm armed (reference, dt)
	EvtVirtualDisarm = 2 // virtual alarm disarmed
	EvtHardwareArm   = 3 // hardware alarm written (reference, dt)
	EvtHardwareOff   = 4 // hardware alarm disarmed
	EvtMuxFire       = 5 // hardware fired into the mux (deadline, live now)
	EvtVirtualFire   = 6 // virtual alarm expired (reference, deadline)
	EvtUpcall        = 7 // process upcall scheduled (now, deadline)
	EvtDriverRescan  = 8 // driver recomputed its nearest deadline (reference, dt)
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active.
	// Disabled by default: the alarm paths run in interrupt context.
	// Hosts turn it on with set_debug debug=1.
	debugEnabled bool = false

	// Timing capture ring buffer (non-blocking, for post-mortem)
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8        // Next write position
	timingEnabled  bool  = true // Always capture timing events

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetTimingEnabled turns the timing ring on or off
func SetTimingEnabled(enabled bool) {
	timingEnabled = enabled
}

// IsTimingEnabled returns whether timing events are captured
func IsTimingEnabled() bool {
	return timingEnabled
}

// InitAsyncDebug starts the async debug output goroutine. Once it runs,
// DebugPrintln only queues, so messages from the alarm interrupt never
// wait on a slow writer.
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if !debugEnabled || debugPrintln == nil {
		return
	}
	if debugChan != nil {
		DebugAsync(msg)
		return
	}
	debugPrintln(msg)
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordTiming captures a timing event in the ring buffer.
// Safe to call from interrupt context: no allocation, no blocking.
func RecordTiming(eventType, id uint8, clock, value1, value2 uint32) {
	if !timingEnabled {
		return
	}
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		ID:        id,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
}

// TimingEvents returns the recorded events, oldest first
func TimingEvents() []TimingEvent {
	events := make([]TimingEvent, 0, TimingRingSize)
	start := timingRingHead
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue
		}
		events = append(events, evt)
	}
	return events
}

// EventName returns the short mnemonic for an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtVirtualSet:
		return "VALARM_SET"
	case EvtVirtualDisarm:
		return "VALARM_OFF"
	case EvtHardwareArm:
		return "HW_ARM"
	case EvtHardwareOff:
		return "HW_OFF"
	case EvtMuxFire:
		return "MUX_FIRE"
	case EvtVirtualFire:
		return "VALARM_FIRE"
	case EvtUpcall:
		return "UPCALL"
	case EvtDriverRescan:
		return "RESCAN"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing outputs the timing ring buffer (call on shutdown/error)
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + EventName(evt.EventType) +
			" id=" + itoa(int(evt.ID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
}
