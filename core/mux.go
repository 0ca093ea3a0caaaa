package core

// MuxAlarm shares one hardware alarm among any number of virtual alarms.
//
// The virtual alarms are linked into an intrusive list the mux does not
// own; nodes are created by board code and live for the lifetime of the
// kernel. The hardware is always armed for a deadline no later than the
// soonest armed virtual alarm, so no virtual alarm fires late.
type MuxAlarm struct {
	head    *VirtualMuxAlarm
	enabled int // number of armed nodes in the list
	alarm   Alarm
	firing  bool // inside AlarmFired; suppresses hardware writes from SetAlarm

	resetOnClientChange bool
	nextID              uint8
}

// NewMuxAlarm creates a mux over alarm and registers itself as the
// alarm's only client.
func NewMuxAlarm(alarm Alarm) *MuxAlarm {
	m := &MuxAlarm{
		alarm:               alarm,
		resetOnClientChange: true,
	}
	alarm.SetAlarmClient(m)
	return m
}

// SetResetOnClientChange selects whether SetAlarmClient on a virtual alarm
// clears its pending deadline (the default) or keeps it armed.
func (m *MuxAlarm) SetResetOnClientChange(reset bool) {
	m.resetOnClientChange = reset
}

// Enabled returns the number of armed virtual alarms
func (m *MuxAlarm) Enabled() int {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return m.enabled
}

// IsFiring reports whether the mux is inside its firing pass
func (m *MuxAlarm) IsFiring() bool {
	return m.firing
}

// Hardware returns the underlying alarm
func (m *MuxAlarm) Hardware() Alarm {
	return m.alarm
}

// Each calls fn for every linked virtual alarm in list order
func (m *MuxAlarm) Each(fn func(v *VirtualMuxAlarm)) {
	for cur := m.head; cur != nil; cur = cur.next {
		fn(cur)
	}
}

// Len returns the number of linked virtual alarms
func (m *MuxAlarm) Len() int {
	n := 0
	for cur := m.head; cur != nil; cur = cur.next {
		n++
	}
	return n
}

// push links v at the head of the list
func (m *MuxAlarm) push(v *VirtualMuxAlarm) {
	v.next = m.head
	m.head = v
}

func (m *MuxAlarm) armHardware(reference, dt Ticks) {
	RecordTiming(EvtHardwareArm, 0, uint32(m.alarm.Now()), uint32(reference), uint32(dt))
	m.alarm.SetAlarm(reference, dt)
}

func (m *MuxAlarm) disarmHardware() {
	RecordTiming(EvtHardwareOff, 0, uint32(m.alarm.Now()), 0, 0)
	_ = m.alarm.Disarm()
}

// AlarmFired handles the hardware alarm firing: every virtual alarm whose
// deadline has passed is notified, then the hardware is re-armed for the
// soonest remaining deadline.
func (m *MuxAlarm) AlarmFired() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	// The armed deadline, not the live clock: if the interrupt was
	// delivered late, every other deadline is still evaluated as >= now.
	now := m.alarm.GetAlarm()
	RecordTiming(EvtMuxFire, 0, uint32(now), uint32(m.alarm.Now()), uint32(m.enabled))
	if debugEnabled {
		DebugPrintln("alarm mux: fired for " + utoa(uint32(now)) + " at " + utoa(uint32(m.alarm.Now())))
	}

	// Alarms are one-shot here; a repeating client re-arms from its callback.
	m.firing = true
	for cur := m.head; cur != nil; cur = cur.next {
		if !cur.armed || now.WithinRange(cur.reference, cur.reference.WrappingAdd(cur.dt)) {
			continue
		}
		cur.armed = false
		m.enabled--
		RecordTiming(EvtVirtualFire, cur.id, uint32(now), uint32(cur.reference), uint32(cur.GetAlarm()))
		cur.AlarmFired()
	}
	m.firing = false

	// Callbacks may have armed new alarms, so the next deadline is only
	// known once all of them ran.
	var next *VirtualMuxAlarm
	var best Ticks
	for cur := m.head; cur != nil; cur = cur.next {
		if !cur.armed {
			continue
		}
		key := cur.GetAlarm().WrappingSub(now)
		if next == nil || key < best {
			next = cur
			best = key
		}
	}

	if next != nil {
		m.armHardware(next.reference, next.dt)
	} else {
		m.disarmHardware()
	}
}
