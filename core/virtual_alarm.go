package core

// VirtualMuxAlarm is one client's view of a MuxAlarm. It implements Alarm,
// so a client cannot tell it from a hardware peripheral.
type VirtualMuxAlarm struct {
	mux       *MuxAlarm
	id        uint8
	reference Ticks
	dt        Ticks // fires at reference + dt
	armed     bool
	linked    bool
	next      *VirtualMuxAlarm
	client    AlarmClient
}

// NewVirtualMuxAlarm creates a virtual alarm backed by mux. The node joins
// the mux list when its client is registered.
func NewVirtualMuxAlarm(mux *MuxAlarm) *VirtualMuxAlarm {
	mux.nextID++
	return &VirtualMuxAlarm{
		mux: mux,
		id:  mux.nextID,
	}
}

// ID returns the small integer used to tag this alarm in timing events
func (v *VirtualMuxAlarm) ID() uint8 {
	return v.id
}

// Now returns the current hardware tick
func (v *VirtualMuxAlarm) Now() Ticks {
	return v.mux.alarm.Now()
}

// Frequency returns the hardware tick rate
func (v *VirtualMuxAlarm) Frequency() Frequency {
	return v.mux.alarm.Frequency()
}

// SetAlarmClient registers client and links the alarm into its mux.
// Unless the mux preserves state, any pending deadline is cleared.
func (v *VirtualMuxAlarm) SetAlarmClient(client AlarmClient) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !v.linked {
		v.mux.push(v)
		v.linked = true
	}
	if v.mux.resetOnClientChange {
		v.disarmLocked()
		v.reference = 0
		v.dt = 0
	}
	v.client = client
}

// SetAlarm arms the alarm for reference + dt
func (v *VirtualMuxAlarm) SetAlarm(reference, dt Ticks) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	m := v.mux
	enabled := m.enabled
	if !v.armed {
		m.enabled++
		v.armed = true
	}
	RecordTiming(EvtVirtualSet, v.id, uint32(m.alarm.Now()), uint32(reference), uint32(dt))

	switch {
	case m.firing:
		// The firing pass rescans every node once callbacks return.
	case enabled == 0:
		m.armHardware(reference, dt)
	default:
		// If the hardware deadline is outside [reference, reference+dt)
		// this alarm is due first, including when it already expired.
		cur := m.alarm.GetAlarm()
		if !cur.WithinRange(reference, reference.WrappingAdd(dt)) {
			m.armHardware(reference, dt)
		}
	}
	v.reference = reference
	v.dt = dt
}

// GetAlarm returns the deadline reference + dt
func (v *VirtualMuxAlarm) GetAlarm() Ticks {
	return v.reference.WrappingAdd(v.dt)
}

// Disarm cancels the pending deadline. It is a no-op when not armed.
func (v *VirtualMuxAlarm) Disarm() error {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	v.disarmLocked()
	return nil
}

func (v *VirtualMuxAlarm) disarmLocked() {
	if !v.armed {
		return
	}
	v.armed = false
	v.mux.enabled--
	RecordTiming(EvtVirtualDisarm, v.id, uint32(v.mux.alarm.Now()), uint32(v.reference), uint32(v.dt))

	// Last armed alarm: turn the hardware off entirely.
	if v.mux.enabled == 0 {
		v.mux.disarmHardware()
	}
}

// IsArmed reports whether a deadline is pending
func (v *VirtualMuxAlarm) IsArmed() bool {
	return v.armed
}

// MinimumDt returns the hardware minimum dt
func (v *VirtualMuxAlarm) MinimumDt() Ticks {
	return v.mux.alarm.MinimumDt()
}

// AlarmFired forwards an expiry to the registered client
func (v *VirtualMuxAlarm) AlarmFired() {
	if v.client != nil {
		v.client.AlarmFired()
	}
}
