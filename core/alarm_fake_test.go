package core

// fakeAlarm is a hardware alarm whose clock the test drives. Every write
// is counted so tests can check for spurious hardware traffic.
type fakeAlarm struct {
	now       Ticks
	step      Ticks // added to now after every Now() read
	reference Ticks
	dt        Ticks
	armed     bool
	client    AlarmClient
	sets      int
	disarms   int
}

func (f *fakeAlarm) Now() Ticks {
	now := f.now
	f.now += f.step
	return now
}

func (f *fakeAlarm) Frequency() Frequency { return 32768 }

func (f *fakeAlarm) SetAlarmClient(client AlarmClient) { f.client = client }

func (f *fakeAlarm) SetAlarm(reference, dt Ticks) {
	f.reference = reference
	f.dt = dt
	f.armed = true
	f.sets++
}

func (f *fakeAlarm) GetAlarm() Ticks { return f.reference + f.dt }

func (f *fakeAlarm) Disarm() error {
	f.armed = false
	f.disarms++
	return nil
}

func (f *fakeAlarm) IsArmed() bool { return f.armed }

func (f *fakeAlarm) MinimumDt() Ticks { return 2 }

// fire delivers the hardware interrupt at the current fake time
func (f *fakeAlarm) fire() {
	f.armed = false
	f.client.AlarmFired()
}

// countingClient counts expiries and optionally runs a hook
type countingClient struct {
	fired  int
	onFire func()
}

func (c *countingClient) AlarmFired() {
	c.fired++
	if c.onFire != nil {
		c.onFire()
	}
}

// armedNodes counts armed virtual alarms by walking the list
func armedNodes(m *MuxAlarm) int {
	n := 0
	m.Each(func(v *VirtualMuxAlarm) {
		if v.IsArmed() {
			n++
		}
	})
	return n
}
