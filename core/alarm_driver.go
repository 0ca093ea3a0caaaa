package core

// AlarmDriverNum is the syscall driver number of the alarm driver
const AlarmDriverNum = 0x0

// Alarm driver command numbers
const (
	CmdCheck            = 0 // driver present
	CmdFrequency        = 1 // tick frequency in Hz
	CmdNow              = 2 // current tick
	CmdStop             = 3 // cancel the pending alarm
	CmdSetAbsolute      = 4 // fire at tick data
	CmdSetRelative      = 5 // fire data ticks from now
	CmdSetWithReference = 6 // fire at data + data2
)

// Expiration is either disabled or armed to fire at Reference + Dt
type Expiration struct {
	Enabled   bool
	Reference Ticks
	Dt        Ticks
}

// EnabledAt returns an expiration armed for reference + dt
func EnabledAt(reference, dt Ticks) Expiration {
	return Expiration{Enabled: true, Reference: reference, Dt: dt}
}

// Deadline returns Reference + Dt
func (e Expiration) Deadline() Ticks {
	return e.Reference.WrappingAdd(e.Dt)
}

// Pending reports whether now is still inside [Reference, Deadline),
// i.e. the expiration has not been reached yet.
func (e Expiration) Pending(now Ticks) bool {
	return now.WithinRange(e.Reference, e.Deadline())
}

// AlarmData is the per-process alarm state
type AlarmData struct {
	Expiration Expiration
	Callback   *Callback
}

// AlarmDriver gives every process its own alarm on top of a single
// Alarm, re-arming it for whichever process deadline is nearest.
type AlarmDriver struct {
	alarm     Alarm
	numArmed  int
	appAlarms *Grant[AlarmData]
	nextAlarm Expiration
}

// NewAlarmDriver creates the driver and registers it as alarm's client
func NewAlarmDriver(alarm Alarm, grant *Grant[AlarmData]) *AlarmDriver {
	d := &AlarmDriver{
		alarm:     alarm,
		appAlarms: grant,
	}
	grant.OnRelease(d.releaseProcess)
	alarm.SetAlarmClient(d)
	return d
}

// NumArmed returns the number of processes with a pending alarm
func (d *AlarmDriver) NumArmed() int {
	return d.numArmed
}

// NextAlarm returns the expiration the underlying alarm is armed for
func (d *AlarmDriver) NextAlarm() Expiration {
	return d.nextAlarm
}

// Expiration returns the alarm state of pid
func (d *AlarmDriver) Expiration(pid ProcessID) (Expiration, error) {
	var exp Expiration
	err := d.appAlarms.Enter(pid, func(td *AlarmData) error {
		exp = td.Expiration
		return nil
	})
	return exp, err
}

// resetActiveAlarm arms the underlying alarm for the nearest process
// deadline, or disarms it when no process has one.
func (d *AlarmDriver) resetActiveAlarm() {
	var earliest Expiration
	var earliestEnd Ticks
	now := d.alarm.Now()

	d.appAlarms.Each(func(_ ProcessID, td *AlarmData) {
		exp := td.Expiration
		if !exp.Enabled {
			return
		}
		end := exp.Deadline()
		switch {
		case !earliest.Enabled:
			earliest, earliestEnd = exp, end
		case end.WithinRange(earliest.Reference, earliestEnd):
			// Fires inside the incumbent's window, so it is not later.
			earliest, earliestEnd = exp, end
		case !exp.Pending(now):
			// Already passed: it must fire immediately. Which of several
			// passed alarms wins does not matter, their upcalls are
			// ordered by the scheduler.
			earliest, earliestEnd = exp, end
		}
	})

	d.nextAlarm = earliest
	RecordTiming(EvtDriverRescan, 0, uint32(now), uint32(earliest.Reference), uint32(earliest.Dt))
	if earliest.Enabled {
		d.alarm.SetAlarm(earliest.Reference, earliest.Dt)
	} else {
		_ = d.alarm.Disarm()
	}
}

// Subscribe installs the process's expiry callback, replacing any
// previous one. A nil callback unsubscribes.
func (d *AlarmDriver) Subscribe(subscribeNum uint32, callback *Callback, pid ProcessID) error {
	if subscribeNum != 0 {
		return ErrNoSupport
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)

	return d.appAlarms.Enter(pid, func(td *AlarmData) error {
		td.Callback = callback
		return nil
	})
}

// Command executes an alarm driver command for pid and returns the
// command's success value.
func (d *AlarmDriver) Command(cmd, data, data2 uint32, pid ProcessID) (uint32, error) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	var value uint32
	// The nearest deadline is recomputed only when an alarm was armed or
	// stopped, never on a no-op or an error.
	reset := false

	err := d.appAlarms.Enter(pid, func(td *AlarmData) error {
		rearm := func(reference, dt Ticks) {
			if !td.Expiration.Enabled {
				d.numArmed++
			}
			td.Expiration = EnabledAt(reference, dt)
			value = uint32(reference.WrappingAdd(dt))
			reset = true
		}

		now := d.alarm.Now()
		switch cmd {
		case CmdCheck:
			value = 1
		case CmdFrequency:
			value = uint32(d.alarm.Frequency())
		case CmdNow:
			value = uint32(now)
		case CmdStop:
			if !td.Expiration.Enabled {
				return ErrAlready
			}
			td.Expiration = Expiration{}
			d.numArmed--
			reset = true
		case CmdSetAbsolute:
			rearm(now, Ticks(data).WrappingSub(now))
		case CmdSetRelative:
			rearm(now, Ticks(data))
		case CmdSetWithReference:
			// A caller-supplied reference avoids wraparound ambiguity
			// when the caller's notion of now lags the kernel's.
			rearm(Ticks(data), Ticks(data2))
		default:
			return ErrNoSupport
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Outside Enter so the caller's own record is visible to the scan.
	if reset {
		if debugEnabled {
			DebugPrintln("alarm driver: pid " + itoa(int(pid)) + " cmd " + utoa(cmd) + " -> " + utoa(value))
		}
		d.resetActiveAlarm()
	}
	return value, nil
}

// AlarmFired expires every process alarm that has passed, queues their
// upcalls and re-arms for the nearest remaining deadline.
func (d *AlarmDriver) AlarmFired() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for {
		now := d.alarm.Now()
		fired := 0
		d.appAlarms.Each(func(pid ProcessID, td *AlarmData) {
			exp := td.Expiration
			if !exp.Enabled || exp.Pending(now) {
				return
			}
			td.Expiration = Expiration{}
			d.numArmed--
			fired++
			RecordTiming(EvtUpcall, uint8(pid), uint32(now), uint32(exp.Deadline()), 0)
			if td.Callback != nil {
				_ = td.Callback.Schedule(uint32(now), uint32(exp.Deadline()), 0)
			}
		})

		if d.numArmed == 0 {
			d.nextAlarm = Expiration{}
			_ = d.alarm.Disarm()
			return
		}

		d.resetActiveAlarm()

		// The clock kept running during the scan; if the new nearest
		// deadline has already passed, scan again rather than wait for
		// another interrupt.
		next := d.nextAlarm
		if !next.Enabled || next.Pending(d.alarm.Now()) || fired == 0 {
			return
		}
	}
}

// releaseProcess drops the alarm of a terminating process
func (d *AlarmDriver) releaseProcess(_ ProcessID, td *AlarmData) {
	if !td.Expiration.Enabled {
		return
	}
	td.Expiration = Expiration{}
	d.numArmed--
	d.resetActiveAlarm()
}
