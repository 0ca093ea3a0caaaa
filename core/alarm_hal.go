package core

// Time is a countable clock
type Time interface {
	// Now returns the current counter value
	Now() Ticks

	// Frequency returns the counter rate in Hz
	Frequency() Frequency
}

// AlarmClient receives expiry notifications from an Alarm
type AlarmClient interface {
	AlarmFired()
}

// Alarm is a one-shot compare timer with a single client.
// Hardware peripherals and virtual alarms both implement it, so a client
// cannot tell which one it was handed.
type Alarm interface {
	Time

	// SetAlarmClient registers the single notification target
	SetAlarmClient(client AlarmClient)

	// SetAlarm arms the alarm to fire at reference + dt
	SetAlarm(reference, dt Ticks)

	// GetAlarm returns the armed deadline (reference + dt)
	GetAlarm() Ticks

	// Disarm cancels a pending alarm. Disarming a disarmed alarm succeeds.
	Disarm() error

	// IsArmed reports whether a deadline is pending
	IsArmed() bool

	// MinimumDt is the smallest dt the hardware can reliably honour
	MinimumDt() Ticks
}

// Global singleton used by core code.
var hardwareAlarm Alarm

// SetHardwareAlarm is called by target-specific code to register the
// peripheral alarm that the mux virtualizes.
func SetHardwareAlarm(a Alarm) {
	hardwareAlarm = a
}

// MustHardwareAlarm returns the configured alarm or panics if missing.
func MustHardwareAlarm() Alarm {
	if hardwareAlarm == nil {
		panic("hardware alarm not configured")
	}
	return hardwareAlarm
}
