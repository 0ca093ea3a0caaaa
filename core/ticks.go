package core

// Ticks is a 32-bit hardware counter value. All arithmetic wraps, so two
// tick values have no absolute order; only a window relative to a
// reference point can be compared.
type Ticks uint32

// WrappingAdd returns t + dt modulo 2^32
func (t Ticks) WrappingAdd(dt Ticks) Ticks {
	return t + dt
}

// WrappingSub returns t - o modulo 2^32
func (t Ticks) WrappingSub(o Ticks) Ticks {
	return t - o
}

// WithinRange reports whether t lies in the half-open window [start, end),
// measured forward from start. The window may wrap past zero.
func (t Ticks) WithinRange(start, end Ticks) bool {
	return t.WrappingSub(start) < end.WrappingSub(start)
}

// HasExpired reports whether alarm has been reached by now, where prev is
// a reference point known to be at or before both values.
func HasExpired(alarm, now, prev Ticks) bool {
	return now.WrappingSub(prev) >= alarm.WrappingSub(prev)
}

// Frequency is a tick rate in Hz
type Frequency uint32

// TicksFromUS converts microseconds to ticks at frequency f
func (f Frequency) TicksFromUS(us uint32) Ticks {
	return Ticks(uint64(us) * uint64(f) / 1000000)
}

// TicksToUS converts ticks at frequency f to microseconds
func (f Frequency) TicksToUS(t Ticks) uint32 {
	if f == 0 {
		return 0
	}
	return uint32(uint64(t) * 1000000 / uint64(f))
}

// TicksFromMS converts milliseconds to ticks at frequency f
func (f Frequency) TicksFromMS(ms uint32) Ticks {
	return Ticks(uint64(ms) * uint64(f) / 1000)
}
