package core

import "sync/atomic"

// Timer frequencies for common MCUs
const (
	TimerFreq Frequency = 1000000 // RP2040 TIMER runs at 1MHz
)

var (
	systemTicks uint32 // atomic; written by the target tick source
	bootTime    uint32 // Tick at TimerInit for uptime calculation
)

func getSystemTicks() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

func setSystemTicks(ticks uint32) {
	atomic.StoreUint32(&systemTicks, ticks)
}

// GetTime returns the current system time in timer ticks
func GetTime() Ticks {
	return Ticks(getSystemTicks())
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks Ticks) {
	setSystemTicks(uint32(ticks))
}

// AdvanceTime moves the system time forward by dt ticks
func AdvanceTime(dt Ticks) {
	SetTime(GetTime().WrappingAdd(dt))
}

// GetUptime returns ticks elapsed since TimerInit, modulo 2^32
func GetUptime() Ticks {
	return GetTime().WrappingSub(Ticks(bootTime))
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) Ticks {
	return TimerFreq.TicksFromUS(us)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks Ticks) uint32 {
	return TimerFreq.TicksToUS(ticks)
}

// TimerInit initializes the system timer
func TimerInit() {
	bootTime = uint32(GetTime())
}

// Poller is a hardware alarm that must be polled instead of raising an
// interrupt
type Poller interface {
	Poll() bool
}

// ProcessTimers polls the registered hardware alarm, if it needs polling.
// Called from the main loop.
func ProcessTimers() bool {
	if p, ok := hardwareAlarm.(Poller); ok {
		return p.Poll()
	}
	return false
}

// SysTickAlarm is an Alarm over the system tick counter. It never raises
// an interrupt: the main loop calls Poll, which fires the client once the
// deadline has passed.
type SysTickAlarm struct {
	freq      Frequency
	minDt     Ticks
	reference Ticks
	dt        Ticks
	armed     bool
	client    AlarmClient
	writes    uint32
}

// NewSysTickAlarm creates a polled alarm ticking at freq
func NewSysTickAlarm(freq Frequency) *SysTickAlarm {
	return &SysTickAlarm{freq: freq, minDt: 1}
}

func (s *SysTickAlarm) Now() Ticks {
	return GetTime()
}

func (s *SysTickAlarm) Frequency() Frequency {
	return s.freq
}

func (s *SysTickAlarm) SetAlarmClient(client AlarmClient) {
	s.client = client
}

func (s *SysTickAlarm) SetAlarm(reference, dt Ticks) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	s.reference = reference
	s.dt = dt
	s.armed = true
	s.writes++
}

func (s *SysTickAlarm) GetAlarm() Ticks {
	return s.reference.WrappingAdd(s.dt)
}

func (s *SysTickAlarm) Disarm() error {
	s.armed = false
	return nil
}

func (s *SysTickAlarm) IsArmed() bool {
	return s.armed
}

func (s *SysTickAlarm) MinimumDt() Ticks {
	return s.minDt
}

// Writes returns the number of SetAlarm calls, for tests and statistics
func (s *SysTickAlarm) Writes() uint32 {
	return s.writes
}

// Poll fires the client if the armed deadline has passed
func (s *SysTickAlarm) Poll() bool {
	state := disableInterrupts()
	if !s.armed || GetTime().WithinRange(s.reference, s.GetAlarm()) {
		restoreInterrupts(state)
		return false
	}
	s.armed = false
	restoreInterrupts(state)

	if s.client != nil {
		s.client.AlarmFired()
	}
	return true
}
