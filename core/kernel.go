package core

// Kernel wires the alarm stack on top of one hardware alarm:
//
//	hardware -> MuxAlarm -> VirtualMuxAlarm -> AlarmDriver (processes)
//	                     -> VirtualMuxAlarm -> TimerQueue  (kernel timers)
type Kernel struct {
	Hardware  Alarm
	Mux       *MuxAlarm
	Processes *ProcessTable
	Driver    *AlarmDriver
	Timers    *TimerQueue
}

// NewKernel builds the alarm stack over hw
func NewKernel(hw Alarm) *Kernel {
	mux := NewMuxAlarm(hw)
	processes := NewProcessTable()

	driver := NewAlarmDriver(NewVirtualMuxAlarm(mux), NewGrant[AlarmData](processes))
	timers := NewTimerQueue(NewVirtualMuxAlarm(mux))

	return &Kernel{
		Hardware:  hw,
		Mux:       mux,
		Processes: processes,
		Driver:    driver,
		Timers:    timers,
	}
}
