//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"

	"gotick/core"
)

// alarmMinimumDt is how close to now ALARM0 can be armed and still be
// guaranteed to match. The comparator only fires on equality, so a
// deadline written after it has passed would wait a full wrap.
const alarmMinimumDt core.Ticks = 2

// TimerAlarm drives TIMER ALARM0 as the single hardware alarm that the
// kernel mux virtualizes. It counts at the TIMER rate of 1MHz.
type TimerAlarm struct {
	client core.AlarmClient
	onFire func()
}

var alarm0 = &TimerAlarm{}

// InitAlarm enables the ALARM0 interrupt. onFire, if set, runs in the
// interrupt before the client is notified.
func InitAlarm(onFire func()) *TimerAlarm {
	alarm0.onFire = onFire

	rp.TIMER.ARMED.Set(1)
	rp.TIMER.INTR.Set(rp.TIMER_INTR_ALARM_0)
	rp.TIMER.INTE.SetBits(rp.TIMER_INTE_ALARM_0)

	intr := interrupt.New(rp.IRQ_TIMER_IRQ_0, handleAlarmIRQ)
	intr.SetPriority(0x40)
	intr.Enable()
	return alarm0
}

// handleAlarmIRQ acknowledges ALARM0 and forwards the expiry
func handleAlarmIRQ(interrupt.Interrupt) {
	rp.TIMER.INTR.Set(rp.TIMER_INTR_ALARM_0)
	if alarm0.onFire != nil {
		alarm0.onFire()
	}
	if alarm0.client != nil {
		alarm0.client.AlarmFired()
	}
}

func (a *TimerAlarm) Now() core.Ticks {
	return core.Ticks(rp.TIMER.TIMERAWL.Get())
}

func (a *TimerAlarm) Frequency() core.Frequency {
	return core.TimerFreq
}

func (a *TimerAlarm) SetAlarmClient(client core.AlarmClient) {
	a.client = client
}

// SetAlarm writes reference+dt to ALARM0, which arms it. A deadline that
// has already passed, or is closer than alarmMinimumDt, is pushed out to
// now+alarmMinimumDt so it still fires.
func (a *TimerAlarm) SetAlarm(reference, dt core.Ticks) {
	state := interrupt.Disable()
	defer interrupt.Restore(state)

	expire := reference.WrappingAdd(dt)
	now := a.Now()
	if !now.WithinRange(reference, expire) {
		expire = now
	}
	if expire.WrappingSub(now) < alarmMinimumDt {
		expire = now.WrappingAdd(alarmMinimumDt)
	}
	rp.TIMER.ALARM0.Set(uint32(expire))
}

// GetAlarm returns the value in ALARM0, which is the deadline actually
// armed after any minimum-dt adjustment
func (a *TimerAlarm) GetAlarm() core.Ticks {
	return core.Ticks(rp.TIMER.ALARM0.Get())
}

func (a *TimerAlarm) Disarm() error {
	// ARMED is write-1-to-clear
	rp.TIMER.ARMED.Set(1)
	rp.TIMER.INTR.Set(rp.TIMER_INTR_ALARM_0)
	return nil
}

func (a *TimerAlarm) IsArmed() bool {
	return rp.TIMER.ARMED.Get()&1 != 0
}

func (a *TimerAlarm) MinimumDt() core.Ticks {
	return alarmMinimumDt
}
