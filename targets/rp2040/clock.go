//go:build rp2040

package main

import (
	"device/rp"

	"gotick/core"
)

// The RP2040 TIMER is a 64-bit microsecond counter. The kernel only
// sees the low word, so every deadline lives in the wrapping 32-bit space
// and TIMERAWH is never read.

// GetHardwareTime reads the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return rp.TIMER.TIMERAWL.Get()
}

// UpdateSystemTime copies the hardware counter into the core clock.
// Called once per main loop pass.
func UpdateSystemTime() {
	core.SetTime(core.Ticks(GetHardwareTime()))
}
