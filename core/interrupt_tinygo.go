//go:build tinygo

package core

import "runtime/interrupt"

// State is the saved interrupt state
type State = interrupt.State

// disableInterrupts masks interrupts and returns the previous state.
// The alarm mux, the alarm driver and the upcall queues all run their
// bookkeeping under it so the timer IRQ cannot observe a half update.
func disableInterrupts() State {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state
func restoreInterrupts(state State) {
	interrupt.Restore(state)
}
