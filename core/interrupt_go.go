//go:build !tinygo

package core

// State is the saved interrupt state on regular Go
type State uintptr

// criticalDepth counts nested critical sections so tests can check that
// every entry point restores the state it saved.
var criticalDepth int

// disableInterrupts enters a critical section (no interrupts exist on
// regular Go; only the nesting is tracked)
func disableInterrupts() State {
	criticalDepth++
	return State(criticalDepth - 1)
}

// restoreInterrupts leaves the critical section entered by the matching
// disableInterrupts
func restoreInterrupts(state State) {
	criticalDepth = int(state)
}

// CriticalDepth returns the current critical section nesting
func CriticalDepth() int {
	return criticalDepth
}
