//go:build rp2040

package main

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// strobePin pulses once per hardware alarm interrupt, so a scope on it
// shows when the mux actually reached the hardware.
const strobePin = machine.GPIO15

const (
	strobeSM     = 0 // PIO0 state machine
	strobeOrigin = 0
)

// buildStrobeProgram returns a PIO program that waits for any word in the
// TX FIFO and answers it with one fixed-width high pulse
func buildStrobeProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                    // 0: pull block
		asm.Set(rp2pio.SetDestPins, 1).Delay(31).Encode(), // 1: set pins, 1 [31]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),           // 2: set pins, 0
		// .wrap
	}
}

// Strobe is a PIO state machine driving strobePin
type Strobe struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	pin    machine.Pin
	pulses uint32
	missed uint32
}

// NewStrobe claims a state machine on PIO0 and loads the strobe program
func NewStrobe(pin machine.Pin) (*Strobe, error) {
	s := &Strobe{
		pio: rp2pio.PIO0,
		pin: pin,
	}
	s.sm = s.pio.StateMachine(strobeSM)
	s.sm.TryClaim()

	program := buildStrobeProgram()
	offset, err := s.pio.AddProgram(program, strobeOrigin)
	if err != nil {
		return nil, err
	}

	pin.Configure(machine.PinConfig{Mode: s.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(pin, 1)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	// 125MHz / 125 = 1MHz, so the pulse is 32us wide
	cfg.SetClkDivIntFrac(125, 0)

	s.sm.Init(offset, cfg)
	s.sm.SetPindirsConsecutive(pin, 1, true)
	s.sm.SetPinsConsecutive(pin, 1, false)
	s.sm.SetEnabled(true)
	return s, nil
}

// Pulse queues one pulse. It never blocks, since it runs in the alarm
// interrupt; a full FIFO counts as a missed pulse.
func (s *Strobe) Pulse() {
	if s.sm.IsTxFIFOFull() {
		s.missed++
		return
	}
	s.sm.TxPut(s.pulses)
	s.pulses++
}
