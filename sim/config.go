// Package sim runs the alarm stack on a virtual clock: scripted scenarios
// producing an event trace and timeline image, and an in-process device
// that serves the wire protocol for host tools.
package sim

import (
	"encoding/json"
	"fmt"
	"os"

	"gotick/core"
)

// Scenario describes one simulation run. All ticks in a scenario are
// offsets from Start, so a scenario can be replayed across the wrap by
// changing Start alone.
type Scenario struct {
	Name      string          `json:"name"`
	Frequency uint32          `json:"frequency"` // Hz
	Start     uint32          `json:"start"`     // tick at time zero
	Step      uint32          `json:"step"`      // ticks per simulation step
	Duration  uint32          `json:"duration"`  // ticks to simulate
	Processes []ProcessConfig `json:"processes"`
	Timers    []TimerConfig   `json:"timers"`
}

// ProcessConfig is one process and the alarm commands it issues
type ProcessConfig struct {
	Name   string        `json:"name"`
	Alarms []AlarmConfig `json:"alarms"`
}

// AlarmConfig is an alarm driver command issued at tick At.
// Cmd is one of "absolute", "relative", "reference" or "stop".
// With Period set, every expiry re-arms Period ticks after the previous
// deadline until Count expiries happened.
type AlarmConfig struct {
	At     uint32 `json:"at"`
	Cmd    string `json:"cmd"`
	Data   uint32 `json:"data"`
	Data2  uint32 `json:"data2"`
	Period uint32 `json:"period"`
	Count  int    `json:"count"`
}

// TimerConfig is a kernel timer sharing the hardware alarm with the
// processes
type TimerConfig struct {
	Name   string `json:"name"`
	At     uint32 `json:"at"`
	Period uint32 `json:"period"`
	Count  int    `json:"count"`
}

var commandNames = map[string]uint32{
	"stop":      core.CmdStop,
	"absolute":  core.CmdSetAbsolute,
	"relative":  core.CmdSetRelative,
	"reference": core.CmdSetWithReference,
}

// LoadScenario parses a JSON scenario and fills in defaults
func LoadScenario(jsonData []byte) (*Scenario, error) {
	var scenario Scenario
	if err := json.Unmarshal(jsonData, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	applyDefaults(&scenario)

	if err := scenario.validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// LoadScenarioFile reads and parses a scenario file
func LoadScenarioFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return LoadScenario(data)
}

// applyDefaults fills in missing scenario values
func applyDefaults(s *Scenario) {
	if s.Name == "" {
		s.Name = "scenario"
	}
	if s.Frequency == 0 {
		s.Frequency = 32768
	}
	if s.Step == 0 {
		s.Step = 1
	}

	var last uint32
	for i := range s.Processes {
		p := &s.Processes[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("p%d", i)
		}
		for j := range p.Alarms {
			a := &p.Alarms[j]
			if a.Count == 0 {
				a.Count = 1
			}
			if end := a.At + a.Data + a.Data2 + a.Period*uint32(a.Count); end > last {
				last = end
			}
		}
	}
	for i := range s.Timers {
		tm := &s.Timers[i]
		if tm.Name == "" {
			tm.Name = fmt.Sprintf("timer%d", i)
		}
		if tm.Count == 0 {
			tm.Count = 1
		}
		if end := tm.At + tm.Period*uint32(tm.Count); end > last {
			last = end
		}
	}

	// Long enough for every scripted deadline, with some idle tail
	if s.Duration == 0 {
		s.Duration = last + last/4 + s.Step
	}
}

func (s *Scenario) validate() error {
	if len(s.Processes) > core.MaxProcesses {
		return fmt.Errorf("scenario %s: %d processes, at most %d supported", s.Name, len(s.Processes), core.MaxProcesses)
	}
	for _, p := range s.Processes {
		for _, a := range p.Alarms {
			if _, ok := commandNames[a.Cmd]; !ok {
				return fmt.Errorf("scenario %s: process %s: unknown command %q", s.Name, p.Name, a.Cmd)
			}
		}
	}
	return nil
}
