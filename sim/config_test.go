package sim

import (
	"strings"
	"testing"
)

func TestLoadScenarioDefaults(t *testing.T) {
	s, err := LoadScenario([]byte(`{
		"processes": [
			{"alarms": [{"at": 10, "cmd": "relative", "data": 100, "period": 50, "count": 4}]},
			{"name": "b", "alarms": [{"cmd": "relative", "data": 20}]}
		],
		"timers": [{"at": 30}]
	}`))
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}

	if s.Name != "scenario" || s.Frequency != 32768 || s.Step != 1 {
		t.Errorf("Unexpected defaults: name=%q freq=%d step=%d", s.Name, s.Frequency, s.Step)
	}
	if s.Processes[0].Name != "p0" || s.Processes[1].Name != "b" {
		t.Errorf("Unexpected process names %q %q", s.Processes[0].Name, s.Processes[1].Name)
	}
	if s.Processes[1].Alarms[0].Count != 1 || s.Timers[0].Count != 1 {
		t.Error("Expected count to default to 1")
	}
	if s.Timers[0].Name != "timer0" {
		t.Errorf("Expected timer0, got %q", s.Timers[0].Name)
	}
	// last deadline is 10 + 100 + 50*4
	if s.Duration < 310 {
		t.Errorf("Duration %d ends before the last deadline", s.Duration)
	}
}

func TestLoadScenarioKeepsExplicitValues(t *testing.T) {
	s, err := LoadScenario([]byte(`{"name": "x", "frequency": 1000000, "step": 5, "duration": 77, "start": 4294967040}`))
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}
	if s.Name != "x" || s.Frequency != 1000000 || s.Step != 5 || s.Duration != 77 || s.Start != 0xFFFFFF00 {
		t.Errorf("Explicit values overwritten: %+v", s)
	}
}

func TestLoadScenarioErrors(t *testing.T) {
	testCases := []struct {
		name string
		json string
		want string
	}{
		{"bad json", `{"processes": [`, "failed to parse"},
		{"unknown command", `{"processes": [{"alarms": [{"cmd": "later"}]}]}`, "unknown command"},
		{"too many processes", `{"processes": [{},{},{},{},{},{},{},{},{}]}`, "at most"},
	}

	for _, tc := range testCases {
		_, err := LoadScenario([]byte(tc.json))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}
