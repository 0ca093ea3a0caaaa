package core

import (
	"strings"
	"testing"
	"time"
)

// captureDebug turns debug output on and collects every line
func captureDebug(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	SetDebugEnabled(true)
	t.Cleanup(func() {
		SetDebugEnabled(false)
		SetDebugWriter(func(string) {})
	})
	return &lines
}

func TestDebugPrintlnDisabledByDefault(t *testing.T) {
	if IsDebugEnabled() {
		t.Fatal("Expected debug output off by default")
	}
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	DebugPrintln("hidden")
	if len(lines) != 0 {
		t.Errorf("Expected no output while disabled, got %v", lines)
	}
}

func TestMuxDebugLine(t *testing.T) {
	lines := captureDebug(t)
	hw, m := newTestMux(100)
	v := NewVirtualMuxAlarm(m)
	v.SetAlarmClient(&countingClient{})
	v.SetAlarm(100, 50)

	hw.now = 153
	hw.fire()

	want := "alarm mux: fired for 150 at 153"
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Errorf("Expected %q, got %v", want, *lines)
	}
}

func TestDriverDebugLine(t *testing.T) {
	lines := captureDebug(t)
	k := NewKernel(&fakeAlarm{now: 1000})
	pid, err := k.Processes.Spawn("app")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if _, err := k.Driver.Command(CmdSetRelative, 250, 0, pid); err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	want := "alarm driver: pid 0 cmd 5 -> 1250"
	found := false
	for _, line := range *lines {
		if line == want {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected %q in %v", want, *lines)
	}
}

func TestTimingCaptureSwitch(t *testing.T) {
	ClearTimingRing()
	SetTimingEnabled(false)
	defer SetTimingEnabled(true)

	RecordTiming(EvtHardwareArm, 0, 1, 2, 3)
	if n := len(TimingEvents()); n != 0 {
		t.Errorf("Expected nothing recorded while off, got %d events", n)
	}

	SetTimingEnabled(true)
	RecordTiming(EvtHardwareArm, 0, 1, 2, 3)
	events := TimingEvents()
	if len(events) != 1 || events[0].Clock != 1 {
		t.Errorf("Expected one event at clock 1, got %+v", events)
	}
}

func TestDebugAsyncQueuesOutput(t *testing.T) {
	got := make(chan string, 4)
	SetDebugWriter(func(s string) { got <- s })
	SetDebugEnabled(true)
	InitAsyncDebug()
	defer func() {
		ch := debugChan
		debugChan = nil
		close(ch)
		SetDebugEnabled(false)
		SetDebugWriter(func(string) {})
	}()

	DebugPrintln("from interrupt " + utoa(42))
	select {
	case line := <-got:
		if !strings.HasSuffix(line, "42") {
			t.Errorf("Unexpected line %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("Queued debug line never written")
	}
}

func TestFormatHelpers(t *testing.T) {
	testCases := []struct {
		got, want string
	}{
		{utoa(0), "0"},
		{utoa(4294967295), "4294967295"},
		{itoa(-17), "-17"},
		{itoa(305), "305"},
	}
	for _, tc := range testCases {
		if tc.got != tc.want {
			t.Errorf("Expected %q, got %q", tc.want, tc.got)
		}
	}
}

func TestMustHardwareAlarm(t *testing.T) {
	saved := hardwareAlarm
	defer SetHardwareAlarm(saved)

	SetHardwareAlarm(nil)
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("Expected a panic without a hardware alarm")
			}
		}()
		MustHardwareAlarm()
	}()

	hw := &fakeAlarm{}
	SetHardwareAlarm(hw)
	if MustHardwareAlarm() != Alarm(hw) {
		t.Error("Expected the registered alarm back")
	}
}
