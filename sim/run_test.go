package sim

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func runScenario(t *testing.T, js string) *Trace {
	t.Helper()
	s, err := LoadScenario([]byte(js))
	if err != nil {
		t.Fatalf("LoadScenario failed: %v", err)
	}
	trace, err := Run(s)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if trace.Early != 0 {
		t.Errorf("%d expiries delivered before their deadline", trace.Early)
	}
	return trace
}

func fires(trace *Trace, lane int) []Event {
	var out []Event
	for _, e := range trace.Events {
		if (e.Kind == KindFire || e.Kind == KindTimer) && e.Lane == lane {
			out = append(out, e)
		}
	}
	return out
}

func TestRunTwoProcesses(t *testing.T) {
	for _, start := range []uint32{0, 0xFFFFFA00} {
		trace := runScenario(t, `{
			"start": `+strconv.FormatUint(uint64(start), 10)+`,
			"processes": [
				{"name": "a", "alarms": [{"at": 1000, "cmd": "reference", "data": 1000, "data2": 500}]},
				{"name": "b", "alarms": [{"at": 1000, "cmd": "reference", "data": 1000, "data2": 1500}]}
			]
		}`)

		a, b := fires(trace, 0), fires(trace, 1)
		if len(a) != 1 || a[0].Tick != 1500 || a[0].Deadline != 1500 {
			t.Errorf("start %#x: unexpected expiries for a: %+v", start, a)
		}
		if len(b) != 1 || b[0].Tick != 2500 || b[0].Deadline != 2500 {
			t.Errorf("start %#x: unexpected expiries for b: %+v", start, b)
		}
		if trace.MaxLate != 0 {
			t.Errorf("start %#x: expected no lateness, got %d", start, trace.MaxLate)
		}
	}
}

func TestRunPeriodicAcrossWrap(t *testing.T) {
	trace := runScenario(t, `{
		"start": 4294967040,
		"processes": [{"name": "tick", "alarms": [{"cmd": "relative", "data": 100, "period": 100, "count": 5}]}]
	}`)

	got := fires(trace, 0)
	if len(got) != 5 {
		t.Fatalf("Expected 5 expiries, got %d", len(got))
	}
	for i, e := range got {
		want := uint32(100 * (i + 1))
		if e.Deadline != want || e.Late != 0 {
			t.Errorf("Expiry %d: expected deadline %d on time, got %+v", i, want, e)
		}
	}
}

func TestRunTimersShareHardware(t *testing.T) {
	trace := runScenario(t, `{
		"processes": [{"name": "app", "alarms": [{"cmd": "relative", "data": 100, "period": 100, "count": 8}]}],
		"timers": [{"name": "kt", "at": 250, "period": 250, "count": 3}]
	}`)

	if n := len(fires(trace, 0)); n != 8 {
		t.Errorf("Expected 8 process expiries, got %d", n)
	}
	timers := fires(trace, 1)
	if len(timers) != 3 {
		t.Fatalf("Expected 3 timer runs, got %d", len(timers))
	}
	for i, e := range timers {
		if e.Tick != uint32(250*(i+1)) {
			t.Errorf("Timer run %d at %d", i, e.Tick)
		}
	}
	if trace.HardwareWrites == 0 {
		t.Error("Expected hardware writes to be counted")
	}
}

func TestRunStop(t *testing.T) {
	trace := runScenario(t, `{
		"duration": 300,
		"processes": [{"alarms": [
			{"at": 0, "cmd": "relative", "data": 100},
			{"at": 50, "cmd": "stop"},
			{"at": 60, "cmd": "stop"}
		]}]
	}`)

	if n := trace.Count(KindFire, 0); n != 0 {
		t.Errorf("Stopped alarm fired %d times", n)
	}
	if trace.Count(KindStop, 0) != 1 || trace.Count(KindError, 0) != 1 {
		t.Errorf("Expected one stop and one error, got %d and %d", trace.Count(KindStop, 0), trace.Count(KindError, 0))
	}
}

func TestTraceOutput(t *testing.T) {
	trace := runScenario(t, `{
		"name": "single",
		"duration": 200,
		"processes": [{"name": "a", "alarms": [{"cmd": "relative", "data": 100}]}]
	}`)

	var buf bytes.Buffer
	if err := trace.WriteText(&buf); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	if !strings.Contains(buf.String(), "scenario single") || !strings.Contains(buf.String(), "fire") {
		t.Errorf("Unexpected listing:\n%s", buf.String())
	}

	const width = 400
	img := trace.Render(width)
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != marginTop+laneHeight+marginBottom {
		t.Fatalf("Unexpected image size %v", bounds)
	}

	fire := fires(trace, 0)[0]
	r, g, b, _ := img.At(int(trace.x(fire.Tick, width)), int(trace.y(0))).RGBA()
	if r>>8 < 200 || g>>8 > 100 || b>>8 > 100 {
		t.Errorf("Expected a red expiry marker, got rgb(%d, %d, %d)", r>>8, g>>8, b>>8)
	}
}

func TestRunScenarioFile(t *testing.T) {
	s, err := LoadScenarioFile("testdata/wrap.json")
	if err != nil {
		t.Fatalf("LoadScenarioFile failed: %v", err)
	}
	trace, err := Run(s)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if trace.Early != 0 || trace.MaxLate != 0 {
		t.Errorf("Expected every expiry on time, early=%d max late=%d", trace.Early, trace.MaxLate)
	}
	if n := trace.Count(KindFire, 0); n != 8 {
		t.Errorf("Expected 8 blinks, got %d", n)
	}
	if n := trace.Count(KindFire, 1); n != 1 {
		t.Errorf("Expected 1 oneshot expiry, got %d", n)
	}
	if trace.Count(KindFire, 2) != 0 || trace.Count(KindError, 2) != 1 {
		t.Errorf("Expected stopper stopped once and never fired")
	}
	if n := trace.Count(KindTimer, 3); n != 5 {
		t.Errorf("Expected 5 kernel timer runs, got %d", n)
	}

	path := filepath.Join(t.TempDir(), "wrap.png")
	if err := trace.SavePNG(path, 800); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("Expected a non-empty PNG, got %v", err)
	}
}
