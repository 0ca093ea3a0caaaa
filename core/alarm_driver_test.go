package core

import (
	"errors"
	"testing"
)

type upcallRecord struct {
	pid                 ProcessID
	now, deadline, arg2 uint32
}

type driverFixture struct {
	hw      *fakeAlarm
	pt      *ProcessTable
	driver  *AlarmDriver
	upcalls []upcallRecord
}

func newDriverFixture(t *testing.T, now Ticks, procs int) *driverFixture {
	t.Helper()
	f := &driverFixture{hw: &fakeAlarm{now: now}, pt: NewProcessTable()}
	f.driver = NewAlarmDriver(f.hw, NewGrant[AlarmData](f.pt))
	for i := 0; i < procs; i++ {
		pid, err := f.pt.Spawn("app")
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		cb := f.pt.NewCallback(pid, func(a0, a1, a2 uint32) {
			f.upcalls = append(f.upcalls, upcallRecord{pid, a0, a1, a2})
		})
		if err := f.driver.Subscribe(0, cb, pid); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}
	return f
}

func (f *driverFixture) command(t *testing.T, cmd, data, data2 uint32, pid ProcessID) uint32 {
	t.Helper()
	value, err := f.driver.Command(cmd, data, data2, pid)
	if err != nil {
		t.Fatalf("Command %d for pid %d failed: %v", cmd, pid, err)
	}
	return value
}

func TestDriverInformationalCommands(t *testing.T) {
	f := newDriverFixture(t, 1234, 1)

	if v := f.command(t, CmdCheck, 0, 0, 0); v != 1 {
		t.Errorf("Expected check to return 1, got %d", v)
	}
	if v := f.command(t, CmdFrequency, 0, 0, 0); v != 32768 {
		t.Errorf("Expected frequency 32768, got %d", v)
	}
	if v := f.command(t, CmdNow, 0, 0, 0); v != 1234 {
		t.Errorf("Expected now 1234, got %d", v)
	}
	if f.hw.sets != 0 || f.hw.disarms != 0 {
		t.Errorf("Informational commands touched the alarm: sets=%d disarms=%d", f.hw.sets, f.hw.disarms)
	}

	if _, err := f.driver.Command(7, 0, 0, 0); !errors.Is(err, ErrNoSupport) {
		t.Errorf("Expected ErrNoSupport for unknown command, got %v", err)
	}
}

func TestDriverSetCommands(t *testing.T) {
	testCases := []struct {
		name        string
		now         Ticks
		cmd         uint32
		data, data2 uint32
		deadline    uint32
		reference   Ticks
	}{
		{"with reference", 0, CmdSetWithReference, 100, 50, 150, 100},
		{"relative", 100, CmdSetRelative, 50, 0, 150, 100},
		{"absolute", 100, CmdSetAbsolute, 150, 0, 150, 100},
		{"absolute across wrap", 0xFFFFFFF0, CmdSetAbsolute, 0x10, 0, 0x10, 0xFFFFFFF0},
		{"relative across wrap", 0xFFFFFFF0, CmdSetRelative, 0x20, 0, 0x10, 0xFFFFFFF0},
	}

	for _, tc := range testCases {
		f := newDriverFixture(t, tc.now, 1)
		v := f.command(t, tc.cmd, tc.data, tc.data2, 0)
		if v != tc.deadline {
			t.Errorf("%s: expected deadline %#x, got %#x", tc.name, tc.deadline, v)
		}
		exp, _ := f.driver.Expiration(0)
		if !exp.Enabled || exp.Reference != tc.reference || uint32(exp.Deadline()) != tc.deadline {
			t.Errorf("%s: unexpected expiration %+v", tc.name, exp)
		}
		if !f.hw.armed || uint32(f.hw.GetAlarm()) != tc.deadline {
			t.Errorf("%s: expected alarm armed for %#x, got armed=%v %#x", tc.name, tc.deadline, f.hw.armed, f.hw.GetAlarm())
		}
		if f.driver.NumArmed() != 1 {
			t.Errorf("%s: expected 1 armed, got %d", tc.name, f.driver.NumArmed())
		}
	}
}

func TestDriverStop(t *testing.T) {
	f := newDriverFixture(t, 0, 2)

	if _, err := f.driver.Command(CmdStop, 0, 0, 0); !errors.Is(err, ErrAlready) {
		t.Errorf("Expected ErrAlready stopping an idle alarm, got %v", err)
	}
	if f.driver.NumArmed() != 0 || f.hw.sets != 0 || f.hw.disarms != 0 {
		t.Errorf("Idle stop changed state: armed=%d sets=%d disarms=%d", f.driver.NumArmed(), f.hw.sets, f.hw.disarms)
	}

	// Another process's alarm is untouched by a stop on an idle record
	f.command(t, CmdSetRelative, 200, 0, 1)
	sets, disarms := f.hw.sets, f.hw.disarms
	if _, err := f.driver.Command(CmdStop, 0, 0, 0); !errors.Is(err, ErrAlready) {
		t.Errorf("Expected ErrAlready, got %v", err)
	}
	if f.driver.NumArmed() != 1 || f.hw.sets != sets || f.hw.disarms != disarms {
		t.Errorf("Idle stop changed state: armed=%d sets %d->%d disarms %d->%d",
			f.driver.NumArmed(), sets, f.hw.sets, disarms, f.hw.disarms)
	}
	if f.hw.GetAlarm() != 200 {
		t.Errorf("Expected alarm still at 200, got %d", f.hw.GetAlarm())
	}

	f.command(t, CmdSetRelative, 100, 0, 0)
	f.command(t, CmdStop, 0, 0, 0)
	f.command(t, CmdStop, 0, 0, 1)
	if f.driver.NumArmed() != 0 {
		t.Errorf("Expected 0 armed after stop, got %d", f.driver.NumArmed())
	}
	if f.hw.armed {
		t.Error("Expected alarm disarmed after stop")
	}

	sets, disarms = f.hw.sets, f.hw.disarms
	if _, err := f.driver.Command(CmdStop, 0, 0, 0); !errors.Is(err, ErrAlready) {
		t.Errorf("Expected ErrAlready on second stop, got %v", err)
	}
	if f.driver.NumArmed() != 0 || f.hw.sets != sets || f.hw.disarms != disarms {
		t.Errorf("Second stop changed state: armed=%d sets %d->%d disarms %d->%d",
			f.driver.NumArmed(), sets, f.hw.sets, disarms, f.hw.disarms)
	}
}

func TestDriverRearmCountsOnce(t *testing.T) {
	f := newDriverFixture(t, 0, 1)
	f.command(t, CmdSetRelative, 100, 0, 0)
	f.command(t, CmdSetRelative, 50, 0, 0)

	if f.driver.NumArmed() != 1 {
		t.Errorf("Expected 1 armed after rearm, got %d", f.driver.NumArmed())
	}
	if f.hw.GetAlarm() != 50 {
		t.Errorf("Expected alarm moved to 50, got %d", f.hw.GetAlarm())
	}
}

func TestDriverPicksNearestDeadline(t *testing.T) {
	f := newDriverFixture(t, 0, 3)
	f.command(t, CmdSetWithReference, 0, 300, 0)
	f.command(t, CmdSetWithReference, 0, 100, 1)
	f.command(t, CmdSetWithReference, 0, 200, 2)

	if f.hw.GetAlarm() != 100 {
		t.Errorf("Expected alarm at 100, got %d", f.hw.GetAlarm())
	}
	if next := f.driver.NextAlarm(); next.Deadline() != 100 {
		t.Errorf("Expected next alarm 100, got %+v", next)
	}

	// Stopping the nearest moves the alarm to the next one
	f.command(t, CmdStop, 0, 0, 1)
	if f.hw.GetAlarm() != 200 {
		t.Errorf("Expected alarm at 200, got %d", f.hw.GetAlarm())
	}
}

func TestDriverTwoProcesses(t *testing.T) {
	f := newDriverFixture(t, 1000, 2)
	if v := f.command(t, CmdSetWithReference, 1000, 500, 0); v != 1500 {
		t.Fatalf("Expected 1500, got %d", v)
	}
	if v := f.command(t, CmdSetWithReference, 1000, 1500, 1); v != 2500 {
		t.Fatalf("Expected 2500, got %d", v)
	}
	if f.hw.GetAlarm() != 1500 {
		t.Fatalf("Expected alarm at 1500, got %d", f.hw.GetAlarm())
	}

	f.hw.now = 1500
	f.hw.fire()

	if f.pt.Pending(0) != 1 || f.pt.Pending(1) != 0 {
		t.Fatalf("Expected one upcall for pid 0, got %d/%d", f.pt.Pending(0), f.pt.Pending(1))
	}
	if len(f.upcalls) != 0 {
		t.Fatal("Upcall delivered from interrupt context")
	}
	if n := f.pt.DeliverAll(); n != 1 {
		t.Fatalf("Expected 1 delivered upcall, got %d", n)
	}
	want := upcallRecord{0, 1500, 1500, 0}
	if f.upcalls[0] != want {
		t.Errorf("Expected upcall %+v, got %+v", want, f.upcalls[0])
	}
	if f.driver.NumArmed() != 1 || f.hw.GetAlarm() != 2500 {
		t.Errorf("Expected pid 1 still armed at 2500, armed=%d alarm=%d", f.driver.NumArmed(), f.hw.GetAlarm())
	}

	f.hw.now = 2500
	f.hw.fire()
	f.pt.DeliverAll()
	if len(f.upcalls) != 2 || f.upcalls[1] != (upcallRecord{1, 2500, 2500, 0}) {
		t.Errorf("Unexpected upcalls %+v", f.upcalls)
	}
	if f.driver.NumArmed() != 0 || f.hw.armed {
		t.Errorf("Expected driver idle, armed=%d hw=%v", f.driver.NumArmed(), f.hw.armed)
	}
}

// A deadline that passes while the driver scans is expired in the same
// interrupt instead of waiting for another one.
func TestDriverExpiresDuringScan(t *testing.T) {
	f := newDriverFixture(t, 0, 2)
	f.command(t, CmdSetWithReference, 0, 100, 0)
	f.command(t, CmdSetWithReference, 0, 105, 1)

	f.hw.now = 100
	f.hw.step = 10
	f.hw.fire()
	f.hw.step = 0

	f.pt.DeliverAll()
	if len(f.upcalls) != 2 {
		t.Fatalf("Expected both processes notified, got %+v", f.upcalls)
	}
	if f.upcalls[0].pid != 0 || f.upcalls[0].deadline != 100 {
		t.Errorf("Unexpected first upcall %+v", f.upcalls[0])
	}
	if f.upcalls[1].pid != 1 || f.upcalls[1].deadline != 105 || f.upcalls[1].now < 105 {
		t.Errorf("Unexpected second upcall %+v", f.upcalls[1])
	}
	if f.driver.NumArmed() != 0 || f.hw.armed {
		t.Errorf("Expected driver idle, armed=%d hw=%v", f.driver.NumArmed(), f.hw.armed)
	}
}

func TestDriverUnsubscribedStillExpires(t *testing.T) {
	f := newDriverFixture(t, 0, 1)
	if err := f.driver.Subscribe(0, nil, 0); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	f.command(t, CmdSetRelative, 10, 0, 0)
	f.hw.now = 10
	f.hw.fire()

	if f.pt.Pending(0) != 0 {
		t.Errorf("Expected no upcall without a subscription, got %d", f.pt.Pending(0))
	}
	if f.driver.NumArmed() != 0 {
		t.Errorf("Expected alarm expired, got %d armed", f.driver.NumArmed())
	}
}

func TestDriverSubscribeErrors(t *testing.T) {
	f := newDriverFixture(t, 0, 1)
	if err := f.driver.Subscribe(1, nil, 0); !errors.Is(err, ErrNoSupport) {
		t.Errorf("Expected ErrNoSupport for subscribe 1, got %v", err)
	}
	if err := f.driver.Subscribe(0, nil, 5); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("Expected ErrNoSuchProcess, got %v", err)
	}
	if _, err := f.driver.Command(CmdNow, 0, 0, 5); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("Expected ErrNoSuchProcess, got %v", err)
	}
}

func TestDriverTerminateReleasesAlarm(t *testing.T) {
	f := newDriverFixture(t, 0, 2)
	f.command(t, CmdSetWithReference, 0, 100, 0)
	f.command(t, CmdSetWithReference, 0, 200, 1)

	if err := f.pt.Terminate(0); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if f.driver.NumArmed() != 1 {
		t.Errorf("Expected 1 armed after terminate, got %d", f.driver.NumArmed())
	}
	if f.hw.GetAlarm() != 200 {
		t.Errorf("Expected alarm moved to 200, got %d", f.hw.GetAlarm())
	}
	if _, err := f.driver.Command(CmdNow, 0, 0, 0); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("Expected ErrNoSuchProcess for a dead process, got %v", err)
	}

	f.pt.Terminate(1)
	if f.driver.NumArmed() != 0 || f.hw.armed {
		t.Errorf("Expected driver idle, armed=%d hw=%v", f.driver.NumArmed(), f.hw.armed)
	}
}

func TestExpirationPending(t *testing.T) {
	exp := EnabledAt(1000, 500)
	if exp.Deadline() != 1500 {
		t.Fatalf("Expected deadline 1500, got %d", exp.Deadline())
	}
	for _, now := range []Ticks{1000, 1499} {
		if !exp.Pending(now) {
			t.Errorf("Expected pending at %d", now)
		}
	}
	for _, now := range []Ticks{1500, 999, 2000} {
		if exp.Pending(now) {
			t.Errorf("Expected not pending at %d", now)
		}
	}
}
