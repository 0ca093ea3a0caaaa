package sim

import (
	"errors"
	"sort"

	"gotick/core"
)

// maxPolls bounds the expiries handled in one step; deadlines that are
// already due fire back to back.
const maxPolls = 16

type scheduledCommand struct {
	at   uint32
	lane int
	cfg  AlarmConfig
}

type periodic struct {
	period uint32
	left   int
}

type runner struct {
	scenario *Scenario
	start    core.Ticks
	hw       *core.SysTickAlarm
	kernel   *core.Kernel
	pids     []core.ProcessID
	periodic []periodic
	trace    *Trace
}

// Run simulates s and returns its trace. It resets the global clock and
// timing ring, so runs must not overlap.
func Run(s *Scenario) (*Trace, error) {
	start := core.Ticks(s.Start)
	core.SetTime(start)
	core.ClearTimingRing()

	hw := core.NewSysTickAlarm(core.Frequency(s.Frequency))
	r := &runner{
		scenario: s,
		start:    start,
		hw:       hw,
		kernel:   core.NewKernel(hw),
		periodic: make([]periodic, len(s.Processes)),
		trace: &Trace{
			Scenario:  s.Name,
			Frequency: s.Frequency,
			Duration:  s.Duration,
		},
	}

	if err := r.spawn(); err != nil {
		return nil, err
	}
	r.scheduleTimers()

	var cmds []scheduledCommand
	for lane, p := range s.Processes {
		for _, a := range p.Alarms {
			cmds = append(cmds, scheduledCommand{at: a.At, lane: lane, cfg: a})
		}
	}
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].at < cmds[j].at })

	next := 0
	for elapsed := uint64(0); elapsed <= uint64(s.Duration); elapsed += uint64(s.Step) {
		for next < len(cmds) && uint64(cmds[next].at) <= elapsed {
			r.issue(cmds[next])
			next++
		}
		for i := 0; i < maxPolls && hw.Poll(); i++ {
		}
		r.kernel.Processes.DeliverAll()
		core.AdvanceTime(core.Ticks(s.Step))
	}

	r.trace.HardwareWrites = hw.Writes()
	r.trace.Timing = core.TimingEvents()
	return r.trace, nil
}

func (r *runner) spawn() error {
	for lane, p := range r.scenario.Processes {
		lane := lane // per-iteration copy (go 1.21 loop semantics)
		pid, err := r.kernel.Processes.Spawn(p.Name)
		if err != nil {
			return err
		}
		r.pids = append(r.pids, pid)
		r.trace.Lanes = append(r.trace.Lanes, p.Name)

		cb := r.kernel.Processes.NewCallback(pid, func(now, deadline, _ uint32) {
			r.fired(lane, core.Ticks(now), core.Ticks(deadline))
		})
		if err := r.kernel.Driver.Subscribe(0, cb, pid); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) scheduleTimers() {
	for i, cfg := range r.scenario.Timers {
		lane := len(r.scenario.Processes) + i
		r.trace.Lanes = append(r.trace.Lanes, cfg.Name)

		left := cfg.Count - 1
		period := core.Ticks(cfg.Period)
		timer := &core.Timer{WakeTime: r.start.WrappingAdd(core.Ticks(cfg.At))}
		timer.Handler = func(t *core.Timer) uint8 {
			r.record(lane, KindTimer, r.hw.Now(), t.WakeTime)
			if left <= 0 || period == 0 {
				return core.SF_DONE
			}
			left--
			t.WakeTime = t.WakeTime.WrappingAdd(period)
			return core.SF_RESCHEDULE
		}
		r.kernel.Timers.ScheduleTimer(timer)
	}
}

// issue runs one scripted alarm command
func (r *runner) issue(c scheduledCommand) {
	cmd := commandNames[c.cfg.Cmd]
	data, data2 := c.cfg.Data, c.cfg.Data2
	switch cmd {
	case core.CmdSetAbsolute, core.CmdSetWithReference:
		data = uint32(r.start.WrappingAdd(core.Ticks(data)))
	}

	now := r.hw.Now()
	value, err := r.kernel.Driver.Command(cmd, data, data2, r.pids[c.lane])
	switch {
	case err != nil:
		r.trace.Events = append(r.trace.Events, Event{
			Tick: uint32(now.WrappingSub(r.start)),
			Kind: KindError,
			Lane: c.lane,
			Err:  err.Error(),
		})
		if errors.Is(err, core.ErrAlready) {
			r.periodic[c.lane] = periodic{}
		}
	case cmd == core.CmdStop:
		r.record(c.lane, KindStop, now, now)
		r.periodic[c.lane] = periodic{}
	default:
		r.record(c.lane, KindArm, now, core.Ticks(value))
		r.periodic[c.lane] = periodic{period: c.cfg.Period, left: c.cfg.Count - 1}
	}
}

// fired handles a delivered upcall, re-arming periodic alarms from the
// deadline so the period does not drift with delivery latency.
func (r *runner) fired(lane int, now, deadline core.Ticks) {
	r.record(lane, KindFire, now, deadline)

	p := &r.periodic[lane]
	if p.period == 0 || p.left <= 0 {
		return
	}
	p.left--
	value, err := r.kernel.Driver.Command(core.CmdSetWithReference, uint32(deadline), p.period, r.pids[lane])
	if err != nil {
		r.trace.Events = append(r.trace.Events, Event{
			Tick: uint32(now.WrappingSub(r.start)),
			Kind: KindError,
			Lane: lane,
			Err:  err.Error(),
		})
		return
	}
	r.record(lane, KindArm, r.hw.Now(), core.Ticks(value))
}

func (r *runner) record(lane int, kind EventKind, now, deadline core.Ticks) {
	evt := Event{
		Tick:     uint32(now.WrappingSub(r.start)),
		Kind:     kind,
		Lane:     lane,
		Deadline: uint32(deadline.WrappingSub(r.start)),
	}
	if kind == KindFire || kind == KindTimer {
		if evt.Tick < evt.Deadline {
			r.trace.Early++
		} else {
			evt.Late = evt.Tick - evt.Deadline
			if evt.Late > r.trace.MaxLate {
				r.trace.MaxLate = evt.Late
			}
		}
	}
	r.trace.Events = append(r.trace.Events, evt)
}
