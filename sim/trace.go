package sim

import (
	"fmt"
	"image"
	"io"

	"github.com/fogleman/gg"

	"gotick/core"
)

// EventKind classifies trace events
type EventKind string

const (
	KindArm   EventKind = "arm"
	KindStop  EventKind = "stop"
	KindFire  EventKind = "fire"
	KindTimer EventKind = "timer"
	KindError EventKind = "error"
)

// Event is one entry of a trace. Ticks are relative to the scenario start.
type Event struct {
	Tick     uint32
	Kind     EventKind
	Lane     int
	Deadline uint32
	Late     uint32
	Err      string
}

// Trace is the outcome of a simulation run
type Trace struct {
	Scenario       string
	Frequency      uint32
	Duration       uint32
	Lanes          []string
	Events         []Event
	HardwareWrites uint32
	MaxLate        uint32
	Early          int // expiries delivered before their deadline
	Timing         []core.TimingEvent
}

// Count returns the number of events of kind in lane, or in every lane
// when lane is negative
func (t *Trace) Count(kind EventKind, lane int) int {
	n := 0
	for _, e := range t.Events {
		if e.Kind == kind && (lane < 0 || e.Lane == lane) {
			n++
		}
	}
	return n
}

// WriteText writes a human-readable event listing
func (t *Trace) WriteText(w io.Writer) error {
	freq := core.Frequency(t.Frequency)
	if _, err := fmt.Fprintf(w, "scenario %s: %d ticks at %d Hz, %d hardware writes, max late %d\n",
		t.Scenario, t.Duration, t.Frequency, t.HardwareWrites, t.MaxLate); err != nil {
		return err
	}
	for _, e := range t.Events {
		lane := "?"
		if e.Lane >= 0 && e.Lane < len(t.Lanes) {
			lane = t.Lanes[e.Lane]
		}
		var err error
		switch e.Kind {
		case KindError:
			_, err = fmt.Fprintf(w, "%10d %8dus  %-10s %-5s %s\n", e.Tick, freq.TicksToUS(core.Ticks(e.Tick)), lane, e.Kind, e.Err)
		case KindArm:
			_, err = fmt.Fprintf(w, "%10d %8dus  %-10s %-5s deadline=%d\n", e.Tick, freq.TicksToUS(core.Ticks(e.Tick)), lane, e.Kind, e.Deadline)
		default:
			_, err = fmt.Fprintf(w, "%10d %8dus  %-10s %-5s deadline=%d late=%d\n", e.Tick, freq.TicksToUS(core.Ticks(e.Tick)), lane, e.Kind, e.Deadline, e.Late)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Timeline layout in pixels
const (
	marginLeft   = 90
	marginRight  = 20
	marginTop    = 36
	marginBottom = 30
	laneHeight   = 40
)

// x maps a tick to a horizontal pixel position
func (t *Trace) x(tick uint32, width int) float64 {
	span := float64(width - marginLeft - marginRight)
	if t.Duration == 0 {
		return marginLeft
	}
	return marginLeft + span*float64(tick)/float64(t.Duration)
}

// y returns the baseline of lane
func (t *Trace) y(lane int) float64 {
	return float64(marginTop + laneHeight*lane + laneHeight/2)
}

// Render draws the trace as a timeline, one lane per process or timer:
// armed windows in blue, expiries in red, kernel timers in green and
// rejected commands in orange.
func (t *Trace) Render(width int) image.Image {
	height := marginTop + laneHeight*len(t.Lanes) + marginBottom
	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("%s  (%d Hz, %d hw writes, max late %d)", t.Scenario, t.Frequency, t.HardwareWrites, t.MaxLate), 10, 18)

	for lane, name := range t.Lanes {
		y := t.y(lane)
		dc.SetRGB(0, 0, 0)
		dc.DrawString(name, 10, y+4)
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.SetLineWidth(1)
		dc.DrawLine(marginLeft, y, float64(width-marginRight), y)
		dc.Stroke()
	}

	// Time axis
	axisY := float64(height - marginBottom + 12)
	dc.SetRGB(0.3, 0.3, 0.3)
	for i := 0; i <= 4; i++ {
		tick := uint32(uint64(t.Duration) * uint64(i) / 4)
		dc.DrawStringAnchored(fmt.Sprint(tick), t.x(tick, width), axisY, 0.5, 0.5)
	}

	for _, e := range t.Events {
		if e.Lane < 0 || e.Lane >= len(t.Lanes) {
			continue
		}
		x, y := t.x(e.Tick, width), t.y(e.Lane)
		switch e.Kind {
		case KindArm:
			dc.SetRGB(0.55, 0.7, 1)
			dc.SetLineWidth(3)
			dc.DrawLine(x, y-6, t.x(e.Deadline, width), y-6)
			dc.Stroke()
			dc.SetRGB(0.1, 0.3, 0.9)
			dc.SetLineWidth(1)
			dc.DrawLine(x, y-10, x, y+10)
			dc.Stroke()
		case KindStop:
			dc.SetRGB(0.4, 0.4, 0.4)
			dc.DrawRectangle(x-3, y-3, 6, 6)
			dc.Fill()
		case KindFire, KindTimer:
			if e.Late > 0 {
				dc.SetRGB(0.5, 0, 0)
				dc.SetLineWidth(2)
				dc.DrawLine(t.x(e.Deadline, width), y+6, x, y+6)
				dc.Stroke()
			}
			if e.Kind == KindFire {
				dc.SetRGB(0.9, 0.1, 0.1)
			} else {
				dc.SetRGB(0.1, 0.7, 0.2)
			}
			dc.DrawCircle(x, y, 4)
			dc.Fill()
		case KindError:
			dc.SetRGB(1, 0.55, 0)
			dc.SetLineWidth(2)
			dc.DrawLine(x-4, y-4, x+4, y+4)
			dc.DrawLine(x-4, y+4, x+4, y-4)
			dc.Stroke()
		}
	}
	return dc.Image()
}

// SavePNG renders the trace into a PNG file
func (t *Trace) SavePNG(path string, width int) error {
	if err := gg.SavePNG(path, t.Render(width)); err != nil {
		return fmt.Errorf("failed to save timeline: %w", err)
	}
	return nil
}
