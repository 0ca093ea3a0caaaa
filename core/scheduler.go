package core

// Timer represents a scheduled kernel event
type Timer struct {
	WakeTime Ticks
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// TimerQueue runs kernel timers off a single Alarm, usually a virtual
// alarm of the mux. Timers are kept sorted by WakeTime relative to base,
// the tick of the last dispatch.
type TimerQueue struct {
	alarm Alarm
	head  *Timer
	base  Ticks
}

// NewTimerQueue creates a queue and registers it as alarm's client
func NewTimerQueue(alarm Alarm) *TimerQueue {
	q := &TimerQueue{alarm: alarm}
	alarm.SetAlarmClient(q)
	return q
}

// ScheduleTimer adds a timer to the schedule
func (q *TimerQueue) ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if q.head == nil {
		q.base = q.alarm.Now()
	} else if t.WakeTime.WrappingSub(q.base) >= 1<<31 {
		// Already behind base: move base back so t sorts first and
		// fires on the next dispatch. Earlier timers keep their order.
		q.base = t.WakeTime
	}
	q.insertTimer(t)
	q.rearm()
}

// CancelTimer removes t if it is queued
func (q *TimerQueue) CancelTimer(t *Timer) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for link := &q.head; *link != nil; link = &(*link).Next {
		if *link == t {
			*link = t.Next
			t.Next = nil
			q.rearm()
			return true
		}
	}
	return false
}

// Len returns the number of queued timers
func (q *TimerQueue) Len() int {
	n := 0
	for cur := q.head; cur != nil; cur = cur.Next {
		n++
	}
	return n
}

// insertTimer inserts a timer in sorted order by WakeTime
func (q *TimerQueue) insertTimer(t *Timer) {
	key := t.WakeTime.WrappingSub(q.base)
	if q.head == nil || key < q.head.WakeTime.WrappingSub(q.base) {
		t.Next = q.head
		q.head = t
		return
	}

	current := q.head
	for current.Next != nil && current.Next.WakeTime.WrappingSub(q.base) <= key {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

func (q *TimerQueue) rearm() {
	if q.head == nil {
		_ = q.alarm.Disarm()
		return
	}
	q.alarm.SetAlarm(q.base, q.head.WakeTime.WrappingSub(q.base))
}

// AlarmFired processes due timers
func (q *TimerQueue) AlarmFired() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	now := q.alarm.Now()
	// Process all timers whose window [base, WakeTime) no longer holds now
	for q.head != nil && !now.WithinRange(q.base, q.head.WakeTime) {
		timer := q.head
		q.head = timer.Next
		timer.Next = nil // Clear Next pointer to avoid circular references

		RecordTiming(EvtVirtualFire, 0xFF, uint32(now), uint32(timer.WakeTime), 0)
		if timer.Handler(timer) == SF_RESCHEDULE {
			q.insertTimer(timer)
		}
	}
	q.base = now
	q.rearm()
}
