package core

// MaxProcesses is the number of process slots the kernel supports
const MaxProcesses = 8

// upcallQueueSize is the per-process pending upcall capacity
const upcallQueueSize = 4

// ProcessID identifies a process slot
type ProcessID uint8

// UpcallFn is the process-side handler an upcall is delivered to
type UpcallFn func(arg0, arg1, arg2 uint32)

// Upcall is a deferred call into a process
type Upcall struct {
	Fn   UpcallFn
	Args [3]uint32
}

type processSlot struct {
	alive   bool
	name    string
	queue   [upcallQueueSize]Upcall
	head    uint8
	count   uint8
	dropped uint32
}

// ProcessTable holds the process slots and their pending upcalls.
// Upcalls are queued from interrupt context and delivered later by the
// scheduler loop, never inline.
type ProcessTable struct {
	slots    [MaxProcesses]processSlot
	teardown []func(pid ProcessID)
}

// NewProcessTable creates an empty process table
func NewProcessTable() *ProcessTable {
	return &ProcessTable{}
}

// Spawn allocates the lowest free slot
func (pt *ProcessTable) Spawn(name string) (ProcessID, error) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range pt.slots {
		if !pt.slots[i].alive {
			pt.slots[i] = processSlot{alive: true, name: name}
			return ProcessID(i), nil
		}
	}
	return 0, ErrNoMem
}

// Terminate kills a process and releases everything held for it
func (pt *ProcessTable) Terminate(pid ProcessID) error {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !pt.IsAlive(pid) {
		return ErrNoSuchProcess
	}
	pt.slots[pid].alive = false
	for _, fn := range pt.teardown {
		fn(pid)
	}
	pt.slots[pid] = processSlot{}
	return nil
}

// IsAlive reports whether pid names a running process
func (pt *ProcessTable) IsAlive(pid ProcessID) bool {
	return int(pid) < MaxProcesses && pt.slots[pid].alive
}

// Name returns the name a process was spawned with
func (pt *ProcessTable) Name(pid ProcessID) string {
	if int(pid) >= MaxProcesses {
		return ""
	}
	return pt.slots[pid].name
}

// onTerminate registers a hook run when any process terminates
func (pt *ProcessTable) onTerminate(fn func(pid ProcessID)) {
	pt.teardown = append(pt.teardown, fn)
}

// Schedule queues an upcall for pid. A full queue drops the upcall.
func (pt *ProcessTable) Schedule(pid ProcessID, up Upcall) error {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !pt.IsAlive(pid) {
		return ErrNoSuchProcess
	}
	slot := &pt.slots[pid]
	if slot.count == upcallQueueSize {
		slot.dropped++
		return ErrNoMem
	}
	slot.queue[(slot.head+slot.count)%upcallQueueSize] = up
	slot.count++
	return nil
}

// Pending returns the number of queued upcalls for pid
func (pt *ProcessTable) Pending(pid ProcessID) int {
	if !pt.IsAlive(pid) {
		return 0
	}
	return int(pt.slots[pid].count)
}

// Dropped returns how many upcalls were lost to a full queue
func (pt *ProcessTable) Dropped(pid ProcessID) uint32 {
	if int(pid) >= MaxProcesses {
		return 0
	}
	return pt.slots[pid].dropped
}

func (pt *ProcessTable) pop(pid ProcessID) (Upcall, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	slot := &pt.slots[pid]
	if !slot.alive || slot.count == 0 {
		return Upcall{}, false
	}
	up := slot.queue[slot.head]
	slot.queue[slot.head] = Upcall{}
	slot.head = (slot.head + 1) % upcallQueueSize
	slot.count--
	return up, true
}

// Deliver runs every queued upcall of pid, outside the critical section.
// Returns the number delivered.
func (pt *ProcessTable) Deliver(pid ProcessID) int {
	if int(pid) >= MaxProcesses {
		return 0
	}
	n := 0
	for {
		up, ok := pt.pop(pid)
		if !ok {
			return n
		}
		if up.Fn != nil {
			up.Fn(up.Args[0], up.Args[1], up.Args[2])
		}
		n++
	}
}

// DeliverAll drains the upcall queues of all processes in slot order
func (pt *ProcessTable) DeliverAll() int {
	n := 0
	for i := 0; i < MaxProcesses; i++ {
		n += pt.Deliver(ProcessID(i))
	}
	return n
}

// Callback is a process's subscribed upcall handler
type Callback struct {
	processes *ProcessTable
	pid       ProcessID
	fn        UpcallFn
}

// NewCallback binds fn as an upcall target of pid
func (pt *ProcessTable) NewCallback(pid ProcessID, fn UpcallFn) *Callback {
	return &Callback{processes: pt, pid: pid, fn: fn}
}

// ProcessID returns the process the callback belongs to
func (c *Callback) ProcessID() ProcessID {
	return c.pid
}

// Schedule queues the callback for later delivery
func (c *Callback) Schedule(arg0, arg1, arg2 uint32) error {
	return c.processes.Schedule(c.pid, Upcall{Fn: c.fn, Args: [3]uint32{arg0, arg1, arg2}})
}
