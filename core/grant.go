package core

type grantRecord[T any] struct {
	allocated bool
	entered   bool
	data      T
}

// Grant is per-process kernel state: one T per process, created zeroed on
// first access and released when the process terminates. A record is
// only reachable through Enter and Each, and never by two callers at once.
type Grant[T any] struct {
	processes *ProcessTable
	records   [MaxProcesses]grantRecord[T]
	release   func(pid ProcessID, data *T)
}

// NewGrant creates a grant whose records follow the lifetime of the
// processes in pt.
func NewGrant[T any](pt *ProcessTable) *Grant[T] {
	g := &Grant[T]{processes: pt}
	pt.onTerminate(g.free)
	return g
}

// Processes returns the table the grant belongs to
func (g *Grant[T]) Processes() *ProcessTable {
	return g.processes
}

// OnRelease sets a hook run on a record just before it is freed
func (g *Grant[T]) OnRelease(fn func(pid ProcessID, data *T)) {
	g.release = fn
}

// Enter gives fn exclusive access to the record of pid
func (g *Grant[T]) Enter(pid ProcessID, fn func(data *T) error) error {
	if !g.processes.IsAlive(pid) {
		return ErrNoSuchProcess
	}
	r := &g.records[pid]
	if r.entered {
		return ErrBusy
	}
	if !r.allocated {
		var zero T
		r.data = zero
		r.allocated = true
	}
	r.entered = true
	defer func() { r.entered = false }()
	return fn(&r.data)
}

// Each calls fn for every allocated record of a live process in slot
// order. Records currently entered elsewhere are skipped.
func (g *Grant[T]) Each(fn func(pid ProcessID, data *T)) {
	for i := range g.records {
		r := &g.records[i]
		pid := ProcessID(i)
		if !r.allocated || r.entered || !g.processes.IsAlive(pid) {
			continue
		}
		r.entered = true
		fn(pid, &r.data)
		r.entered = false
	}
}

// Allocated reports whether pid has touched the grant
func (g *Grant[T]) Allocated(pid ProcessID) bool {
	return int(pid) < MaxProcesses && g.records[pid].allocated
}

func (g *Grant[T]) free(pid ProcessID) {
	r := &g.records[pid]
	if r.allocated && g.release != nil {
		g.release(pid, &r.data)
	}
	g.records[pid] = grantRecord[T]{}
}
