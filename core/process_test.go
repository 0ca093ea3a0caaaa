package core

import (
	"errors"
	"testing"
)

func TestProcessSpawnAndTerminate(t *testing.T) {
	pt := NewProcessTable()
	for i := 0; i < MaxProcesses; i++ {
		pid, err := pt.Spawn("p")
		if err != nil {
			t.Fatalf("Spawn %d failed: %v", i, err)
		}
		if int(pid) != i {
			t.Errorf("Expected pid %d, got %d", i, pid)
		}
	}
	if _, err := pt.Spawn("extra"); !errors.Is(err, ErrNoMem) {
		t.Errorf("Expected ErrNoMem on full table, got %v", err)
	}

	if err := pt.Terminate(2); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if pt.IsAlive(2) {
		t.Error("Expected pid 2 dead")
	}
	if err := pt.Terminate(2); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("Expected ErrNoSuchProcess, got %v", err)
	}
	if pid, _ := pt.Spawn("again"); pid != 2 || pt.Name(pid) != "again" {
		t.Errorf("Expected slot 2 reused as 'again', got %d %q", pid, pt.Name(pid))
	}
}

func TestProcessUpcallQueue(t *testing.T) {
	pt := NewProcessTable()
	pid, _ := pt.Spawn("p")

	var got []uint32
	cb := pt.NewCallback(pid, func(a0, a1, a2 uint32) { got = append(got, a0) })
	if cb.ProcessID() != pid {
		t.Errorf("Expected callback for pid %d, got %d", pid, cb.ProcessID())
	}

	for i := 0; i < upcallQueueSize; i++ {
		if err := cb.Schedule(uint32(i), 0, 0); err != nil {
			t.Fatalf("Schedule %d failed: %v", i, err)
		}
	}
	if err := cb.Schedule(99, 0, 0); !errors.Is(err, ErrNoMem) {
		t.Errorf("Expected ErrNoMem on full queue, got %v", err)
	}
	if pt.Dropped(pid) != 1 {
		t.Errorf("Expected 1 dropped, got %d", pt.Dropped(pid))
	}
	if len(got) != 0 {
		t.Fatal("Upcall ran before delivery")
	}

	if n := pt.Deliver(pid); n != upcallQueueSize {
		t.Errorf("Expected %d delivered, got %d", upcallQueueSize, n)
	}
	for i, v := range got {
		if v != uint32(i) {
			t.Errorf("Upcall %d out of order: %d", i, v)
		}
	}

	// Wraps the ring
	cb.Schedule(10, 0, 0)
	cb.Schedule(11, 0, 0)
	pt.DeliverAll()
	if got[len(got)-2] != 10 || got[len(got)-1] != 11 {
		t.Errorf("Unexpected tail %v", got[len(got)-2:])
	}
}

func TestProcessTerminateDropsUpcalls(t *testing.T) {
	pt := NewProcessTable()
	pid, _ := pt.Spawn("p")
	ran := false
	pt.NewCallback(pid, func(uint32, uint32, uint32) { ran = true }).Schedule(0, 0, 0)

	pt.Terminate(pid)
	if pt.DeliverAll() != 0 || ran {
		t.Error("Upcall delivered to a terminated process")
	}
	if err := pt.Schedule(pid, Upcall{}); !errors.Is(err, ErrNoSuchProcess) {
		t.Errorf("Expected ErrNoSuchProcess, got %v", err)
	}
}
