package sim

import (
	"testing"
	"time"
)

func testLoop(capacity, perClient int) *Loop {
	core := NewCore(testCoreConfig(), Deps{})
	return NewLoop(core, LoopConfig{
		TickRate:        50,
		CatchupMaxTicks: 4,
		CommandCapacity: capacity,
		PerClientLimit:  perClient,
	}, LoopHooks{})
}

func TestLoopEnqueuePerClientLimit(t *testing.T) {
	var drops []string
	loop := testLoop(64, 2)
	loop.SetHooks(LoopHooks{
		OnCommandDrop: func(reason string, cmd Command) {
			drops = append(drops, reason)
		},
	})

	for i := 0; i < 2; i++ {
		if ok, reason := loop.Enqueue(Command{ClientID: 1, Type: CommandInput}); !ok {
			t.Fatalf("expected enqueue %d to succeed, got %q", i, reason)
		}
	}
	ok, reason := loop.Enqueue(Command{ClientID: 1, Type: CommandInput})
	if ok || reason != CommandRejectQueueLimit {
		t.Fatalf("expected queue_limit rejection, got ok=%v reason=%q", ok, reason)
	}
	if len(drops) != 1 || drops[0] != CommandRejectQueueLimit {
		t.Fatalf("expected drop hook once, got %v", drops)
	}

	// Other clients are unaffected by one client's throttle.
	if ok, reason := loop.Enqueue(Command{ClientID: 2, Type: CommandInput}); !ok {
		t.Fatalf("expected other client accepted, got %q", reason)
	}
}

func TestLoopEnqueueQueueFull(t *testing.T) {
	loop := testLoop(2, 0)
	loop.Enqueue(Command{ClientID: 1})
	loop.Enqueue(Command{ClientID: 2})
	ok, reason := loop.Enqueue(Command{ClientID: 3})
	if ok || reason != CommandRejectQueueFull {
		t.Fatalf("expected queue_full rejection, got ok=%v reason=%q", ok, reason)
	}
}

func TestLoopAdvanceDrainsAndSteps(t *testing.T) {
	loop := testLoop(64, 0)
	loop.Enqueue(Command{ClientID: 1, Type: CommandSpawn, Spawn: &SpawnCommand{Name: "p"}})

	result := loop.Advance(LoopTickContext{Tick: 1, Now: time.Now(), Delta: 0.02})
	if result.Tick != 1 {
		t.Fatalf("expected tick 1, got %d", result.Tick)
	}
	if len(result.Commands) != 1 {
		t.Fatalf("expected one drained command, got %d", len(result.Commands))
	}
	if len(result.Snapshot.Entities) != 1 {
		t.Fatalf("expected spawned entity in snapshot, got %d", len(result.Snapshot.Entities))
	}
	if loop.Pending() != 0 {
		t.Fatalf("expected queue drained, got %d", loop.Pending())
	}

	// Per-client counters reset with the drain.
	loopLimited := testLoop(64, 1)
	loopLimited.Enqueue(Command{ClientID: 7, Type: CommandInput})
	loopLimited.Advance(LoopTickContext{Tick: 1, Now: time.Now(), Delta: 0.02})
	if ok, reason := loopLimited.Enqueue(Command{ClientID: 7, Type: CommandInput}); !ok {
		t.Fatalf("expected throttle reset after drain, got %q", reason)
	}
}

func TestLoopSnapshotTicksMonotonic(t *testing.T) {
	loop := testLoop(64, 0)
	var last uint64
	for i := 0; i < 5; i++ {
		result := loop.Advance(LoopTickContext{Now: time.Now(), Delta: 0.02})
		if result.Snapshot.Tick <= last && i > 0 {
			t.Fatalf("expected monotonic ticks, got %d after %d", result.Snapshot.Tick, last)
		}
		last = result.Snapshot.Tick
	}
}
