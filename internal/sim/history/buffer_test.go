package history

import (
	"math"
	"testing"

	"moba-arena/internal/sim/rules"
)

func TestQueryAtInterpolates(t *testing.T) {
	buf := NewBuffer(1.0)
	buf.Record(1, rules.Vec3{X: 0}, 0, 1.0)
	buf.Record(1, rules.Vec3{X: 10}, 0, 2.0)

	sample, ok := buf.QueryAt(1, 1.5)
	if !ok {
		t.Fatalf("expected sample")
	}
	if math.Abs(sample.Pos.X-5) > 1e-9 {
		t.Fatalf("expected interpolated x=5, got %v", sample.Pos.X)
	}
	if sample.Clamped {
		t.Fatalf("in-window query must not be clamped")
	}
}

func TestQueryAtClampsAtBoundaries(t *testing.T) {
	buf := NewBuffer(1.0)
	buf.Record(1, rules.Vec3{X: 1}, 0, 1.0)
	buf.Record(1, rules.Vec3{X: 2}, 0, 2.0)

	before, ok := buf.QueryAt(1, 0.5)
	if !ok || !before.Clamped || before.Pos.X != 1 {
		t.Fatalf("expected clamped oldest sample, got %+v ok=%v", before, ok)
	}
	after, ok := buf.QueryAt(1, 3.0)
	if !ok || !after.Clamped || after.Pos.X != 2 {
		t.Fatalf("expected clamped newest sample, got %+v ok=%v", after, ok)
	}

	// Exactly at a boundary is served, not flagged.
	edge, ok := buf.QueryAt(1, 2.0)
	if !ok || edge.Clamped {
		t.Fatalf("expected exact boundary without clamp, got %+v", edge)
	}
}

func TestQueryAtUnknownEntity(t *testing.T) {
	buf := NewBuffer(1.0)
	if _, ok := buf.QueryAt(42, 1.0); ok {
		t.Fatalf("expected no sample for unknown entity")
	}
}

func TestRecordDropsOutOfOrder(t *testing.T) {
	buf := NewBuffer(1.0)
	buf.Record(1, rules.Vec3{X: 1}, 0, 2.0)
	buf.Record(1, rules.Vec3{X: 99}, 0, 1.0)
	if buf.Len(1) != 1 {
		t.Fatalf("expected out-of-order record dropped, have %d entries", buf.Len(1))
	}
	buf.Record(1, rules.Vec3{X: 2}, 0, 2.0)
	if buf.Len(1) != 1 {
		t.Fatalf("expected duplicate timestamp dropped, have %d entries", buf.Len(1))
	}
}

func TestPruneKeepsNewestSample(t *testing.T) {
	buf := NewBuffer(0.5)
	buf.Record(1, rules.Vec3{X: 1}, 0, 1.0)
	buf.Record(1, rules.Vec3{X: 2}, 0, 1.2)

	buf.Prune(10.0)
	if buf.Len(1) != 1 {
		t.Fatalf("expected one surviving entry, have %d", buf.Len(1))
	}
	sample, ok := buf.QueryAt(1, 10.0)
	if !ok || sample.Pos.X != 2 {
		t.Fatalf("expected newest sample retained, got %+v ok=%v", sample, ok)
	}
}

func TestPruneWindow(t *testing.T) {
	buf := NewBuffer(1.0)
	for i := 0; i < 10; i++ {
		buf.Record(1, rules.Vec3{X: float64(i)}, 0, float64(i)*0.2)
	}
	buf.Prune(1.8)
	// Entries older than 0.8 go; 0.8 through 1.8 stay.
	if got := buf.Len(1); got != 6 {
		t.Fatalf("expected 6 entries after prune, got %d", got)
	}
}

func TestDrop(t *testing.T) {
	buf := NewBuffer(1.0)
	buf.Record(1, rules.Vec3{}, 0, 1.0)
	buf.Drop(1)
	if buf.Len(1) != 0 {
		t.Fatalf("expected entries removed")
	}
}
