package history

import (
	"moba-arena/internal/sim/rules"
)

// Entry is one retained sample of an entity's authoritative transform.
// Entries are append-only: once recorded they are never mutated, only pruned
// when they age out of the retention window.
type Entry struct {
	Pos       rules.Vec3
	Yaw       float64
	Timestamp float64
}

// Sample is the result of a lag-compensation query.
type Sample struct {
	Pos     rules.Vec3
	Yaw     float64
	Clamped bool
}

// Buffer retains a sliding window of past positions per entity so the combat
// resolver can answer "where was this entity when the attacker fired". It is
// written only by the tick loop and read within the same tick, so it needs
// no locking.
type Buffer struct {
	retention float64
	entries   map[uint64][]Entry
}

func NewBuffer(retentionSec float64) *Buffer {
	if retentionSec <= 0 {
		retentionSec = 1.0
	}
	return &Buffer{
		retention: retentionSec,
		entries:   make(map[uint64][]Entry),
	}
}

// Record appends a sample. Out-of-order timestamps are dropped rather than
// inserted: per-entity entries stay strictly increasing by construction.
func (b *Buffer) Record(entityID uint64, pos rules.Vec3, yaw float64, timestamp float64) {
	if b == nil {
		return
	}
	samples := b.entries[entityID]
	if n := len(samples); n > 0 && samples[n-1].Timestamp >= timestamp {
		return
	}
	b.entries[entityID] = append(samples, Entry{Pos: pos, Yaw: yaw, Timestamp: timestamp})
}

// QueryAt returns the interpolated transform for the entity at the requested
// timestamp. Outside the retained window the nearest boundary entry is
// returned with Clamped set; the buffer never extrapolates. The second
// return value is false only when the entity has no retained data at all.
func (b *Buffer) QueryAt(entityID uint64, timestamp float64) (Sample, bool) {
	if b == nil {
		return Sample{}, false
	}
	samples := b.entries[entityID]
	if len(samples) == 0 {
		return Sample{}, false
	}

	oldest := samples[0]
	newest := samples[len(samples)-1]
	if timestamp <= oldest.Timestamp {
		return Sample{Pos: oldest.Pos, Yaw: oldest.Yaw, Clamped: timestamp < oldest.Timestamp}, true
	}
	if timestamp >= newest.Timestamp {
		return Sample{Pos: newest.Pos, Yaw: newest.Yaw, Clamped: timestamp > newest.Timestamp}, true
	}

	// Binary search for the first entry at or after the timestamp.
	lo, hi := 0, len(samples)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if samples[mid].Timestamp < timestamp {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	after := samples[lo]
	before := samples[lo-1]
	span := after.Timestamp - before.Timestamp
	t := 0.0
	if span > 0 {
		t = (timestamp - before.Timestamp) / span
	}
	return Sample{
		Pos: rules.Lerp(before.Pos, after.Pos, t),
		Yaw: rules.LerpAngle(before.Yaw, after.Yaw, t),
	}, true
}

// Prune discards entries older than the retention window relative to now.
// Called once per tick by the loop; amortized O(entries dropped).
func (b *Buffer) Prune(now float64) {
	if b == nil {
		return
	}
	cutoff := now - b.retention
	for id, samples := range b.entries {
		idx := 0
		for idx < len(samples) && samples[idx].Timestamp < cutoff {
			idx++
		}
		if idx == 0 {
			continue
		}
		if idx == len(samples) {
			// Keep the most recent sample so a just-idle entity still
			// answers queries at the window edge.
			b.entries[id] = append(samples[:0], samples[len(samples)-1])
			continue
		}
		b.entries[id] = append(samples[:0], samples[idx:]...)
	}
}

// Drop removes every entry for a despawned entity.
func (b *Buffer) Drop(entityID uint64) {
	if b == nil {
		return
	}
	delete(b.entries, entityID)
}

// Len reports the number of retained entries for an entity.
func (b *Buffer) Len(entityID uint64) int {
	if b == nil {
		return 0
	}
	return len(b.entries[entityID])
}
