package proto

import (
	"errors"
	"math"
	"testing"

	"moba-arena/internal/sim/rules"
)

func TestInputPacketRoundTrip(t *testing.T) {
	pkt := InputPacket{
		ClientID:  42,
		Seq:       7,
		Timestamp: 12.345,
		Move:      rules.Vec3{X: 0.5, Z: -0.25},
		Flags:     0b10101,
		Aim:       rules.Vec3{X: 1, Y: 0.5, Z: 3},
	}
	data := EncodeInputPacket(pkt)
	if len(data) != 46 {
		t.Fatalf("expected 46-byte input packet, got %d", len(data))
	}

	decoded, err := DecodeInputPacket(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.ClientID != pkt.ClientID || decoded.Seq != pkt.Seq || decoded.Flags != pkt.Flags {
		t.Fatalf("header mismatch: %+v", decoded)
	}
	if decoded.Timestamp != pkt.Timestamp {
		t.Fatalf("timestamp mismatch: %v", decoded.Timestamp)
	}
	// Vectors ride as float32.
	if math.Abs(decoded.Move.X-pkt.Move.X) > 1e-6 || math.Abs(decoded.Aim.Z-pkt.Aim.Z) > 1e-6 {
		t.Fatalf("vector mismatch: %+v", decoded)
	}
}

func TestDecodeInputPacketLengthErrors(t *testing.T) {
	if _, err := DecodeInputPacket(make([]byte, 45)); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected short buffer error, got %v", err)
	}
	if _, err := DecodeInputPacket(make([]byte, 47)); !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("expected trailing bytes error, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := Snapshot{
		Tick:       999,
		ServerTime: 19.98,
		Entities: []EntitySnapshot{
			{EntityID: 1, Pos: rules.Vec3{X: 1, Z: 2}, Vel: rules.Vec3{X: 6}, Yaw: 1.5, Health: 846, LastProcessedSeq: 12},
			{EntityID: 2, Pos: rules.Vec3{X: -3}, Health: 1000},
		},
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if want := 18 + 44*2; len(data) != want {
		t.Fatalf("expected %d-byte snapshot, got %d", want, len(data))
	}

	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Tick != snap.Tick || decoded.ServerTime != snap.ServerTime {
		t.Fatalf("header mismatch: %+v", decoded)
	}
	if len(decoded.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(decoded.Entities))
	}
	first := decoded.Entities[0]
	if first.EntityID != 1 || first.LastProcessedSeq != 12 {
		t.Fatalf("entity mismatch: %+v", first)
	}
	if math.Abs(first.Health-846) > 1e-3 {
		t.Fatalf("health mismatch: %v", first.Health)
	}
}

func TestDecodeSnapshotTruncated(t *testing.T) {
	snap := Snapshot{Tick: 1, Entities: []EntitySnapshot{{EntityID: 1}}}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := DecodeSnapshot(data[:len(data)-1]); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected short buffer error, got %v", err)
	}
}

func TestEncodeSnapshotEntityLimit(t *testing.T) {
	snap := Snapshot{Entities: make([]EntitySnapshot, math.MaxUint16+1)}
	if _, err := EncodeSnapshot(snap); err == nil {
		t.Fatalf("expected entity count limit error")
	}
}
