package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"moba-arena/internal/sim/rules"
)

// Wire layout is little-endian and fixed-width: packets ride an
// unreliable-but-frequent channel and must stay cheap to encode each tick.
//
//	input packet:  clientId u64 | seq u32 | timestamp f64 | move f32x3 |
//	               actionFlags u16 | aim f32x3
//	snapshot:      tick u64 | serverTime f64 | count u16 | entities...
//	entity:        entityId u64 | pos f32x3 | vel f32x3 | yaw f32 |
//	               health f32 | lastProcessedSeq u32

const (
	inputPacketSize    = 8 + 4 + 8 + 12 + 2 + 12
	snapshotHeaderSize = 8 + 8 + 2
	entitySize         = 8 + 12 + 12 + 4 + 4 + 4
)

var (
	ErrShortBuffer   = errors.New("proto: buffer too short")
	ErrTrailingBytes = errors.New("proto: trailing bytes after payload")
)

// InputPacket is one client's intent for one simulation tick, as carried on
// the wire. Move and Aim are widened to float64 on decode so the rule set
// operates at simulation precision.
type InputPacket struct {
	ClientID  uint64
	Seq       uint32
	Timestamp float64
	Move      rules.Vec3
	Flags     uint16
	Aim       rules.Vec3
}

// EntitySnapshot is one entity's state inside an authoritative snapshot.
type EntitySnapshot struct {
	EntityID         uint64
	Pos              rules.Vec3
	Vel              rules.Vec3
	Yaw              float64
	Health           float64
	LastProcessedSeq uint32
}

// Snapshot is the per-tick authoritative broadcast.
type Snapshot struct {
	Tick       uint64
	ServerTime float64
	Entities   []EntitySnapshot
}

// EncodeInputPacket renders the fixed-width binary form.
func EncodeInputPacket(pkt InputPacket) []byte {
	buf := make([]byte, inputPacketSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], pkt.ClientID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], pkt.Seq)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(pkt.Timestamp))
	off += 8
	off = putVec3(buf, off, pkt.Move)
	binary.LittleEndian.PutUint16(buf[off:], pkt.Flags)
	off += 2
	putVec3(buf, off, pkt.Aim)
	return buf
}

// DecodeInputPacket parses the fixed-width binary form. Length must match
// exactly; a padded or truncated packet is malformed, not forgivable.
func DecodeInputPacket(data []byte) (InputPacket, error) {
	var pkt InputPacket
	if len(data) < inputPacketSize {
		return pkt, fmt.Errorf("input packet %d bytes: %w", len(data), ErrShortBuffer)
	}
	if len(data) > inputPacketSize {
		return pkt, fmt.Errorf("input packet %d bytes: %w", len(data), ErrTrailingBytes)
	}
	off := 0
	pkt.ClientID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	pkt.Seq = binary.LittleEndian.Uint32(data[off:])
	off += 4
	pkt.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	pkt.Move, off = getVec3(data, off)
	pkt.Flags = binary.LittleEndian.Uint16(data[off:])
	off += 2
	pkt.Aim, _ = getVec3(data, off)
	return pkt, nil
}

// EncodeSnapshot renders the snapshot body (uncompressed, unframed).
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	if len(snap.Entities) > math.MaxUint16 {
		return nil, fmt.Errorf("proto: snapshot with %d entities exceeds wire limit", len(snap.Entities))
	}
	buf := make([]byte, snapshotHeaderSize+entitySize*len(snap.Entities))
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], snap.Tick)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(snap.ServerTime))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(snap.Entities)))
	off += 2
	for _, entity := range snap.Entities {
		binary.LittleEndian.PutUint64(buf[off:], entity.EntityID)
		off += 8
		off = putVec3(buf, off, entity.Pos)
		off = putVec3(buf, off, entity.Vel)
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(entity.Yaw)))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(entity.Health)))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], entity.LastProcessedSeq)
		off += 4
	}
	return buf, nil
}

// DecodeSnapshot parses a snapshot body.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if len(data) < snapshotHeaderSize {
		return snap, fmt.Errorf("snapshot header: %w", ErrShortBuffer)
	}
	off := 0
	snap.Tick = binary.LittleEndian.Uint64(data[off:])
	off += 8
	snap.ServerTime = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	count := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if len(data) != snapshotHeaderSize+count*entitySize {
		return snap, fmt.Errorf("snapshot with %d entities, %d bytes: %w", count, len(data), ErrShortBuffer)
	}
	snap.Entities = make([]EntitySnapshot, count)
	for i := 0; i < count; i++ {
		entity := &snap.Entities[i]
		entity.EntityID = binary.LittleEndian.Uint64(data[off:])
		off += 8
		entity.Pos, off = getVec3(data, off)
		entity.Vel, off = getVec3(data, off)
		entity.Yaw = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
		off += 4
		entity.Health = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
		off += 4
		entity.LastProcessedSeq = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	return snap, nil
}

func putVec3(buf []byte, off int, v rules.Vec3) int {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v.X)))
	binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(float32(v.Y)))
	binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(float32(v.Z)))
	return off + 12
}

func getVec3(data []byte, off int) (rules.Vec3, int) {
	v := rules.Vec3{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off+8:]))),
	}
	return v, off + 12
}
