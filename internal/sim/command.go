package sim

import (
	"time"

	"moba-arena/internal/sim/rules"
)

// CommandType enumerates the staged simulation commands.
type CommandType string

const (
	CommandInput     CommandType = "Input"
	CommandHeartbeat CommandType = "Heartbeat"
	CommandSpawn     CommandType = "Spawn"
	CommandDespawn   CommandType = "Despawn"
)

// InputCommand is one validated input packet bound for the engine. Move has
// already passed (or been clamped by) the validation layer.
type InputCommand struct {
	Seq        uint32
	ClientTime float64
	Input      rules.Input
	Clamped    bool
}

// HeartbeatCommand refreshes the engine's latency estimate for a client.
type HeartbeatCommand struct {
	ReceivedAt time.Time
	ClientSent int64
	RTT        time.Duration
}

// SpawnCommand creates the entity for a newly joined client.
type SpawnCommand struct {
	Name string
}

// Command is an intent staged for processing on the next tick.
type Command struct {
	OriginTick uint64
	ClientID   uint64
	Type       CommandType
	IssuedAt   time.Time
	Input      *InputCommand
	Heartbeat  *HeartbeatCommand
	Spawn      *SpawnCommand
}
