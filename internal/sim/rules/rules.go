package rules

import "math"

// Input is one tick of validated player intent. The same structure feeds the
// authoritative engine and the client-side predictor.
type Input struct {
	Move  Vec3
	Flags uint16
	Aim   Vec3
}

// Action flag bits carried in Input.Flags.
const (
	FlagJump uint16 = 1 << iota
	FlagAbilityPrimary
	FlagAbilitySecondary
	FlagInteract
	FlagManualAim
)

// EntityState is the full simulated state for one actor. Values are copied
// by Step; callers own their instances.
type EntityState struct {
	ID        uint64
	Pos       Vec3
	Vel       Vec3
	Yaw       float64
	Health    float64
	MaxHealth float64
	Resource  float64
	Tag       StateTag
}

type StateTag string

const (
	TagIdle     StateTag = "idle"
	TagMoving   StateTag = "moving"
	TagAirborne StateTag = "airborne"
	TagDead     StateTag = "dead"
)

// Params are the movement tunables shared by server and client. Both sides
// must be constructed from the same configuration or reconciliation will
// fight the predictor every tick.
type Params struct {
	MaxSpeed   float64
	ArenaWidth float64
	ArenaDepth float64
	JumpSpeed  float64
	Gravity    float64
}

const aimEpsilon = 1e-9

// Step advances one entity by one fixed timestep. It is a pure function of
// (state, input, dt, params): no wall clock, no randomness, no shared state.
// Reconciliation replays depend on that.
func Step(state EntityState, in Input, dt float64, p Params) EntityState {
	if state.Tag == TagDead {
		return state
	}

	move := in.Move
	if !move.Finite() {
		move = Vec3{}
	}
	if length := move.Len(); length > 1 {
		move = move.Scale(1 / length)
	}

	state.Vel.X = move.X * p.MaxSpeed
	state.Vel.Z = move.Z * p.MaxSpeed

	onGround := state.Pos.Y <= 0
	if onGround && in.Flags&FlagJump != 0 {
		state.Vel.Y = p.JumpSpeed
		onGround = false
	} else if !onGround {
		state.Vel.Y -= p.Gravity * dt
	} else {
		state.Vel.Y = 0
	}

	state.Pos = state.Pos.Add(state.Vel.Scale(dt))

	halfW := p.ArenaWidth / 2
	halfD := p.ArenaDepth / 2
	state.Pos.X = clamp(state.Pos.X, -halfW, halfW)
	state.Pos.Z = clamp(state.Pos.Z, -halfD, halfD)
	if state.Pos.Y <= 0 {
		state.Pos.Y = 0
		state.Vel.Y = 0
	}

	if aimLen := math.Hypot(in.Aim.X, in.Aim.Z); aimLen > aimEpsilon {
		state.Yaw = math.Atan2(in.Aim.X, in.Aim.Z)
	}

	switch {
	case state.Pos.Y > 0:
		state.Tag = TagAirborne
	case move.Len() > aimEpsilon:
		state.Tag = TagMoving
	default:
		state.Tag = TagIdle
	}

	return state
}

// Neutral returns the no-input default substituted for sequence gaps and
// idle clients.
func Neutral() Input {
	return Input{}
}

// DecayToward scales an input's movement toward neutral, used when a client
// stops sending packets. Components below the cutoff snap to zero so stale
// intent cannot creep forever.
func DecayToward(in Input, factor float64) Input {
	const cutoff = 1e-3
	in.Move = in.Move.Scale(factor)
	if in.Move.Len() < cutoff {
		in.Move = Vec3{}
	}
	in.Flags = 0
	return in
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
