package sim

import "moba-arena/internal/sim/combat"

// Engine defines the surface area exposed to non-simulation callers.
type Engine interface {
	Apply([]Command) error
	Step()
	Snapshot() Snapshot
	DrainCombatEvents() []combat.Event
	RemovedClients() []uint64
	Deps() Deps
}
