package sim

import "moba-arena/internal/sim/rules"

// EntityView is one entity's state as exposed to non-simulation callers.
type EntityView struct {
	State            rules.EntityState
	OwnerClient      uint64
	LastProcessedSeq uint32
}

// Snapshot captures the authoritative state at a tick. Tick numbers increase
// monotonically; callers may rely on that for ordering.
type Snapshot struct {
	Tick       uint64
	ServerTime float64
	Entities   []EntityView
}
