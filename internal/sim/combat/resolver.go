package combat

import (
	"moba-arena/internal/sim/history"
	"moba-arena/internal/sim/rules"
)

// Ability carries the tuned coefficients for one castable ability.
type Ability struct {
	Name      string
	Ratio     float64
	Slider    float64
	Base      float64
	Range     float64
	HitRadius float64
}

// Config holds the combat-wide tunables.
type Config struct {
	MitigationK    float64
	ManualAimBonus float64
	// MaxRewindSec caps how far back a laggy attacker may rewind targets.
	MaxRewindSec float64
}

// Attacker is the resolver's view of the casting entity.
type Attacker struct {
	ID         uint64
	Pos        rules.Vec3
	AttackStat float64
	Level      int
}

// Target is one candidate the cast may land on.
type Target struct {
	ID      uint64
	Pos     rules.Vec3
	Defense float64
}

// Event is the outcome of a resolved cast, consumed once by the engine to
// mutate the target's health and then handed to the journal.
type Event struct {
	AttackerID     uint64
	TargetID       uint64
	Ability        string
	RawDamage      float64
	Mitigated      float64
	FinalDamage    float64
	ManualAim      bool
	RewindTime     float64
	RewindOffset   float64
	UsedCurrentPos bool
}

// RejectReason explains why a cast produced no event.
type RejectReason string

const (
	RejectOutOfRange    RejectReason = "out_of_range"
	RejectNoTarget      RejectReason = "no_target"
	RejectNonFiniteAim  RejectReason = "non_finite_aim"
	RejectUnstableValue RejectReason = "non_finite_damage"
)

// Resolver answers ability casts against historical target positions. It is
// only ever called from inside the tick, after the history buffer has been
// updated for the current tick.
type Resolver struct {
	cfg     Config
	history *history.Buffer
}

func NewResolver(cfg Config, buf *history.Buffer) *Resolver {
	return &Resolver{cfg: cfg, history: buf}
}

// Resolve performs the lag-compensated hit test and damage computation.
//
// The hit test runs against each candidate's position at serverNow minus the
// attacker's perceived latency: the target is hit where the attacker saw it,
// not where it is now. Candidates with no retained history (fresh spawns)
// fall back to their current position.
func (r *Resolver) Resolve(att Attacker, candidates []Target, ability Ability, aim rules.Vec3, manualAim bool, serverNow, perceivedLatency float64) (Event, RejectReason) {
	if r == nil {
		return Event{}, RejectNoTarget
	}
	if !aim.Finite() {
		return Event{}, RejectNonFiniteAim
	}

	rewind := perceivedLatency
	if rewind < 0 {
		rewind = 0
	}
	if r.cfg.MaxRewindSec > 0 && rewind > r.cfg.MaxRewindSec {
		rewind = r.cfg.MaxRewindSec
	}
	rewindTime := serverNow - rewind

	aimPoint := att.Pos.Add(aim)

	var (
		best         *Target
		bestDist     float64
		usedFallback bool
		anyInRange   bool
	)
	for i := range candidates {
		candidate := &candidates[i]
		if candidate.ID == att.ID {
			continue
		}
		pos := candidate.Pos
		fallback := true
		if sample, ok := r.history.QueryAt(candidate.ID, rewindTime); ok {
			pos = sample.Pos
			fallback = false
		}
		if pos.Dist(att.Pos) > ability.Range {
			continue
		}
		anyInRange = true
		dist := pos.Dist(aimPoint)
		if dist > ability.HitRadius {
			continue
		}
		if best == nil || dist < bestDist {
			best = candidate
			bestDist = dist
			usedFallback = fallback
		}
	}
	if best == nil {
		if !anyInRange {
			return Event{}, RejectOutOfRange
		}
		return Event{}, RejectNoTarget
	}

	raw := RawDamage(ability.Ratio, att.AttackStat, ability.Slider, att.Level, ability.Base)
	mitigated := Mitigate(raw, r.cfg.MitigationK, best.Defense)
	final := Finalize(mitigated, r.cfg.ManualAimBonus, manualAim)
	if !finite(raw) || !finite(mitigated) || !finite(final) || final < 0 {
		return Event{}, RejectUnstableValue
	}

	return Event{
		AttackerID:     att.ID,
		TargetID:       best.ID,
		Ability:        ability.Name,
		RawDamage:      raw,
		Mitigated:      mitigated,
		FinalDamage:    final,
		ManualAim:      manualAim,
		RewindTime:     rewindTime,
		RewindOffset:   rewind,
		UsedCurrentPos: usedFallback,
	}, ""
}
