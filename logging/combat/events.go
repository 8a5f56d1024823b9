package combat

import (
	"context"

	"moba-arena/logging"
)

const (
	HitResolvedEventType logging.EventType = "combat.hit_resolved"
	HitRejectedEventType logging.EventType = "combat.hit_rejected"
)

type HitResolvedPayload struct {
	Ability      string  `json:"ability"`
	RawDamage    float64 `json:"rawDamage"`
	Mitigated    float64 `json:"mitigated"`
	ManualAim    bool    `json:"manualAim"`
	RewindOffset float64 `json:"rewindOffset"`
}

// HitResolved records a lag-compensated hit that was applied to the target.
func HitResolved(ctx context.Context, pub logging.Publisher, tick uint64, attacker, target logging.EntityRef, payload HitResolvedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     HitResolvedEventType,
		Tick:     tick,
		Actor:    attacker,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

// HitRejected records an attack outcome that was discarded before application.
func HitRejected(ctx context.Context, pub logging.Publisher, tick uint64, attacker logging.EntityRef, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     HitRejectedEventType,
		Tick:     tick,
		Actor:    attacker,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryCombat,
		Payload:  map[string]string{"reason": reason},
	})
}
