package simulation

import (
	"context"

	"moba-arena/logging"
)

const (
	TickBudgetEventType  logging.EventType = "simulation.tick_budget_exceeded"
	InputGapEventType    logging.EventType = "simulation.input_gap"
	ClientIdleEventType  logging.EventType = "simulation.client_idle_decay"
	EntityDespawnedEvent logging.EventType = "simulation.entity_despawned"
)

type TickBudgetPayload struct {
	DurationMillis float64 `json:"durationMillis"`
	BudgetMillis   float64 `json:"budgetMillis"`
}

// TickBudgetExceeded reports a tick that overran its fixed budget.
func TickBudgetExceeded(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     TickBudgetEventType,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// InputGap reports a missing sequence number that was bridged with neutral input.
func InputGap(ctx context.Context, pub logging.Publisher, tick uint64, client logging.EntityRef, missing uint32) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     InputGapEventType,
		Tick:     tick,
		Actor:    client,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  map[string]uint32{"missingSeq": missing},
	})
}

// ClientIdleDecay reports a client whose stale intent started decaying toward neutral.
func ClientIdleDecay(ctx context.Context, pub logging.Publisher, tick uint64, client logging.EntityRef, idleTicks int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ClientIdleEventType,
		Tick:     tick,
		Actor:    client,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  map[string]int{"idleTicks": idleTicks},
	})
}

// EntityDespawned reports an entity removed at a tick boundary.
func EntityDespawned(ctx context.Context, pub logging.Publisher, tick uint64, entity logging.EntityRef, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EntityDespawnedEvent,
		Tick:     tick,
		Actor:    entity,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  map[string]string{"reason": reason},
	})
}
