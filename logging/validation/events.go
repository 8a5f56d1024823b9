package validation

import (
	"context"

	"moba-arena/logging"
)

const (
	ViolationEventType logging.EventType = "validation.violation"
	FlaggedEventType   logging.EventType = "validation.client_flagged"
)

type ViolationPayload struct {
	Reason   string `json:"reason"`
	Seq      uint32 `json:"seq,omitempty"`
	Count    uint64 `json:"count"`
	Severity string `json:"severity"`
}

// Violation surfaces a rejected or clamped input packet.
func Violation(ctx context.Context, pub logging.Publisher, tick uint64, client logging.EntityRef, payload ViolationPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ViolationEventType,
		Tick:     tick,
		Actor:    client,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryValidation,
		Payload:  payload,
	})
}

// Flagged marks a client whose accumulated violations crossed the threshold.
// Acting on the flag is a moderation concern outside the simulation.
func Flagged(ctx context.Context, pub logging.Publisher, tick uint64, client logging.EntityRef, violations uint64) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     FlaggedEventType,
		Tick:     tick,
		Actor:    client,
		Severity: logging.SeverityError,
		Category: logging.CategoryValidation,
		Payload:  map[string]uint64{"violations": violations},
	})
}
