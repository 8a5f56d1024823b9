package sim

import (
	"moba-arena/internal/telemetry"
	"moba-arena/logging"
)

// Deps carries shared infrastructure dependencies required by the engine.
// Components receive these at construction time; nothing reaches for a
// process-wide singleton.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Clock     logging.Clock
	Publisher logging.Publisher
}

func (d Deps) publisher() logging.Publisher {
	if d.Publisher == nil {
		return logging.NopPublisher()
	}
	return d.Publisher
}
