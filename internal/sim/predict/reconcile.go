package predict

import (
	"moba-arena/internal/sim/rules"
	"moba-arena/internal/telemetry"
)

// Predictor applies local inputs immediately so the player never waits on
// the server round trip. It runs the identical rule set as the authoritative
// engine; any divergence is the reconciler's problem, not a gameplay rule.
type Predictor struct {
	buffer Buffer
	state  rules.EntityState
	params rules.Params
	dt     float64
}

func NewPredictor(initial rules.EntityState, params rules.Params, tickInterval float64) *Predictor {
	return &Predictor{
		state:  initial,
		params: params,
		dt:     tickInterval,
	}
}

// Apply advances the predicted state with one input and records the outcome
// for later reconciliation.
func (p *Predictor) Apply(seq uint32, in rules.Input) rules.EntityState {
	if p == nil {
		return rules.EntityState{}
	}
	p.state = rules.Step(p.state, in, p.dt, p.params)
	p.buffer.Store(seq, in, p.state)
	return p.state
}

// State returns the current predicted state for rendering.
func (p *Predictor) State() rules.EntityState {
	if p == nil {
		return rules.EntityState{}
	}
	return p.state
}

// NextSeq returns the sequence number for the next outgoing packet.
func (p *Predictor) NextSeq() uint32 {
	if p == nil {
		return 0
	}
	return p.buffer.NextSeq()
}

// Reconciler folds authoritative snapshots back into the predicted state.
type Reconciler struct {
	predictor *Predictor
	threshold float64
	logger    telemetry.Logger

	divergences uint64
	replays     uint64
}

// NewReconciler wraps a predictor. The threshold absorbs harmless
// floating-point drift; only corrections beyond it trigger a snap-and-replay.
func NewReconciler(p *Predictor, threshold float64, logger telemetry.Logger) *Reconciler {
	if threshold <= 0 {
		threshold = 0.01
	}
	return &Reconciler{predictor: p, threshold: threshold, logger: logger}
}

// Divergences reports how many snapshots required a correction.
func (r *Reconciler) Divergences() uint64 {
	if r == nil {
		return 0
	}
	return r.divergences
}

// OnSnapshot compares the authoritative state against the local prediction
// for the same processed sequence. Within threshold, only the
// non-positional authoritative fields (health) are adopted. Beyond it, the
// local entity snaps to the server state and every unacknowledged input is
// replayed in order through the shared rule set. Replaying the same inputs
// from the same base always lands on the same state, so a duplicated
// snapshot is harmless.
func (r *Reconciler) OnSnapshot(authoritative rules.EntityState, lastProcessedSeq uint32) rules.EntityState {
	if r == nil || r.predictor == nil {
		return authoritative
	}
	p := r.predictor

	record, ok := p.buffer.Get(lastProcessedSeq)
	if ok && record.Predicted.Pos.Dist(authoritative.Pos) <= r.threshold {
		p.state.Health = authoritative.Health
		p.state.MaxHealth = authoritative.MaxHealth
		if authoritative.Tag == rules.TagDead {
			p.state = authoritative
		}
		return p.state
	}

	r.divergences++
	r.logDivergence(authoritative, record, ok)

	p.state = authoritative
	for _, pending := range p.buffer.Unacknowledged(lastProcessedSeq) {
		p.state = rules.Step(p.state, pending.Input, p.dt, p.params)
		p.buffer.Store(pending.Seq, pending.Input, p.state)
		r.replays++
	}
	return p.state
}

// logDivergence reports corrections at a power-of-two cadence so sustained
// packet loss cannot flood the log.
func (r *Reconciler) logDivergence(authoritative rules.EntityState, record Record, had bool) {
	if r.logger == nil {
		return
	}
	count := r.divergences
	if count&(count-1) != 0 {
		return
	}
	if had {
		r.logger.Printf("[reconcile] divergence #%d seq=%d error=%.4f",
			count, record.Seq, record.Predicted.Pos.Dist(authoritative.Pos))
		return
	}
	r.logger.Printf("[reconcile] divergence #%d (no local record)", count)
}
