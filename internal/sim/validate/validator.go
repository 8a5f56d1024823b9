package validate

import (
	"sync"

	"moba-arena/internal/net/proto"
	"moba-arena/internal/sim/rules"
)

// Reason identifies why a packet was rejected or adjusted.
type Reason string

const (
	ReasonInvalidInput    Reason = "invalid_input"
	ReasonSpeedExceeded   Reason = "speed_exceeded"
	ReasonStaleTimestamp  Reason = "stale_timestamp"
	ReasonFutureTimestamp Reason = "future_timestamp"
	ReasonStaleSeq        Reason = "stale_seq"
	ReasonSeqJump         Reason = "seq_jump"
	ReasonRateLimited     Reason = "rate_limited"
)

// Config holds the validation tunables. MaxMoveMagnitude bounds the intent
// vector (1.0 means "full stick"), independent of the world-space speed the
// rule set derives from it.
type Config struct {
	MaxMoveMagnitude   float64
	ClampInsteadReject bool
	TimestampWindowSec float64
	MaxPacketsPerSec   int
	SeqBufferAhead     uint32
	ViolationThreshold uint64
}

// Verdict is the outcome of validating one packet. When Clamped is set the
// packet was accepted with Move rescaled to the configured bound.
type Verdict struct {
	Accepted   bool
	Move       rules.Vec3
	Reason     Reason
	Clamped    bool
	Violations uint64
	Flagged    bool
}

type clientRecord struct {
	lastAcceptedSeq uint32
	seqSeen         bool
	windowStart     float64
	windowCount     int
	violations      uint64
	flagged         bool
}

// Validator applies the anti-cheat and sanity checks to every incoming
// packet before it can touch authoritative state. It is called from session
// goroutines concurrently, hence the mutex; verdicts never block the tick.
type Validator struct {
	mu      sync.Mutex
	cfg     Config
	clients map[uint64]*clientRecord
}

func New(cfg Config) *Validator {
	if cfg.MaxMoveMagnitude <= 0 {
		cfg.MaxMoveMagnitude = 1.0
	}
	if cfg.TimestampWindowSec <= 0 {
		cfg.TimestampWindowSec = 2.0
	}
	return &Validator{
		cfg:     cfg,
		clients: make(map[uint64]*clientRecord),
	}
}

// Validate checks one decoded packet against the configured bounds. Checks
// run in a fixed order so a packet failing several only reports the first:
// finiteness, magnitude, timestamp plausibility, sequence monotonicity,
// rate ceiling.
func (v *Validator) Validate(pkt proto.InputPacket, serverNow float64) Verdict {
	if v == nil {
		return Verdict{Reason: ReasonInvalidInput}
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	rec := v.clients[pkt.ClientID]
	if rec == nil {
		rec = &clientRecord{}
		v.clients[pkt.ClientID] = rec
	}

	if !pkt.Move.Finite() || !pkt.Aim.Finite() {
		return v.violationLocked(rec, ReasonInvalidInput)
	}

	move := pkt.Move
	clamped := false
	if length := move.Len(); length > v.cfg.MaxMoveMagnitude {
		if !v.cfg.ClampInsteadReject {
			return v.violationLocked(rec, ReasonSpeedExceeded)
		}
		move = move.Scale(v.cfg.MaxMoveMagnitude / length)
		clamped = true
	}

	if pkt.Timestamp < serverNow-v.cfg.TimestampWindowSec {
		return v.violationLocked(rec, ReasonStaleTimestamp)
	}
	if pkt.Timestamp > serverNow+v.cfg.TimestampWindowSec {
		return v.violationLocked(rec, ReasonFutureTimestamp)
	}

	if rec.seqSeen {
		if pkt.Seq <= rec.lastAcceptedSeq {
			return v.violationLocked(rec, ReasonStaleSeq)
		}
		ahead := v.cfg.SeqBufferAhead
		if ahead > 0 && pkt.Seq > rec.lastAcceptedSeq+ahead {
			return v.violationLocked(rec, ReasonSeqJump)
		}
	}

	if v.cfg.MaxPacketsPerSec > 0 {
		if serverNow-rec.windowStart >= 1.0 {
			rec.windowStart = serverNow
			rec.windowCount = 0
		}
		rec.windowCount++
		if rec.windowCount > v.cfg.MaxPacketsPerSec {
			return v.violationLocked(rec, ReasonRateLimited)
		}
	}

	rec.lastAcceptedSeq = pkt.Seq
	rec.seqSeen = true
	if clamped {
		// Clamping is the accept-with-adjustment policy; it still counts
		// toward the violation budget.
		verdict := v.violationLocked(rec, ReasonSpeedExceeded)
		verdict.Accepted = true
		verdict.Move = move
		verdict.Clamped = true
		return verdict
	}
	return Verdict{Accepted: true, Move: move}
}

// Forget discards the per-client record on disconnect so a reconnecting
// session starts a fresh sequence space.
func (v *Validator) Forget(clientID uint64) {
	if v == nil {
		return
	}
	v.mu.Lock()
	delete(v.clients, clientID)
	v.mu.Unlock()
}

// Violations reports the accumulated violation count for a client.
func (v *Validator) Violations(clientID uint64) uint64 {
	if v == nil {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if rec := v.clients[clientID]; rec != nil {
		return rec.violations
	}
	return 0
}

func (v *Validator) violationLocked(rec *clientRecord, reason Reason) Verdict {
	rec.violations++
	flagged := false
	if !rec.flagged && v.cfg.ViolationThreshold > 0 && rec.violations >= v.cfg.ViolationThreshold {
		rec.flagged = true
		flagged = true
	}
	return Verdict{
		Reason:     reason,
		Violations: rec.violations,
		Flagged:    flagged,
	}
}
