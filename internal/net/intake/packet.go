package intake

import (
	"context"
	"strconv"
	"time"

	"moba-arena/internal/net/proto"
	"moba-arena/internal/sim"
	"moba-arena/internal/sim/rules"
	"moba-arena/internal/sim/validate"
	"moba-arena/logging"
	"moba-arena/logging/validation"
)

// Reject reasons reported back to sessions alongside the queue-level ones
// defined by the simulation package.
const (
	RejectMalformedPacket = "malformed_packet"
	RejectWrongClient     = "wrong_client"
	RejectUnknownClient   = "unknown_client"
)

// Enqueuer is the slice of the engine loop intake needs.
type Enqueuer interface {
	Enqueue(sim.Command) (bool, string)
}

// Context carries the collaborators needed to stage a client packet into the
// simulation. All fields are optional except Engine; nil fields disable the
// corresponding step.
type Context struct {
	Engine    Enqueuer
	Validator *validate.Validator
	HasClient func(uint64) bool
	Tick      func() uint64
	Now       func() time.Time
	ServerNow func() float64
	Publisher logging.Publisher

	// OnViolation runs for every rejected or clamped packet, after the
	// event is published. Hubs use it to journal the violation.
	OnViolation func(clientID uint64, reason string, seq uint32, total uint64)
}

// StageInputFrame decodes a binary input frame from clientID's session,
// validates it, and enqueues the resulting command. The returned reason is
// empty on success; a clamped packet is still staged.
func StageInputFrame(ctx Context, clientID uint64, frame []byte) (sim.Command, bool, string) {
	var zero sim.Command

	pkt, err := proto.DecodeInputPacket(frame)
	if err != nil {
		return zero, false, RejectMalformedPacket
	}
	// The session already authenticated clientID; a mismatched packet body
	// is either a bug or a spoof attempt, never something to honor.
	if pkt.ClientID != clientID {
		reportViolation(ctx, clientID, RejectWrongClient, pkt.Seq, 0, false)
		return zero, false, RejectWrongClient
	}
	if ctx.HasClient != nil && !ctx.HasClient(clientID) {
		return zero, false, RejectUnknownClient
	}

	clamped := false
	move := pkt.Move
	if ctx.Validator != nil {
		serverNow := 0.0
		if ctx.ServerNow != nil {
			serverNow = ctx.ServerNow()
		}
		verdict := ctx.Validator.Validate(pkt, serverNow)
		if !verdict.Accepted {
			reportViolation(ctx, clientID, string(verdict.Reason), pkt.Seq, verdict.Violations, verdict.Flagged)
			return zero, false, string(verdict.Reason)
		}
		if verdict.Clamped {
			reportViolation(ctx, clientID, string(verdict.Reason), pkt.Seq, verdict.Violations, verdict.Flagged)
			move = verdict.Move
			clamped = true
		}
	}

	cmd := sim.Command{
		ClientID: clientID,
		Type:     sim.CommandInput,
		Input: &sim.InputCommand{
			Seq:        pkt.Seq,
			ClientTime: pkt.Timestamp,
			Clamped:    clamped,
			Input:      rules.Input{Move: move, Flags: pkt.Flags, Aim: pkt.Aim},
		},
	}
	if ctx.Tick != nil {
		cmd.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		cmd.IssuedAt = ctx.Now()
	} else {
		cmd.IssuedAt = time.Now()
	}

	if ctx.Engine == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Engine.Enqueue(cmd); !ok {
		return zero, false, reason
	}
	return cmd, true, ""
}

// StageHeartbeat enqueues an RTT update for the client.
func StageHeartbeat(ctx Context, clientID uint64, clientSent int64, rtt time.Duration) (sim.Command, bool, string) {
	var zero sim.Command
	if ctx.HasClient != nil && !ctx.HasClient(clientID) {
		return zero, false, RejectUnknownClient
	}

	now := time.Now()
	if ctx.Now != nil {
		now = ctx.Now()
	}
	cmd := sim.Command{
		ClientID: clientID,
		Type:     sim.CommandHeartbeat,
		IssuedAt: now,
		Heartbeat: &sim.HeartbeatCommand{
			ReceivedAt: now,
			ClientSent: clientSent,
			RTT:        rtt,
		},
	}
	if ctx.Tick != nil {
		cmd.OriginTick = ctx.Tick()
	}

	if ctx.Engine == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Engine.Enqueue(cmd); !ok {
		return zero, false, reason
	}
	return cmd, true, ""
}

func reportViolation(ctx Context, clientID uint64, reason string, seq uint32, total uint64, flagged bool) {
	tick := uint64(0)
	if ctx.Tick != nil {
		tick = ctx.Tick()
	}
	actor := logging.EntityRef{ID: strconv.FormatUint(clientID, 10), Kind: logging.EntityKindClient}
	validation.Violation(context.Background(), ctx.Publisher, tick, actor, validation.ViolationPayload{
		Reason:   reason,
		Seq:      seq,
		Count:    total,
		Severity: logging.SeverityWarn.String(),
	})
	if flagged {
		validation.Flagged(context.Background(), ctx.Publisher, tick, actor, total)
	}
	if ctx.OnViolation != nil {
		ctx.OnViolation(clientID, reason, seq, total)
	}
}
