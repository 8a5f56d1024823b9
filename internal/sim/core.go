package sim

import (
	"context"
	"sort"
	"strconv"
	"time"

	"moba-arena/internal/sim/combat"
	"moba-arena/internal/sim/history"
	"moba-arena/internal/sim/rules"
	"moba-arena/logging"
	logcombat "moba-arena/logging/combat"
	logsim "moba-arena/logging/simulation"
)

// Stats are the combat attributes attached to every spawned entity. The RSB
// coefficients themselves live on the ability definitions.
type Stats struct {
	Attack    float64
	Defense   float64
	MaxHealth float64
	Level     int
}

// CoreConfig fixes the engine behavior at construction time.
type CoreConfig struct {
	TickInterval     float64
	Params           rules.Params
	IdleDecayTicks   int
	DecayFactor      float64
	MaxInputsPerTick int
	HistoryRetention float64
	Combat           combat.Config
	Abilities        map[string]combat.Ability
	PrimaryAbility   string
	SecondaryAbility string
	BaseStats        Stats
}

// maxPendingInputs bounds the per-client reorder buffer. Packets beyond it
// are dropped at staging; the validator's rate ceiling keeps honest clients
// far below this.
const maxPendingInputs = 32

type clientStream struct {
	entityID uint64
	name     string

	pending   map[uint32]InputCommand
	expected  uint32
	seqSeen   bool
	gapWaited bool

	lastInput        rules.Input
	lastProcessedSeq uint32
	idleTicks        int
	decayLogged      bool

	rtt     time.Duration
	rttSeen bool
}

// Core owns all authoritative entity state. Every mutation happens inside
// Step, on the single goroutine driving the tick loop; concurrency safety
// comes from that serialization, not from locks.
type Core struct {
	deps Deps
	cfg  CoreConfig

	entities map[uint64]*rules.EntityState
	stats    map[uint64]Stats
	streams  map[uint64]*clientStream
	order    []uint64

	hist     *history.Buffer
	resolver *combat.Resolver

	tick uint64
	now  float64

	staged          []Command
	combatEvents    []combat.Event
	removedClients  []uint64
	pendingDespawns []uint64
}

func NewCore(cfg CoreConfig, deps Deps) *Core {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 1.0 / 50
	}
	if cfg.MaxInputsPerTick <= 0 {
		cfg.MaxInputsPerTick = 4
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.8
	}
	hist := history.NewBuffer(cfg.HistoryRetention)
	return &Core{
		deps:     deps,
		cfg:      cfg,
		entities: make(map[uint64]*rules.EntityState),
		stats:    make(map[uint64]Stats),
		streams:  make(map[uint64]*clientStream),
		hist:     hist,
		resolver: combat.NewResolver(cfg.Combat, hist),
	}
}

// Deps returns the injected dependencies.
func (c *Core) Deps() Deps {
	if c == nil {
		return Deps{}
	}
	return c.deps
}

// Tick reports the last completed tick.
func (c *Core) Tick() uint64 {
	if c == nil {
		return 0
	}
	return c.tick
}

// Now reports the simulation clock in seconds (tick * interval).
func (c *Core) Now() float64 {
	if c == nil {
		return 0
	}
	return c.now
}

// History exposes the state history buffer for same-tick readers.
func (c *Core) History() *history.Buffer {
	if c == nil {
		return nil
	}
	return c.hist
}

// Apply stages commands for the next Step. Commands are not executed here:
// spawns, despawns, and inputs all take effect at the tick boundary.
func (c *Core) Apply(cmds []Command) error {
	if c == nil {
		return nil
	}
	c.staged = append(c.staged, cmds...)
	return nil
}

// Step advances the simulation by exactly one tick.
func (c *Core) Step() {
	if c == nil {
		return
	}
	c.tick++
	c.now = float64(c.tick) * c.cfg.TickInterval

	c.processDespawns()
	c.stageCommands()
	c.advanceClients()
	c.recordHistory()
	c.hist.Prune(c.now)
}

func (c *Core) processDespawns() {
	ctx := context.Background()
	for _, clientID := range c.pendingDespawns {
		stream, ok := c.streams[clientID]
		if !ok {
			continue
		}
		entityID := stream.entityID
		delete(c.streams, clientID)
		delete(c.entities, entityID)
		delete(c.stats, entityID)
		c.hist.Drop(entityID)
		c.removeFromOrder(clientID)
		c.removedClients = append(c.removedClients, clientID)
		logsim.EntityDespawned(ctx, c.deps.publisher(), c.tick,
			logging.EntityRef{ID: formatID(entityID), Kind: logging.EntityKindPlayer}, "disconnect")
	}
	c.pendingDespawns = c.pendingDespawns[:0]
}

func (c *Core) stageCommands() {
	for _, cmd := range c.staged {
		switch cmd.Type {
		case CommandSpawn:
			c.spawn(cmd)
		case CommandDespawn:
			c.pendingDespawns = append(c.pendingDespawns, cmd.ClientID)
		case CommandHeartbeat:
			if stream := c.streams[cmd.ClientID]; stream != nil && cmd.Heartbeat != nil {
				sample := cmd.Heartbeat.RTT
				if !stream.rttSeen {
					stream.rtt = sample
					stream.rttSeen = true
				} else {
					// SRTT-style blend; a single jittery sample must not
					// swing the combat rewind.
					stream.rtt += (sample - stream.rtt) / 8
				}
			}
		case CommandInput:
			if stream := c.streams[cmd.ClientID]; stream != nil && cmd.Input != nil {
				c.stageInput(stream, *cmd.Input)
			}
		}
	}
	c.staged = c.staged[:0]
}

func (c *Core) stageInput(stream *clientStream, in InputCommand) {
	if stream.seqSeen && in.Seq < stream.expected {
		return
	}
	if len(stream.pending) >= maxPendingInputs {
		return
	}
	stream.pending[in.Seq] = in
	if !stream.seqSeen {
		stream.expected = in.Seq
		stream.seqSeen = true
	}
}

func (c *Core) spawn(cmd Command) {
	clientID := cmd.ClientID
	if _, exists := c.streams[clientID]; exists {
		return
	}
	name := ""
	if cmd.Spawn != nil {
		name = cmd.Spawn.Name
	}
	entityID := clientID
	base := c.cfg.BaseStats
	c.entities[entityID] = &rules.EntityState{
		ID:        entityID,
		Health:    base.MaxHealth,
		MaxHealth: base.MaxHealth,
		Tag:       rules.TagIdle,
	}
	c.stats[entityID] = base
	c.streams[clientID] = &clientStream{
		entityID: entityID,
		name:     name,
		pending:  make(map[uint32]InputCommand),
	}
	c.order = append(c.order, clientID)
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
}

// advanceClients drains each client's pending inputs in strict sequence
// order. Iteration order over clients is sorted so a given command set
// always produces the same state.
func (c *Core) advanceClients() {
	ctx := context.Background()
	for _, clientID := range c.order {
		stream := c.streams[clientID]
		entity := c.entities[stream.entityID]
		if entity == nil {
			continue
		}

		steps := 0
		appliedPacket := false
		for steps < c.cfg.MaxInputsPerTick {
			in, ok := stream.pending[stream.expected]
			if ok {
				// At most one client packet is applied per tick; the rest
				// stay queued. Simulated time advances at the tick rate no
				// matter how fast a client sends.
				if appliedPacket {
					break
				}
				delete(stream.pending, stream.expected)
				c.applyInput(stream, entity, in.Input)
				stream.lastInput = in.Input
				stream.lastProcessedSeq = in.Seq
				stream.expected++
				stream.gapWaited = false
				stream.idleTicks = 0
				stream.decayLogged = false
				appliedPacket = true
				steps++
				continue
			}
			if len(stream.pending) > 0 {
				// A later sequence is waiting behind a hole. Hold one tick
				// for the straggler, then bridge the hole with neutral
				// input so the whole stream does not stall.
				if !stream.gapWaited {
					stream.gapWaited = true
					break
				}
				missing := stream.expected
				c.applyInput(stream, entity, rules.Neutral())
				stream.lastInput = rules.Neutral()
				stream.lastProcessedSeq = missing
				stream.expected++
				stream.gapWaited = false
				steps++
				logsim.InputGap(ctx, c.deps.publisher(), c.tick,
					logging.EntityRef{ID: formatID(clientID), Kind: logging.EntityKindClient}, missing)
				continue
			}
			break
		}

		if steps == 0 {
			// No input this tick: repeat the last intent, decaying toward
			// neutral once the client has been silent long enough.
			stream.idleTicks++
			if stream.idleTicks > c.cfg.IdleDecayTicks {
				stream.lastInput = rules.DecayToward(stream.lastInput, c.cfg.DecayFactor)
				if !stream.decayLogged {
					stream.decayLogged = true
					logsim.ClientIdleDecay(ctx, c.deps.publisher(), c.tick,
						logging.EntityRef{ID: formatID(clientID), Kind: logging.EntityKindClient}, stream.idleTicks)
				}
			}
			*entity = rules.Step(*entity, stream.lastInput, c.cfg.TickInterval, c.cfg.Params)
		}
	}
}

func (c *Core) applyInput(stream *clientStream, entity *rules.EntityState, in rules.Input) {
	*entity = rules.Step(*entity, in, c.cfg.TickInterval, c.cfg.Params)
	if in.Flags&rules.FlagAbilityPrimary != 0 {
		c.resolveCast(stream, entity, c.cfg.PrimaryAbility, in)
	}
	if in.Flags&rules.FlagAbilitySecondary != 0 {
		c.resolveCast(stream, entity, c.cfg.SecondaryAbility, in)
	}
}

func (c *Core) resolveCast(stream *clientStream, attacker *rules.EntityState, abilityName string, in rules.Input) {
	ability, ok := c.cfg.Abilities[abilityName]
	if !ok {
		return
	}
	ctx := context.Background()
	attackerRef := logging.EntityRef{ID: formatID(attacker.ID), Kind: logging.EntityKindPlayer}

	// Candidates follow client order so equal-distance tie-breaks are
	// reproducible across runs.
	stats := c.stats[attacker.ID]
	candidates := make([]combat.Target, 0, len(c.order))
	for _, id := range c.order {
		entity := c.entities[id]
		if entity == nil || id == attacker.ID || entity.Tag == rules.TagDead {
			continue
		}
		candidates = append(candidates, combat.Target{
			ID:      id,
			Pos:     entity.Pos,
			Defense: c.stats[id].Defense,
		})
	}

	latency := stream.rtt.Seconds() / 2
	manualAim := in.Flags&rules.FlagManualAim != 0
	event, reject := c.resolver.Resolve(combat.Attacker{
		ID:         attacker.ID,
		Pos:        attacker.Pos,
		AttackStat: stats.Attack,
		Level:      stats.Level,
	}, candidates, ability, in.Aim, manualAim, c.now, latency)
	if reject != "" {
		if reject == combat.RejectUnstableValue || reject == combat.RejectNonFiniteAim {
			logcombat.HitRejected(ctx, c.deps.publisher(), c.tick, attackerRef, string(reject))
		}
		return
	}

	target := c.entities[event.TargetID]
	if target == nil {
		return
	}
	health := target.Health - event.FinalDamage
	if health < 0 {
		health = 0
	}
	if health > target.MaxHealth {
		health = target.MaxHealth
	}
	target.Health = health
	if target.Health == 0 {
		target.Tag = rules.TagDead
	}

	c.combatEvents = append(c.combatEvents, event)
	logcombat.HitResolved(ctx, c.deps.publisher(), c.tick, attackerRef,
		logging.EntityRef{ID: formatID(event.TargetID), Kind: logging.EntityKindPlayer},
		logcombat.HitResolvedPayload{
			Ability:      event.Ability,
			RawDamage:    event.RawDamage,
			Mitigated:    event.Mitigated,
			ManualAim:    event.ManualAim,
			RewindOffset: event.RewindOffset,
		})
}

func (c *Core) recordHistory() {
	for id, entity := range c.entities {
		c.hist.Record(id, entity.Pos, entity.Yaw, c.now)
	}
}

// Snapshot copies the authoritative state for broadcast and reconciliation.
func (c *Core) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Tick:       c.tick,
		ServerTime: c.now,
		Entities:   make([]EntityView, 0, len(c.entities)),
	}
	for _, clientID := range c.order {
		stream := c.streams[clientID]
		entity := c.entities[stream.entityID]
		if entity == nil {
			continue
		}
		snap.Entities = append(snap.Entities, EntityView{
			State:            *entity,
			OwnerClient:      clientID,
			LastProcessedSeq: stream.lastProcessedSeq,
		})
	}
	return snap
}

// DrainCombatEvents returns the events resolved since the previous drain.
func (c *Core) DrainCombatEvents() []combat.Event {
	if c == nil || len(c.combatEvents) == 0 {
		return nil
	}
	events := c.combatEvents
	c.combatEvents = nil
	return events
}

// RemovedClients returns and clears the clients despawned since the last call.
func (c *Core) RemovedClients() []uint64 {
	if c == nil || len(c.removedClients) == 0 {
		return nil
	}
	removed := c.removedClients
	c.removedClients = nil
	return removed
}

// HasClient reports whether the engine currently simulates the client.
// Only safe to call from the tick goroutine or before the loop starts.
func (c *Core) HasClient(clientID uint64) bool {
	if c == nil {
		return false
	}
	_, ok := c.streams[clientID]
	return ok
}

func (c *Core) removeFromOrder(clientID uint64) {
	for i, id := range c.order {
		if id == clientID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
