package sim

import (
	"math"
	"testing"
	"time"

	"moba-arena/internal/sim/combat"
	"moba-arena/internal/sim/rules"
)

func testCoreConfig() CoreConfig {
	return CoreConfig{
		TickInterval: 1.0 / 50,
		Params: rules.Params{
			MaxSpeed:   6.0,
			ArenaWidth: 200,
			ArenaDepth: 200,
			JumpSpeed:  7.5,
			Gravity:    20.0,
		},
		IdleDecayTicks:   10,
		DecayFactor:      0.8,
		MaxInputsPerTick: 4,
		HistoryRetention: 1.0,
		Combat: combat.Config{
			MitigationK:    600,
			ManualAimBonus: 1.20,
			MaxRewindSec:   0.5,
		},
		Abilities: map[string]combat.Ability{
			"basic": {Name: "basic", Ratio: 1.0, Slider: 20, Base: 80, Range: 12, HitRadius: 1.5},
		},
		PrimaryAbility:   "basic",
		SecondaryAbility: "burst",
		BaseStats:        Stats{Attack: 100, Defense: 100, MaxHealth: 1000, Level: 1},
	}
}

func spawnClient(t *testing.T, core *Core, clientID uint64) {
	t.Helper()
	core.Apply([]Command{{ClientID: clientID, Type: CommandSpawn, Spawn: &SpawnCommand{Name: "p"}}})
	core.Step()
	if !core.HasClient(clientID) {
		t.Fatalf("expected client %d simulated after spawn", clientID)
	}
}

func inputCommand(clientID uint64, seq uint32, in rules.Input) Command {
	return Command{ClientID: clientID, Type: CommandInput, Input: &InputCommand{Seq: seq, Input: in}}
}

func entityFor(t *testing.T, core *Core, clientID uint64) EntityView {
	t.Helper()
	for _, view := range core.Snapshot().Entities {
		if view.OwnerClient == clientID {
			return view
		}
	}
	t.Fatalf("no entity for client %d", clientID)
	return EntityView{}
}

func TestSpawnAndSnapshot(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)

	view := entityFor(t, core, 1)
	if view.State.Health != 1000 || view.State.MaxHealth != 1000 {
		t.Fatalf("expected full health on spawn, got %+v", view.State)
	}
	if view.State.Tag != rules.TagIdle {
		t.Fatalf("expected idle spawn, got %q", view.State.Tag)
	}
}

func TestSequencedInputsAdvanceEntity(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)

	for seq := uint32(1); seq <= 10; seq++ {
		core.Apply([]Command{inputCommand(1, seq, rules.Input{Move: rules.Vec3{X: 1}})})
		core.Step()
	}

	view := entityFor(t, core, 1)
	want := 10 * (1.0 / 50) * 6.0
	if math.Abs(view.State.Pos.X-want) > 1e-9 {
		t.Fatalf("expected x=%v after 10 inputs, got %v", want, view.State.Pos.X)
	}
	if view.LastProcessedSeq != 10 {
		t.Fatalf("expected last processed seq 10, got %d", view.LastProcessedSeq)
	}
}

func TestInputGapBridgedWithNeutral(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)

	core.Apply([]Command{inputCommand(1, 1, rules.Input{Move: rules.Vec3{X: 1}})})
	core.Step()
	if got := entityFor(t, core, 1).LastProcessedSeq; got != 1 {
		t.Fatalf("expected seq 1 processed, got %d", got)
	}

	// Seq 2 is lost; seq 3 arrives. The engine holds one tick for the
	// straggler, then bridges the hole and resumes.
	core.Apply([]Command{inputCommand(1, 3, rules.Input{Move: rules.Vec3{X: 1}})})
	core.Step()
	if got := entityFor(t, core, 1).LastProcessedSeq; got != 1 {
		t.Fatalf("expected engine to wait one tick, got seq %d", got)
	}

	core.Step()
	if got := entityFor(t, core, 1).LastProcessedSeq; got != 3 {
		t.Fatalf("expected gap bridged through seq 3, got %d", got)
	}

	// Subsequent sequences continue without desync.
	core.Apply([]Command{inputCommand(1, 4, rules.Input{})})
	core.Step()
	if got := entityFor(t, core, 1).LastProcessedSeq; got != 4 {
		t.Fatalf("expected seq 4 processed, got %d", got)
	}
}

func TestOverRateInputsDoNotGainSpeed(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)

	// A client flooding two sequenced packets per tick must not move twice
	// as fast; the surplus stays queued and plays out at the tick rate.
	seq := uint32(0)
	for tick := 0; tick < 10; tick++ {
		seq++
		first := inputCommand(1, seq, rules.Input{Move: rules.Vec3{X: 1}})
		seq++
		second := inputCommand(1, seq, rules.Input{Move: rules.Vec3{X: 1}})
		core.Apply([]Command{first, second})
		core.Step()
	}

	view := entityFor(t, core, 1)
	want := 10 * (1.0 / 50) * 6.0
	if math.Abs(view.State.Pos.X-want) > 1e-9 {
		t.Fatalf("expected x=%v after 10 ticks of flooding, got %v", want, view.State.Pos.X)
	}
	if view.LastProcessedSeq != 10 {
		t.Fatalf("expected one packet applied per tick, got seq %d", view.LastProcessedSeq)
	}

	// The queued surplus drains one per tick once the flood stops.
	for tick := 0; tick < 10; tick++ {
		core.Step()
	}
	if got := entityFor(t, core, 1).LastProcessedSeq; got != 20 {
		t.Fatalf("expected backlog drained through seq 20, got %d", got)
	}
}

func TestInputBacklogBounded(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)

	// Dump far more packets than the reorder buffer holds in one go; the
	// overflow is dropped at staging rather than held forever.
	burst := make([]Command, 0, 100)
	for seq := uint32(1); seq <= 100; seq++ {
		burst = append(burst, inputCommand(1, seq, rules.Input{Move: rules.Vec3{X: 1}}))
	}
	core.Apply(burst)
	for tick := 0; tick < 2*maxPendingInputs; tick++ {
		core.Step()
	}

	view := entityFor(t, core, 1)
	if view.LastProcessedSeq != maxPendingInputs {
		t.Fatalf("expected backlog capped at %d packets, got seq %d", maxPendingInputs, view.LastProcessedSeq)
	}
}

func TestStaleSequenceIgnored(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)

	core.Apply([]Command{inputCommand(1, 5, rules.Input{})})
	core.Step()
	core.Apply([]Command{inputCommand(1, 4, rules.Input{Move: rules.Vec3{X: 1}})})
	core.Step()

	view := entityFor(t, core, 1)
	if view.LastProcessedSeq != 5 {
		t.Fatalf("expected stale seq dropped, got %d", view.LastProcessedSeq)
	}
}

func TestIdleClientDecaysTowardNeutral(t *testing.T) {
	cfg := testCoreConfig()
	cfg.IdleDecayTicks = 2
	core := NewCore(cfg, Deps{})
	spawnClient(t, core, 1)

	core.Apply([]Command{inputCommand(1, 1, rules.Input{Move: rules.Vec3{X: 1}})})
	core.Step()

	// With no further packets the last intent is repeated, then decays.
	for i := 0; i < 60; i++ {
		core.Step()
	}
	view := entityFor(t, core, 1)
	if view.State.Vel.X != 0 {
		t.Fatalf("expected idle decay to stop the entity, got vx=%v", view.State.Vel.X)
	}
	if view.State.Tag != rules.TagIdle {
		t.Fatalf("expected idle tag after decay, got %q", view.State.Tag)
	}
}

func TestAbilityCastDamagesTarget(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)
	spawnClient(t, core, 2)

	// Both entities spawn at the origin; a zero-length aim lands on the
	// target standing there.
	core.Apply([]Command{inputCommand(1, 1, rules.Input{Flags: rules.FlagAbilityPrimary})})
	core.Step()

	events := core.DrainCombatEvents()
	if len(events) != 1 {
		t.Fatalf("expected one combat event, got %d", len(events))
	}
	event := events[0]
	if event.AttackerID != 1 || event.TargetID != 2 {
		t.Fatalf("unexpected participants: %+v", event)
	}
	if event.RawDamage != 180 {
		t.Fatalf("expected raw 180, got %v", event.RawDamage)
	}
	if event.Mitigated != 154 {
		t.Fatalf("expected mitigated 154, got %v", event.Mitigated)
	}

	target := entityFor(t, core, 2)
	if target.State.Health != 1000-154 {
		t.Fatalf("expected health 846, got %v", target.State.Health)
	}

	// Events drain once.
	if again := core.DrainCombatEvents(); again != nil {
		t.Fatalf("expected drained events cleared, got %d", len(again))
	}
}

func TestKillSetsDeadTagAndStopsTargeting(t *testing.T) {
	cfg := testCoreConfig()
	cfg.BaseStats.MaxHealth = 200
	core := NewCore(cfg, Deps{})
	spawnClient(t, core, 1)
	spawnClient(t, core, 2)

	// 154 damage per cast; the second cast overkills and clamps at zero.
	for seq := uint32(1); seq <= 2; seq++ {
		core.Apply([]Command{inputCommand(1, seq, rules.Input{Flags: rules.FlagAbilityPrimary})})
		core.Step()
	}

	target := entityFor(t, core, 2)
	if target.State.Health != 0 {
		t.Fatalf("expected health clamped to zero, got %v", target.State.Health)
	}
	if target.State.Tag != rules.TagDead {
		t.Fatalf("expected dead tag, got %q", target.State.Tag)
	}

	// A dead entity is no longer a candidate.
	core.Apply([]Command{inputCommand(1, 3, rules.Input{Flags: rules.FlagAbilityPrimary})})
	core.Step()
	if events := core.DrainCombatEvents(); len(events) != 2 {
		t.Fatalf("expected no event against dead target, got %d total", len(events))
	}
}

func TestDespawnRemovesClientAtTickBoundary(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)

	core.Apply([]Command{{ClientID: 1, Type: CommandDespawn}})
	core.Step()
	// Despawns staged this tick take effect at the next boundary.
	core.Step()

	if core.HasClient(1) {
		t.Fatalf("expected client removed")
	}
	removed := core.RemovedClients()
	if len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("expected removal reported once, got %v", removed)
	}
	if again := core.RemovedClients(); again != nil {
		t.Fatalf("expected removals cleared after drain")
	}
	if len(core.Snapshot().Entities) != 0 {
		t.Fatalf("expected empty snapshot after despawn")
	}
}

func TestEquidistantTargetsResolveDeterministically(t *testing.T) {
	// Two targets at identical distance from the attacker; the winner must
	// be the same on every run, not whichever map iteration found first.
	for trial := 0; trial < 8; trial++ {
		core := NewCore(testCoreConfig(), Deps{})
		spawnClient(t, core, 1)
		spawnClient(t, core, 3)
		spawnClient(t, core, 2)

		core.Apply([]Command{inputCommand(1, 1, rules.Input{Flags: rules.FlagAbilityPrimary})})
		core.Step()

		events := core.DrainCombatEvents()
		if len(events) != 1 {
			t.Fatalf("trial %d: expected one combat event, got %d", trial, len(events))
		}
		if events[0].TargetID != 3 {
			t.Fatalf("trial %d: expected earliest-joined target 3, got %d", trial, events[0].TargetID)
		}
	}
}

func TestHeartbeatSamplesAreSmoothed(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)
	spawnClient(t, core, 2)

	for seq := uint32(1); seq <= 10; seq++ {
		core.Apply([]Command{inputCommand(2, seq, rules.Input{Move: rules.Vec3{X: 1}})})
		core.Step()
	}

	// A clean 100ms baseline followed by one 300ms spike. The spike moves
	// the estimate an eighth of the way, to 125ms, so the combat rewind is
	// 62.5ms rather than 150ms.
	core.Apply([]Command{{
		ClientID:  1,
		Type:      CommandHeartbeat,
		Heartbeat: &HeartbeatCommand{RTT: 100 * time.Millisecond},
	}})
	core.Step()
	core.Apply([]Command{{
		ClientID:  1,
		Type:      CommandHeartbeat,
		Heartbeat: &HeartbeatCommand{RTT: 300 * time.Millisecond},
	}})
	core.Step()

	current := entityFor(t, core, 2).State.Pos
	aim := current
	aim.X -= 0.0625 * 6.0
	core.Apply([]Command{inputCommand(1, 1, rules.Input{Flags: rules.FlagAbilityPrimary, Aim: aim})})
	core.Step()

	events := core.DrainCombatEvents()
	if len(events) != 1 {
		t.Fatalf("expected rewound hit, got %d events", len(events))
	}
	if math.Abs(events[0].RewindOffset-0.0625) > 1e-9 {
		t.Fatalf("expected rewind offset 0.0625, got %v", events[0].RewindOffset)
	}
}

func TestHeartbeatFeedsLagCompensation(t *testing.T) {
	core := NewCore(testCoreConfig(), Deps{})
	spawnClient(t, core, 1)
	spawnClient(t, core, 2)

	// Walk the target along X so its history has measurable movement, then
	// strafe it away from the aim line.
	for seq := uint32(1); seq <= 10; seq++ {
		core.Apply([]Command{inputCommand(2, seq, rules.Input{Move: rules.Vec3{X: 1}})})
		core.Step()
	}

	// 300ms round trip rewinds the hit test 150ms, hitting where the
	// attacker saw the target rather than where it stands now.
	core.Apply([]Command{{
		ClientID:  1,
		Type:      CommandHeartbeat,
		Heartbeat: &HeartbeatCommand{RTT: 300 * time.Millisecond},
	}})
	core.Step()

	current := entityFor(t, core, 2).State.Pos
	aim := current
	aim.X -= 0.15 * 6.0 // where the target was 150ms ago
	core.Apply([]Command{inputCommand(1, 1, rules.Input{Flags: rules.FlagAbilityPrimary, Aim: aim})})
	core.Step()

	events := core.DrainCombatEvents()
	if len(events) != 1 {
		t.Fatalf("expected rewound hit, got %d events", len(events))
	}
	if math.Abs(events[0].RewindOffset-0.15) > 1e-9 {
		t.Fatalf("expected rewind offset 0.15, got %v", events[0].RewindOffset)
	}
}
