package server

import (
	"testing"
	"time"

	"moba-arena/internal/config"
	"moba-arena/internal/sim"
	"moba-arena/internal/sim/combat"
	"moba-arena/internal/sim/rules"
	"moba-arena/internal/sim/validate"
)

func testHub(t *testing.T) (*Hub, *sim.Loop) {
	t.Helper()
	cfg := config.Default()
	core := sim.NewCore(sim.CoreConfig{
		TickInterval:     0.02,
		Params:           rules.Params{MaxSpeed: 6, ArenaWidth: 200, ArenaDepth: 200, JumpSpeed: 7.5, Gravity: 20},
		IdleDecayTicks:   10,
		DecayFactor:      0.8,
		MaxInputsPerTick: 4,
		HistoryRetention: 1.0,
		Combat:           combat.Config{MitigationK: 600, ManualAimBonus: 1.20},
		Abilities: map[string]combat.Ability{
			"basic": {Name: "basic", Ratio: 1.0, Slider: 20, Base: 80, Range: 12, HitRadius: 1.5},
		},
		PrimaryAbility: "basic",
		BaseStats:      sim.Stats{Attack: 100, Defense: 100, MaxHealth: 1000, Level: 1},
	}, sim.Deps{})
	loop := sim.NewLoop(core, sim.LoopConfig{
		TickRate:        50,
		CommandCapacity: 64,
		PerClientLimit:  8,
	}, sim.LoopHooks{})
	hub := NewHub(HubDeps{
		Config:    &cfg,
		Loop:      loop,
		Validator: validate.New(validate.Config{}),
	})
	loop.SetHooks(hub.LoopHooks())
	return hub, loop
}

func TestHubJoinAllocatesIdentity(t *testing.T) {
	hub, loop := testHub(t)

	first, ok := hub.Join("alice")
	if !ok {
		t.Fatalf("expected join to succeed")
	}
	second, ok := hub.Join("bob")
	if !ok {
		t.Fatalf("expected second join to succeed")
	}
	if first.ClientID == second.ClientID {
		t.Fatalf("expected distinct client ids, both %d", first.ClientID)
	}
	if first.Session == "" || first.Session == second.Session {
		t.Fatalf("expected unique session tokens")
	}
	if first.TickRateHz != 50 || first.MaxSpeed != 6.0 {
		t.Fatalf("unexpected join parameters: %+v", first)
	}
	if !hub.HasSession(first.ClientID) || !hub.HasSession(second.ClientID) {
		t.Fatalf("expected sessions registered")
	}
	if loop.Pending() != 2 {
		t.Fatalf("expected two spawn commands staged, got %d", loop.Pending())
	}
}

func TestHubSubscribeRequiresToken(t *testing.T) {
	hub, _ := testHub(t)
	resp, _ := hub.Join("alice")

	if _, ok := hub.Subscribe(resp.ClientID, "forged", nil); ok {
		t.Fatalf("expected forged token rejected")
	}
	if _, ok := hub.Subscribe(resp.ClientID+99, resp.Session, nil); ok {
		t.Fatalf("expected unknown client rejected")
	}
	sub, ok := hub.Subscribe(resp.ClientID, resp.Session, nil)
	if !ok || sub == nil {
		t.Fatalf("expected subscribe with issued token to succeed")
	}
}

func TestHubDisconnectStagesDespawn(t *testing.T) {
	hub, loop := testHub(t)
	resp, _ := hub.Join("alice")
	if loop.Pending() != 1 {
		t.Fatalf("expected spawn staged, got %d", loop.Pending())
	}

	hub.Disconnect(resp.ClientID, "test")
	if hub.HasSession(resp.ClientID) {
		t.Fatalf("expected session removed")
	}
	if loop.Pending() != 2 {
		t.Fatalf("expected despawn staged, got %d pending", loop.Pending())
	}

	// A second disconnect for the same client is a no-op.
	hub.Disconnect(resp.ClientID, "test")
	if loop.Pending() != 2 {
		t.Fatalf("expected repeat disconnect ignored, got %d pending", loop.Pending())
	}
}

func TestHubAfterStepPublishesClock(t *testing.T) {
	hub, _ := testHub(t)
	hub.AfterStep(sim.LoopStepResult{
		Tick:     42,
		Snapshot: sim.Snapshot{Tick: 42, ServerTime: 0.84},
	})
	if hub.Tick() != 42 {
		t.Fatalf("expected tick 42, got %d", hub.Tick())
	}
	if got := hub.ServerNow(); got != 0.84 {
		t.Fatalf("expected server time 0.84, got %v", got)
	}
}

func TestHubDiagnosticsSnapshot(t *testing.T) {
	hub, _ := testHub(t)
	resp, _ := hub.Join("alice")
	hub.Subscribe(resp.ClientID, resp.Session, nil)

	diag := hub.DiagnosticsSnapshot()
	if diag["sessions"] != 1 {
		t.Fatalf("expected one session, got %v", diag["sessions"])
	}
	if diag["subscribers"] != 1 {
		t.Fatalf("expected one subscriber, got %v", diag["subscribers"])
	}
}

func TestHubReapsStaleHeartbeats(t *testing.T) {
	hub, loop := testHub(t)
	resp, _ := hub.Join("alice")
	base := time.Now()

	// Fresh session survives a sweep inside the deadline.
	hub.AfterStep(sim.LoopStepResult{Tick: 1, Now: base.Add(5 * time.Second)})
	if !hub.HasSession(resp.ClientID) {
		t.Fatalf("expected live session kept")
	}

	// A heartbeat pushes the deadline forward.
	if _, ok := hub.UpdateHeartbeat(resp.ClientID, base.Add(5*time.Second), base.UnixMilli()); !ok {
		t.Fatalf("expected heartbeat accepted")
	}
	hub.AfterStep(sim.LoopStepResult{Tick: 2, Now: base.Add(10 * time.Second)})
	if !hub.HasSession(resp.ClientID) {
		t.Fatalf("expected refreshed session kept")
	}

	// Silence past the deadline tears the session down and stages a despawn
	// so the entity does not linger as a zombie.
	before := loop.Pending()
	hub.AfterStep(sim.LoopStepResult{Tick: 3, Now: base.Add(12 * time.Second)})
	if hub.HasSession(resp.ClientID) {
		t.Fatalf("expected stale session reaped")
	}
	if loop.Pending() != before+1 {
		t.Fatalf("expected despawn staged for reaped client, got %d pending", loop.Pending())
	}
}

func TestHubHeartbeatEstimatesRTT(t *testing.T) {
	hub, loop := testHub(t)
	resp, _ := hub.Join("alice")

	now := time.Now()
	rtt, ok := hub.UpdateHeartbeat(resp.ClientID, now, now.Add(-80*time.Millisecond).UnixMilli())
	if !ok {
		t.Fatalf("expected heartbeat staged")
	}
	if rtt < 79*time.Millisecond || rtt > 81*time.Millisecond {
		t.Fatalf("expected ~80ms rtt, got %v", rtt)
	}
	if loop.Pending() != 2 {
		t.Fatalf("expected heartbeat command staged, got %d pending", loop.Pending())
	}

	if _, ok := hub.UpdateHeartbeat(resp.ClientID+99, now, now.UnixMilli()); ok {
		t.Fatalf("expected unknown client rejected")
	}
}
