package server

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"moba-arena/internal/config"
	"moba-arena/internal/journal"
	"moba-arena/internal/net/intake"
	"moba-arena/internal/net/proto"
	"moba-arena/internal/sim"
	"moba-arena/internal/sim/validate"
	"moba-arena/internal/telemetry"
	"moba-arena/logging"
	"moba-arena/logging/network"
	"moba-arena/logging/simulation"
)

// Subscriber serializes writes to one websocket connection. Broadcasts from
// the tick loop and replies from the session goroutine share it.
type Subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteMessage writes one frame under the subscriber lock.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	if s == nil || s.conn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection.
func (s *Subscriber) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Heartbeat cadence expected from clients and the staleness bound past which
// a session is presumed half-open and torn down.
const (
	heartbeatInterval = 2 * time.Second
	disconnectAfter   = 3 * heartbeatInterval
)

type clientSession struct {
	token         string
	name          string
	joined        time.Time
	lastHeartbeat time.Time
}

// Hub owns the session registry and fans authoritative snapshots out to
// subscribers. All entity state lives in the engine; the hub only tracks who
// is connected and how to reach them.
type Hub struct {
	cfg       *config.Config
	loop      *sim.Loop
	validator *validate.Validator
	journal   *journal.DB
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	mu          sync.Mutex
	sessions    map[uint64]*clientSession
	subscribers map[uint64]*Subscriber

	nextID atomic.Uint64

	// Published by the tick loop, read by session goroutines.
	lastTick       atomic.Uint64
	lastServerTime atomic.Uint64
}

// HubDeps bundles the hub's collaborators. Journal may be nil.
type HubDeps struct {
	Config    *config.Config
	Loop      *sim.Loop
	Validator *validate.Validator
	Journal   *journal.DB
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

func NewHub(deps HubDeps) *Hub {
	return &Hub{
		cfg:         deps.Config,
		loop:        deps.Loop,
		validator:   deps.Validator,
		journal:     deps.Journal,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		publisher:   deps.Publisher,
		sessions:    make(map[uint64]*clientSession),
		subscribers: make(map[uint64]*Subscriber),
	}
}

// Join allocates an identity for a new client, stages its spawn, and returns
// the parameters the client needs to predict locally.
func (h *Hub) Join(name string) (proto.JoinResponse, bool) {
	if h == nil {
		return proto.JoinResponse{}, false
	}
	clientID := h.nextID.Add(1)
	token := uuid.NewString()

	now := time.Now()
	h.mu.Lock()
	h.sessions[clientID] = &clientSession{token: token, name: name, joined: now, lastHeartbeat: now}
	h.mu.Unlock()

	cmd := sim.Command{
		ClientID:   clientID,
		Type:       sim.CommandSpawn,
		OriginTick: h.lastTick.Load(),
		IssuedAt:   time.Now(),
		Spawn:      &sim.SpawnCommand{Name: name},
	}
	if ok, reason := h.loop.Enqueue(cmd); !ok {
		h.mu.Lock()
		delete(h.sessions, clientID)
		h.mu.Unlock()
		if h.logger != nil {
			h.logger.Printf("join rejected for %q: %s", name, reason)
		}
		return proto.JoinResponse{}, false
	}

	network.ClientJoined(context.Background(), h.publisher, h.lastTick.Load(), h.clientRef(clientID), token)

	return proto.JoinResponse{
		Ver:        proto.Version,
		Type:       proto.TypeJoined,
		ClientID:   clientID,
		Session:    token,
		TickRateHz: h.cfg.Simulation.TickRateHz,
		MaxSpeed:   h.cfg.Movement.MaxSpeed,
		ArenaWidth: h.cfg.Movement.ArenaWidth,
		ArenaDepth: h.cfg.Movement.ArenaDepth,
	}, true
}

// Subscribe binds a websocket connection to a joined client. The session
// token must match the one issued at join. A second connection for the same
// client replaces the first.
func (h *Hub) Subscribe(clientID uint64, token string, conn *websocket.Conn) (*Subscriber, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[clientID]
	if !ok || session.token != token {
		return nil, false
	}
	if existing, ok := h.subscribers[clientID]; ok {
		existing.Close()
	}
	sub := &Subscriber{conn: conn}
	h.subscribers[clientID] = sub
	return sub, true
}

// Disconnect tears down a client: its subscriber closes, the engine stages a
// despawn for the next tick boundary, and the validator forgets its sequence
// space so a rejoin starts clean.
func (h *Hub) Disconnect(clientID uint64, reason string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	sub, hadSub := h.subscribers[clientID]
	delete(h.subscribers, clientID)
	_, hadSession := h.sessions[clientID]
	delete(h.sessions, clientID)
	h.mu.Unlock()

	if hadSub {
		sub.Close()
	}
	if !hadSession {
		return
	}

	h.loop.Enqueue(sim.Command{
		ClientID:   clientID,
		Type:       sim.CommandDespawn,
		OriginTick: h.lastTick.Load(),
		IssuedAt:   time.Now(),
	})
	if h.validator != nil {
		h.validator.Forget(clientID)
	}
	network.ClientLeft(context.Background(), h.publisher, h.lastTick.Load(), h.clientRef(clientID), reason)
}

// HasSession reports whether the hub issued an identity for clientID.
func (h *Hub) HasSession(clientID uint64) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[clientID]
	return ok
}

// UpdateHeartbeat stages an RTT sample, refreshes the session's liveness
// deadline, and returns the round trip estimate.
func (h *Hub) UpdateHeartbeat(clientID uint64, now time.Time, clientSentMillis int64) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	h.mu.Lock()
	session, ok := h.sessions[clientID]
	if !ok {
		h.mu.Unlock()
		return 0, false
	}
	session.lastHeartbeat = now
	h.mu.Unlock()

	rtt := time.Duration(now.UnixMilli()-clientSentMillis) * time.Millisecond
	if rtt < 0 {
		rtt = 0
	}
	_, ok, _ = intake.StageHeartbeat(h.IntakeContext(), clientID, clientSentMillis, rtt)
	return rtt, ok
}

// IntakeContext wires the staging pipeline to this hub's collaborators.
func (h *Hub) IntakeContext() intake.Context {
	return intake.Context{
		Engine:    h.loop,
		Validator: h.validator,
		HasClient: h.HasSession,
		Tick:      h.lastTick.Load,
		Now:       time.Now,
		ServerNow: h.ServerNow,
		Publisher: h.publisher,
		OnViolation: func(clientID uint64, reason string, seq uint32, total uint64) {
			if h.journal != nil {
				h.journal.RecordViolation(h.lastTick.Load(), journal.Violation{
					ClientID: clientID,
					Reason:   reason,
					Seq:      seq,
					Count:    total,
				})
			}
		},
	}
}

// ServerNow reports the simulation clock in seconds, as of the last
// completed tick.
func (h *Hub) ServerNow() float64 {
	if h == nil {
		return 0
	}
	return math.Float64frombits(h.lastServerTime.Load())
}

// Tick reports the last completed tick.
func (h *Hub) Tick() uint64 {
	if h == nil {
		return 0
	}
	return h.lastTick.Load()
}

// AfterStep runs on the tick goroutine after every simulation step. It
// publishes timing, journals combat outcomes, reaps despawned clients, and
// broadcasts the snapshot.
func (h *Hub) AfterStep(result sim.LoopStepResult) {
	if h == nil {
		return
	}
	h.lastTick.Store(result.Tick)
	h.lastServerTime.Store(math.Float64bits(result.Snapshot.ServerTime))

	if result.Duration > result.Budget && result.Budget > 0 {
		simulation.TickBudgetExceeded(context.Background(), h.publisher, result.Tick, simulation.TickBudgetPayload{
			DurationMillis: float64(result.Duration.Microseconds()) / 1000.0,
			BudgetMillis:   float64(result.Budget.Microseconds()) / 1000.0,
		})
	}

	if h.journal != nil {
		for _, event := range h.loop.DrainCombatEvents() {
			h.journal.RecordCombat(result.Tick, event)
		}
	}

	for _, clientID := range result.RemovedClients {
		h.reapClient(clientID)
	}
	h.reapStale(result.Now)

	h.BroadcastSnapshot(result.Snapshot)
}

// reapStale disconnects sessions whose heartbeat went quiet. A half-open
// connection never produces a read error, so liveness comes from the
// heartbeat deadline rather than the socket.
func (h *Hub) reapStale(now time.Time) {
	if now.IsZero() {
		return
	}
	h.mu.Lock()
	var stale []uint64
	for clientID, session := range h.sessions {
		if now.Sub(session.lastHeartbeat) > disconnectAfter {
			stale = append(stale, clientID)
		}
	}
	h.mu.Unlock()
	for _, clientID := range stale {
		h.Disconnect(clientID, "heartbeat_timeout")
	}
}

// reapClient drops whatever hub state is left for a client the engine
// removed at a tick boundary. Despawns staged through Disconnect already
// cleaned the maps, so this usually finds nothing.
func (h *Hub) reapClient(clientID uint64) {
	h.mu.Lock()
	sub, hadSub := h.subscribers[clientID]
	delete(h.subscribers, clientID)
	delete(h.sessions, clientID)
	h.mu.Unlock()
	if hadSub {
		sub.Close()
	}
	if h.validator != nil {
		h.validator.Forget(clientID)
	}
}

// BroadcastSnapshot encodes, frames, and fans out one authoritative
// snapshot. A failed write marks the subscriber for disconnect rather than
// stalling the remaining fan-out.
func (h *Hub) BroadcastSnapshot(snapshot sim.Snapshot) {
	wire := snapshotToWire(snapshot)
	body, err := proto.EncodeSnapshot(wire)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("snapshot encode failed tick=%d: %v", snapshot.Tick, err)
		}
		return
	}
	framed, compressed := proto.FrameSnapshot(body)

	h.mu.Lock()
	targets := make(map[uint64]*Subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		targets[id] = sub
	}
	h.mu.Unlock()

	var failed []uint64
	for clientID, sub := range targets {
		if err := sub.WriteMessage(websocket.BinaryMessage, framed); err != nil {
			failed = append(failed, clientID)
		}
	}
	for _, clientID := range failed {
		h.Disconnect(clientID, "write_failed")
	}

	if h.metrics != nil {
		h.metrics.Add("hub_broadcast_bytes_total", uint64(len(framed))*uint64(len(targets)))
		h.metrics.Store("hub_subscribers", uint64(len(targets)))
	}
	network.SnapshotBroadcast(context.Background(), h.publisher, snapshot.Tick, network.BroadcastPayload{
		Bytes:      len(framed),
		Entities:   len(wire.Entities),
		Compressed: compressed,
	})
}

func snapshotToWire(snapshot sim.Snapshot) proto.Snapshot {
	wire := proto.Snapshot{
		Tick:       snapshot.Tick,
		ServerTime: snapshot.ServerTime,
		Entities:   make([]proto.EntitySnapshot, 0, len(snapshot.Entities)),
	}
	for _, view := range snapshot.Entities {
		wire.Entities = append(wire.Entities, proto.EntitySnapshot{
			EntityID:         view.State.ID,
			Pos:              view.State.Pos,
			Vel:              view.State.Vel,
			Yaw:              view.State.Yaw,
			Health:           view.State.Health,
			LastProcessedSeq: view.LastProcessedSeq,
		})
	}
	return wire
}

// DiagnosticsSnapshot summarizes the hub for the diagnostics endpoint.
func (h *Hub) DiagnosticsSnapshot() map[string]any {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	sessions := len(h.sessions)
	subscribers := len(h.subscribers)
	h.mu.Unlock()

	diag := map[string]any{
		"tick":        h.lastTick.Load(),
		"serverTime":  h.ServerNow(),
		"sessions":    sessions,
		"subscribers": subscribers,
		"pending":     h.loop.Pending(),
	}
	if h.journal != nil {
		diag["journalDropped"] = h.journal.Dropped()
	}
	return diag
}

// LoopHooks returns the hooks the hub wants installed on the engine loop.
func (h *Hub) LoopHooks() sim.LoopHooks {
	return sim.LoopHooks{
		AfterStep: h.AfterStep,
		OnCommandDrop: func(reason string, cmd sim.Command) {
			if h.metrics != nil {
				h.metrics.Add("hub_command_drops_total", 1)
			}
		},
		OnQueueWarning: func(length int) {
			if h.logger != nil {
				h.logger.Printf("[backpressure] command queue length=%d", length)
			}
		},
	}
}

func (h *Hub) clientRef(clientID uint64) logging.EntityRef {
	return logging.EntityRef{ID: strconv.FormatUint(clientID, 10), Kind: logging.EntityKindClient}
}
