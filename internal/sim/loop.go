package sim

import (
	"sync"
	"time"

	"moba-arena/internal/sim/combat"
	"moba-arena/logging"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to
	// per-client queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
	// CommandRejectUnknownClient indicates the engine is not simulating the
	// referenced client.
	CommandRejectUnknownClient = "unknown_client"
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerClientLimit  int
	WarningStep     int
}

// LoopTickContext carries per-tick timing into Advance.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult summarizes one completed tick for the AfterStep hook.
type LoopStepResult struct {
	Tick           uint64
	Now            time.Time
	Delta          float64
	Duration       time.Duration
	Budget         time.Duration
	ClampedDelta   bool
	Snapshot       Snapshot
	Commands       []Command
	RemovedClients []uint64
}

// LoopHooks let the owning hub observe the loop without owning it.
type LoopHooks struct {
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// Loop coordinates command ingestion and the fixed-timestep runner around a
// Core. Producers call Enqueue from any goroutine; the loop goroutine is the
// sole consumer.
type Loop struct {
	core   *Core
	buffer *CommandBuffer
	hooks  LoopHooks
	config LoopConfig

	queueMu        sync.Mutex
	perClientCount map[uint64]int
	dropCounts     map[uint64]uint64
}

// NewLoop wraps the provided engine core with a ring-buffer queue and loop.
func NewLoop(core *Core, cfg LoopConfig, hooks LoopHooks) *Loop {
	if core == nil {
		return nil
	}
	deps := core.Deps()
	return &Loop{
		core:           core,
		buffer:         NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		hooks:          hooks,
		config:         cfg,
		perClientCount: make(map[uint64]int),
		dropCounts:     make(map[uint64]uint64),
	}
}

// SetHooks installs observer hooks. Call before Run; the loop goroutine
// reads them without synchronization.
func (l *Loop) SetHooks(hooks LoopHooks) {
	if l == nil {
		return
	}
	l.hooks = hooks
}

// Deps returns the injected dependencies for the underlying engine.
func (l *Loop) Deps() Deps {
	if l == nil {
		return Deps{}
	}
	return l.core.Deps()
}

// Apply delegates to the underlying engine.
func (l *Loop) Apply(cmds []Command) error {
	if l == nil {
		return nil
	}
	return l.core.Apply(cmds)
}

// Step delegates to the underlying engine.
func (l *Loop) Step() {
	if l == nil {
		return
	}
	l.core.Step()
}

// Snapshot delegates to the underlying engine.
func (l *Loop) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	return l.core.Snapshot()
}

// DrainCombatEvents delegates to the underlying engine.
func (l *Loop) DrainCombatEvents() []combat.Event {
	if l == nil {
		return nil
	}
	return l.core.DrainCombatEvents()
}

// RemovedClients delegates to the underlying engine.
func (l *Loop) RemovedClients() []uint64 {
	if l == nil {
		return nil
	}
	return l.core.RemovedClients()
}

// Tick reports the last completed tick.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	return l.core.Tick()
}

// Now reports the simulation clock in seconds.
func (l *Loop) Now() float64 {
	if l == nil {
		return 0
	}
	return l.core.Now()
}

// HasClient delegates to the underlying engine.
func (l *Loop) HasClient(clientID uint64) bool {
	if l == nil {
		return false
	}
	return l.core.HasClient(clientID)
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-client throttling and capacity
// limits. The returned reason is empty on success.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerClientLimit > 0 && cmd.ClientID != 0 {
		count := l.perClientCount[cmd.ClientID]
		if count >= l.config.PerClientLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ClientID)
		} else {
			l.perClientCount[cmd.ClientID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ClientID)
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				if l.hooks.OnQueueWarning != nil {
					l.hooks.OnQueueWarning(length)
				}
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands()
	_ = l.core.Apply(commands)
	l.core.Step()
	return LoopStepResult{
		Tick:           l.core.Tick(),
		Now:            ctx.Now,
		Delta:          ctx.Delta,
		Snapshot:       l.core.Snapshot(),
		Commands:       commands,
		RemovedClients: l.core.RemovedClients(),
	}
}

// Run drives the fixed-timestep loop until the stop channel closes.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	if tickRate <= 0 {
		tickRate = 50
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	clock := l.core.Deps().Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			start := clock.Now()
			result := l.Advance(LoopTickContext{Tick: l.core.Tick() + 1, Now: now, Delta: dt})
			result.Duration = clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perClientCount) > 0 {
		l.perClientCount = make(map[uint64]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(clientID uint64) uint64 {
	if clientID == 0 {
		return 0
	}
	count := l.dropCounts[clientID] + 1
	l.dropCounts[clientID] = count
	return count
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	// Power-of-two cadence keeps sustained backpressure from flooding logs.
	if reason == CommandRejectQueueLimit && count > 0 && count&(count-1) == 0 {
		if logger := l.core.Deps().Logger; logger != nil {
			logger.Printf(
				"[backpressure] dropping command client=%d type=%s count=%d limit=%d",
				cmd.ClientID,
				cmd.Type,
				count,
				l.config.PerClientLimit,
			)
		}
	}
}

// Ensure Loop implements Engine.
var _ Engine = (*Loop)(nil)
