package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"moba-arena/internal/config"
	"moba-arena/internal/journal"
	servernet "moba-arena/internal/net"
	"moba-arena/internal/server"
	"moba-arena/internal/sim"
	"moba-arena/internal/sim/combat"
	"moba-arena/internal/sim/rules"
	"moba-arena/internal/sim/validate"
	"moba-arena/internal/telemetry"
	"moba-arena/logging"
	loggingSinks "moba-arena/logging/sinks"
)

// Options select the runtime configuration for Run.
type Options struct {
	ConfigPath string
	Logger     telemetry.Logger
}

// Run wires the full service and blocks until ctx is cancelled or the HTTP
// listener fails.
func Run(ctx context.Context, opts Options) error {
	telemetryLogger := opts.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	router, err := buildRouter(cfg.Logging)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := telemetry.NewRegistry()

	var matchJournal *journal.DB
	if cfg.Journal.Enabled {
		matchJournal, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if cerr := matchJournal.Close(); cerr != nil {
				telemetryLogger.Printf("failed to close journal: %v", cerr)
			}
		}()
	}

	core := sim.NewCore(coreConfig(cfg), sim.Deps{
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Clock:     logging.SystemClock{},
		Publisher: router,
	})
	loop := sim.NewLoop(core, sim.LoopConfig{
		TickRate:        cfg.Simulation.TickRateHz,
		CatchupMaxTicks: cfg.Simulation.CatchupMaxTicks,
		CommandCapacity: cfg.Simulation.CommandCapacity,
		PerClientLimit:  cfg.Simulation.PerClientLimit,
		WarningStep:     cfg.Simulation.CommandCapacity / 2,
	}, sim.LoopHooks{})

	validator := validate.New(validate.Config{
		MaxMoveMagnitude:   1.0,
		ClampInsteadReject: cfg.Validation.Policy == config.MovementPolicyClamp,
		TimestampWindowSec: cfg.Validation.TimestampWindowSec,
		MaxPacketsPerSec:   cfg.Validation.MaxPacketsPerSec,
		SeqBufferAhead:     cfg.Validation.SeqBufferAhead,
		ViolationThreshold: cfg.Validation.ViolationThreshold,
	})

	hub := server.NewHub(server.HubDeps{
		Config:    &cfg,
		Loop:      loop,
		Validator: validator,
		Journal:   matchJournal,
		Logger:    telemetryLogger,
		Metrics:   metrics,
		Publisher: router,
	})
	loop.SetHooks(hub.LoopHooks())

	stop := make(chan struct{})
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(stop)
	}()
	// Joining the loop goroutine keeps the tick loop from touching the
	// journal or router after their deferred Close calls run.
	defer func() {
		close(stop)
		<-loopDone
	}()

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Config:  &cfg,
		Logger:  telemetryLogger,
		Metrics: metrics,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
	telemetryLogger.Printf("server listening on %s (tick rate %d Hz)", srv.Addr, cfg.Simulation.TickRateHz)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

// buildRouter maps the config file's logging section onto the router and its
// sinks.
func buildRouter(cfg config.Logging) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	if len(cfg.Sinks) > 0 {
		logCfg.EnabledSinks = cfg.Sinks
	}
	logCfg.MinimumSeverity = logging.ParseSeverity(cfg.MinSeverity)

	var sinks []logging.NamedSink
	if logCfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{
			Name: "console",
			Sink: loggingSinks.NewConsole(os.Stdout, logCfg.Console),
		})
	}
	if logCfg.HasSink("json") {
		path := cfg.JSONPath
		if path == "" {
			path = "arena.log.ndjson"
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(file, logCfg.JSON.FlushInterval),
		})
	}
	return logging.NewRouter(logging.SystemClock{}, logCfg, sinks)
}

// coreConfig translates the file tunables into the engine's construction
// parameters.
func coreConfig(cfg config.Config) sim.CoreConfig {
	abilities := make(map[string]combat.Ability, len(cfg.Combat.Abilities))
	for name, ability := range cfg.Combat.Abilities {
		abilities[name] = combat.Ability{
			Name:      name,
			Ratio:     ability.Ratio,
			Slider:    ability.Slider,
			Base:      ability.Base,
			Range:     ability.Range,
			HitRadius: ability.HitRadius,
		}
	}
	return sim.CoreConfig{
		TickInterval: cfg.TickInterval(),
		Params: rules.Params{
			MaxSpeed:   cfg.Movement.MaxSpeed,
			ArenaWidth: cfg.Movement.ArenaWidth,
			ArenaDepth: cfg.Movement.ArenaDepth,
			JumpSpeed:  cfg.Movement.JumpSpeed,
			Gravity:    cfg.Movement.Gravity,
		},
		IdleDecayTicks:   cfg.Simulation.IdleDecayTicks,
		DecayFactor:      cfg.Movement.DecayFactor,
		MaxInputsPerTick: cfg.Simulation.MaxInputsPerTick,
		HistoryRetention: cfg.History.RetentionSec,
		Combat: combat.Config{
			MitigationK:    cfg.Combat.MitigationK,
			ManualAimBonus: cfg.Combat.ManualAimBonus,
			MaxRewindSec:   cfg.Combat.MaxRewindSec,
		},
		Abilities:        abilities,
		PrimaryAbility:   "basic",
		SecondaryAbility: "burst",
		BaseStats: sim.Stats{
			Attack:    cfg.Combat.BaseAttack,
			Defense:   cfg.Combat.BaseDefense,
			MaxHealth: cfg.Combat.MaxHealth,
			Level:     cfg.Combat.BaseLevel,
		},
	}
}
