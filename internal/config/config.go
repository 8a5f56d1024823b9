package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// MovementPolicy selects how the validation layer treats an over-budget
// movement vector. The source tuning documents disagree, so both behaviors
// are supported and the choice is a deployment concern.
type MovementPolicy string

const (
	MovementPolicyClamp  MovementPolicy = "clamp"
	MovementPolicyReject MovementPolicy = "reject"
)

type Config struct {
	Server     Server     `yaml:"server"`
	Simulation Simulation `yaml:"simulation"`
	Movement   Movement   `yaml:"movement"`
	Validation Validation `yaml:"validation"`
	History    History    `yaml:"history"`
	Combat     Combat     `yaml:"combat"`
	Journal    Journal    `yaml:"journal"`
	Logging    Logging    `yaml:"logging"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Simulation struct {
	TickRateHz       int `yaml:"tick_rate_hz"`
	CatchupMaxTicks  int `yaml:"catchup_max_ticks"`
	CommandCapacity  int `yaml:"command_capacity"`
	PerClientLimit   int `yaml:"per_client_limit"`
	IdleDecayTicks   int `yaml:"idle_decay_ticks"`
	MaxInputsPerTick int `yaml:"max_inputs_per_tick"`
}

type Movement struct {
	MaxSpeed    float64 `yaml:"max_speed"`
	ArenaWidth  float64 `yaml:"arena_width"`
	ArenaDepth  float64 `yaml:"arena_depth"`
	JumpSpeed   float64 `yaml:"jump_speed"`
	Gravity     float64 `yaml:"gravity"`
	DecayFactor float64 `yaml:"decay_factor"`
}

type Validation struct {
	Policy             MovementPolicy `yaml:"policy"`
	TimestampWindowSec float64        `yaml:"timestamp_window_sec"`
	MaxPacketsPerSec   int            `yaml:"max_packets_per_sec"`
	SeqBufferAhead     uint32         `yaml:"seq_buffer_ahead"`
	ViolationThreshold uint64         `yaml:"violation_threshold"`
}

type History struct {
	RetentionSec float64 `yaml:"retention_sec"`
}

type Combat struct {
	MitigationK    float64            `yaml:"mitigation_k"`
	ManualAimBonus float64            `yaml:"manual_aim_bonus"`
	MaxRewindSec   float64            `yaml:"max_rewind_sec"`
	BaseAttack     float64            `yaml:"base_attack"`
	BaseDefense    float64            `yaml:"base_defense"`
	BaseLevel      int                `yaml:"base_level"`
	MaxHealth      float64            `yaml:"max_health"`
	Abilities      map[string]Ability `yaml:"abilities"`
}

// Ability carries the externally tuned RSB coefficients for one ability.
type Ability struct {
	Ratio     float64 `yaml:"ratio"`
	Slider    float64 `yaml:"slider"`
	Base      float64 `yaml:"base"`
	Range     float64 `yaml:"range"`
	HitRadius float64 `yaml:"hit_radius"`
}

type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Logging struct {
	Sinks       []string `yaml:"sinks"`
	JSONPath    string   `yaml:"json_path"`
	MinSeverity string   `yaml:"min_severity"`
}

// Default returns the built-in tunables used when no file is supplied.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080"},
		Simulation: Simulation{
			TickRateHz:       50,
			CatchupMaxTicks:  4,
			CommandCapacity:  4096,
			PerClientLimit:   32,
			IdleDecayTicks:   10,
			MaxInputsPerTick: 4,
		},
		Movement: Movement{
			MaxSpeed:    6.0,
			ArenaWidth:  200,
			ArenaDepth:  200,
			JumpSpeed:   7.5,
			Gravity:     20.0,
			DecayFactor: 0.8,
		},
		Validation: Validation{
			Policy:             MovementPolicyClamp,
			TimestampWindowSec: 2.0,
			// Tick rate plus a loss-retry margin; the engine additionally
			// applies at most one packet per tick.
			MaxPacketsPerSec:   60,
			SeqBufferAhead:     8,
			ViolationThreshold: 50,
		},
		History: History{RetentionSec: 1.0},
		Combat: Combat{
			MitigationK:    600,
			ManualAimBonus: 1.20,
			MaxRewindSec:   0.5,
			BaseAttack:     100,
			BaseDefense:    100,
			BaseLevel:      1,
			MaxHealth:      1000,
			Abilities: map[string]Ability{
				"basic": {Ratio: 1.0, Slider: 20, Base: 80, Range: 12, HitRadius: 1.5},
				"burst": {Ratio: 1.6, Slider: 35, Base: 120, Range: 18, HitRadius: 2.5},
			},
		},
		Journal: Journal{Enabled: false, Path: "data/match.db"},
		Logging: Logging{Sinks: []string{"console"}, MinSeverity: "info"},
	}
}

// Load reads a YAML tunables file over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overlays the small set of environment overrides used in
// deployment scripts.
func (c *Config) ApplyEnv() {
	if c == nil {
		return
	}
	if raw := os.Getenv("ARENA_ADDR"); raw != "" {
		c.Server.Addr = raw
	}
	if raw := os.Getenv("ARENA_TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			c.Simulation.TickRateHz = value
		}
	}
	if raw := os.Getenv("ARENA_JOURNAL"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			c.Journal.Enabled = value
		}
	}
}

// Validate rejects configurations the simulation cannot run with.
func (c Config) Validate() error {
	if c.Simulation.TickRateHz <= 0 {
		return fmt.Errorf("simulation.tick_rate_hz must be positive, got %d", c.Simulation.TickRateHz)
	}
	if c.Movement.MaxSpeed <= 0 || math.IsNaN(c.Movement.MaxSpeed) || math.IsInf(c.Movement.MaxSpeed, 0) {
		return fmt.Errorf("movement.max_speed must be positive and finite")
	}
	switch c.Validation.Policy {
	case MovementPolicyClamp, MovementPolicyReject:
	default:
		return fmt.Errorf("validation.policy must be %q or %q, got %q",
			MovementPolicyClamp, MovementPolicyReject, c.Validation.Policy)
	}
	if c.Combat.MitigationK <= 0 {
		return fmt.Errorf("combat.mitigation_k must be positive, got %v", c.Combat.MitigationK)
	}
	if c.Combat.ManualAimBonus < 1.0 {
		return fmt.Errorf("combat.manual_aim_bonus must be >= 1.0, got %v", c.Combat.ManualAimBonus)
	}
	if c.Combat.MaxHealth <= 0 {
		return fmt.Errorf("combat.max_health must be positive, got %v", c.Combat.MaxHealth)
	}
	if c.History.RetentionSec <= 0 {
		return fmt.Errorf("history.retention_sec must be positive, got %v", c.History.RetentionSec)
	}
	return nil
}

// TickInterval returns the fixed timestep in seconds.
func (c Config) TickInterval() float64 {
	return 1.0 / float64(c.Simulation.TickRateHz)
}
