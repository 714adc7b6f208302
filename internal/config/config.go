// Package config loads the fix options from DAFix.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the configuration file looked up next to the game executable.
const FileName = "DAFix.toml"

type Toggle struct {
	Enabled bool `toml:"enabled"`
}

type HUDScale struct {
	// Scale is 0 for automatic, a fixed scale in (0, 1], anything else
	// leaves the HUD alone.
	Scale float64 `toml:"scale"`
}

type DrawDistances struct {
	Foliage float64 `toml:"foliage"`
	NPC     float64 `toml:"npc"`
	Object  float64 `toml:"object"`
}

type ShadowResolution struct {
	Resolution int `toml:"resolution"`
}

type Readiness struct {
	Attempts   int `toml:"attempts"`
	IntervalMS int `toml:"interval_ms"`
}

// Interval returns the delay between readiness probes.
func (r Readiness) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

// Title holds per-executable overrides.
type Title struct {
	BorderlessWindowed *bool `toml:"borderless_windowed"`
}

type Config struct {
	BorderlessWindowed  Toggle           `toml:"borderless_windowed"`
	FixAspectRatio      Toggle           `toml:"fix_aspect_ratio"`
	DisablePillarboxing Toggle           `toml:"disable_pillarboxing"`
	HUDScale            HUDScale         `toml:"hud_scale"`
	DrawDistances       DrawDistances    `toml:"draw_distances"`
	ShadowResolution    ShadowResolution `toml:"shadow_resolution"`
	Readiness           Readiness        `toml:"readiness"`
	Titles              map[string]Title `toml:"titles"`
}

// Default returns the options the fix ships with.
func Default() Config {
	return Config{
		BorderlessWindowed:  Toggle{Enabled: false},
		FixAspectRatio:      Toggle{Enabled: true},
		DisablePillarboxing: Toggle{Enabled: true},
		HUDScale:            HUDScale{Scale: 0},
		DrawDistances:       DrawDistances{Foliage: 1.5, NPC: 60, Object: 60},
		ShadowResolution:    ShadowResolution{Resolution: 1024},
		Readiness:           Readiness{Attempts: 150, IntervalMS: 200},
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result. Unknown
// keys are rejected so typos do not silently fall back to defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, fmt.Errorf("failed to parse config at %d:%d: %w", row, col, err)
		}
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no site could use.
func (c Config) Validate() error {
	var errs []error
	if c.Readiness.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("readiness.attempts must be positive, got %d", c.Readiness.Attempts))
	}
	if c.Readiness.IntervalMS < 0 {
		errs = append(errs, fmt.Errorf("readiness.interval_ms must not be negative, got %d", c.Readiness.IntervalMS))
	}
	if c.ShadowResolution.Resolution < 0 {
		errs = append(errs, fmt.Errorf("shadow_resolution.resolution must not be negative, got %d", c.ShadowResolution.Resolution))
	}
	return errors.Join(errs...)
}

// BorderlessFor reports whether the borderless window site applies to exe.
// The title must support it; a per-title override then beats the global
// flag.
func (c Config) BorderlessFor(exe string, supported bool) bool {
	if !supported {
		return false
	}
	for name, title := range c.Titles {
		if strings.EqualFold(name, exe) && title.BorderlessWindowed != nil {
			return *title.BorderlessWindowed
		}
	}
	return c.BorderlessWindowed.Enabled
}

// HUDScaleEnabled reports whether the HUD site should be installed.
func (c Config) HUDScaleEnabled() bool {
	return c.HUDScale.Scale >= 0 && c.HUDScale.Scale <= 1
}

// DrawDistancesEnabled reports whether all draw distances are usable.
func (c Config) DrawDistancesEnabled() bool {
	d := c.DrawDistances
	return d.Foliage > 0 && d.NPC > 0 && d.Object > 0
}

// ShadowResolutionEnabled reports whether the shadow map size differs from
// the game's own.
func (c Config) ShadowResolutionEnabled() bool {
	return c.ShadowResolution.Resolution > 0 && c.ShadowResolution.Resolution != 1024
}

// LogValue implements slog.LogValuer.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("borderless_windowed", c.BorderlessWindowed.Enabled),
		slog.Bool("fix_aspect_ratio", c.FixAspectRatio.Enabled),
		slog.Bool("disable_pillarboxing", c.DisablePillarboxing.Enabled),
		slog.Float64("hud_scale", c.HUDScale.Scale),
		slog.Float64("foliage_draw_distance", c.DrawDistances.Foliage),
		slog.Float64("npc_draw_distance", c.DrawDistances.NPC),
		slog.Float64("object_draw_distance", c.DrawDistances.Object),
		slog.Int("shadow_resolution", c.ShadowResolution.Resolution),
		slog.Int("readiness_attempts", c.Readiness.Attempts),
		slog.Duration("readiness_interval", c.Readiness.Interval()),
	)
}
