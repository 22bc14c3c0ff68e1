package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/mcdev12/geotag/go/internal/capture"
	"github.com/mcdev12/geotag/go/internal/gamestate"
	"github.com/mcdev12/geotag/go/internal/geofence"
	"github.com/mcdev12/geotag/go/internal/heartbeat"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/overlay"
	"github.com/mcdev12/geotag/go/internal/profiles"
	"github.com/mcdev12/geotag/go/internal/realtime"
	"github.com/mcdev12/geotag/go/internal/realtime/natsjs"
	"github.com/mcdev12/geotag/go/internal/realtime/pgnotify"
	"github.com/mcdev12/geotag/go/internal/realtime/wsrealtime"
	"github.com/mcdev12/geotag/go/internal/store"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in Engine.Transport
const (
	TransportPGNotify  = "pgnotify"
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// Engine holds every engine tunable. Missing keys keep their defaults.
type Engine struct {
	Transport string            `yaml:"transport"`
	Realtime  realtime.Config   `yaml:"realtime"`
	PGNotify  pgnotify.Config   `yaml:"pgnotify"`
	NATS      natsjs.Config     `yaml:"nats"`
	WebSocket wsrealtime.Config `yaml:"websocket"`

	State     gamestate.Config `yaml:"state"`
	Geofence  geofence.Config  `yaml:"geofence"`
	Heartbeat heartbeat.Config `yaml:"heartbeat"`
	Capture   capture.Config   `yaml:"capture"`
	Overlay   overlay.Config   `yaml:"overlay"`
	Profiles  profiles.Config  `yaml:"profiles"`
	Store     store.Config     `yaml:"store"`

	Regions []models.Region `yaml:"regions"`
}

// Default returns the built-in engine configuration
func Default() Engine {
	return Engine{
		Transport: TransportPGNotify,
		Realtime:  realtime.DefaultConfig(),
		PGNotify:  pgnotify.DefaultConfig(),
		NATS:      natsjs.DefaultConfig(),
		WebSocket: wsrealtime.DefaultConfig(),
		State:     gamestate.DefaultConfig(),
		Geofence:  geofence.DefaultConfig(),
		Heartbeat: heartbeat.DefaultConfig(),
		Capture:   capture.DefaultConfig(),
		Overlay:   overlay.DefaultConfig(),
		Profiles:  profiles.DefaultConfig(),
		Store:     store.DefaultConfig(),
	}
}

// Load reads a YAML engine config on top of the defaults
func Load(path string) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (Engine, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Engine{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (e Engine) Validate() error {
	var errs []error

	switch e.Transport {
	case TransportPGNotify, TransportNATS, TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", e.Transport))
	}

	if e.Capture.ShowThreshold <= 0 {
		errs = append(errs, errors.New("capture.show_threshold_m must be positive"))
	}
	if e.Capture.HideThreshold < e.Capture.ShowThreshold {
		errs = append(errs, errors.New("capture.hide_threshold_m must not be below show_threshold_m"))
	}
	if e.Geofence.Interval <= 0 || e.Geofence.Step <= 0 {
		errs = append(errs, errors.New("geofence.interval and geofence.step_m must be positive"))
	}
	if e.Geofence.Floor < 0 {
		errs = append(errs, errors.New("geofence.floor_m must not be negative"))
	}
	if e.Heartbeat.Interval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}

	seen := make(map[string]bool, len(e.Regions))
	for _, r := range e.Regions {
		if r.ID == "" {
			errs = append(errs, errors.New("region without id"))
			continue
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("duplicate region %q", r.ID))
		}
		seen[r.ID] = true
		if r.InitialRadius <= e.Geofence.Floor {
			errs = append(errs, fmt.Errorf("region %q: initial_radius_m must exceed geofence.floor_m", r.ID))
		}
		if !r.Center.Valid() {
			errs = append(errs, fmt.Errorf("region %q: invalid center", r.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid engine config: %w", errors.Join(errs...))
	}
	return nil
}

// Region looks up a region by id
func (e Engine) Region(id string) (models.Region, bool) {
	for _, r := range e.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return models.Region{}, false
}
