package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/internal/dbconfig"
	"github.com/mcdev12/geotag/go/internal/logging"
)

// Runtime is the per-process configuration read from the environment
type Runtime struct {
	ConfigPath string    `env:"GEOTAG_CONFIG" envDefault:"config/engine.yaml"`
	UserID     uuid.UUID `env:"GEOTAG_USER_ID,required"`
	RoomID     uuid.UUID `env:"GEOTAG_ROOM_ID"`
	Role       string    `env:"GEOTAG_ROLE" envDefault:"runner"`
	RegionID   string    `env:"GEOTAG_REGION"`

	// Empty URLs fall back to the database for judgment and profiles.
	JudgeURL    string `env:"GEOTAG_JUDGE_URL"`
	ProfileURL  string `env:"GEOTAG_PROFILE_URL"`
	RealtimeURL string `env:"GEOTAG_REALTIME_URL"`
	NATSURL     string `env:"NATS_URL"`
	AuthToken   string `env:"GEOTAG_AUTH_TOKEN"`

	DebugAddr string `env:"GEOTAG_DEBUG_ADDR" envDefault:":8089"`
	JudgeAddr string `env:"GEOTAG_JUDGE_ADDR"`

	DB  dbconfig.Config
	Log logging.Config
}

// LoadRuntime parses the environment into a Runtime
func LoadRuntime() (Runtime, error) {
	var cfg Runtime
	if err := env.Parse(&cfg); err != nil {
		return Runtime{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
