package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/mcdev12/geotag/go/internal/config"
	"github.com/rs/zerolog/log"
)

// loadEngine reads the engine YAML, falling back to the built-in defaults
// when the file does not exist. Connection settings from the environment
// override the file.
func loadEngine(rt config.Runtime) (config.Engine, error) {
	engine, err := config.Load(rt.ConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn().Str("path", rt.ConfigPath).Msg("engine config not found, using defaults")
		engine = config.Default()
	case err != nil:
		return config.Engine{}, err
	}

	if rt.NATSURL != "" {
		engine.NATS.URL = rt.NATSURL
	}
	if rt.RealtimeURL != "" {
		engine.WebSocket.URL = rt.RealtimeURL
	}
	engine.WebSocket.Token = rt.AuthToken
	engine.PGNotify.DatabaseURL = rt.DB.DSN()

	if err := engine.Validate(); err != nil {
		return config.Engine{}, err
	}
	if rt.RegionID != "" {
		if _, ok := engine.Region(rt.RegionID); !ok {
			return config.Engine{}, fmt.Errorf("unknown region %q", rt.RegionID)
		}
	}
	return engine, nil
}
