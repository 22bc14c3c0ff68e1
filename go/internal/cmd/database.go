package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/geotag/go/internal/config"
	"github.com/mcdev12/geotag/go/internal/store"
	"github.com/rs/zerolog/log"
)

func setupDatabase(ctx context.Context, rt config.Runtime, engine config.Engine) (*store.Store, error) {
	st, err := store.Open(ctx, rt.DB.DSN(), rt.UserID, engine.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	log.Info().Str("dsn", rt.DB.Redacted()).Msg("connected to database")
	return st, nil
}
