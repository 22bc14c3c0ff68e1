package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

// Schema creates the tables, notification triggers and judge_capture. It is
// idempotent.
//
//go:embed schema.sql
var Schema string

// Migrate applies Schema
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
