package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/geotag/go/internal/dbconfig"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/store"
)

func main() {
	profilesPath := flag.String("profiles", "go/internal/assets/profiles.json", "profiles JSON file")
	region := flag.String("region", "", "region id stored on the room")
	migrate := flag.Bool("migrate", true, "apply the schema first")
	flag.Parse()

	ctx := context.Background()

	// 1) Load profiles.json
	data, err := os.ReadFile(*profilesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read profiles: %v\n", err)
		os.Exit(1)
	}
	var profiles []models.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal profiles: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "no profiles to seed")
		os.Exit(1)
	}

	// 2) Connect to DB
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "db config: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Schema; no arguments, so pgx runs it as one simple-protocol batch
	if *migrate {
		if _, err := pool.Exec(ctx, store.Schema); err != nil {
			fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Schema applied")
	}

	// 4) Seed profiles
	total, inserted, skipped, errs := len(profiles), 0, 0, 0
	for _, p := range profiles {
		tag, err := pool.Exec(ctx, `
            INSERT INTO profiles (id, display_name, avatar_url)
            VALUES ($1, $2, $3)
            ON CONFLICT (id) DO NOTHING
        `, p.UserID, p.DisplayName, p.AvatarURL)
		if err != nil {
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Printf(
		"Profiles seed: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs,
	)

	// 5) Seed a waiting room owned by the first profile, everyone else seated
	// as runners and the owner as hunter
	roomID := uuid.New()
	owner := profiles[0].UserID
	if _, err := pool.Exec(ctx, `
        INSERT INTO rooms (id, status, region_id, created_by)
        VALUES ($1, 'waiting', $2, $3)
    `, roomID, *region, owner); err != nil {
		fmt.Fprintf(os.Stderr, "insert room: %v\n", err)
		os.Exit(1)
	}

	seated := 0
	for i, p := range profiles {
		role := models.RoleRunner
		if i == 0 {
			role = models.RoleHunter
		}
		if _, err := pool.Exec(ctx, `
            INSERT INTO player_states (room_id, user_id, role, status)
            VALUES ($1, $2, $3, 'ready')
        `, roomID, p.UserID, string(role)); err != nil {
			fmt.Fprintf(os.Stderr, "seat %s: %v\n", p.UserID, err)
			continue
		}
		seated++
	}
	fmt.Printf("Room seed: id=%s owner=%s seated=%d\n", roomID, owner, seated)
}
