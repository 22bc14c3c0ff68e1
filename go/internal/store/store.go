package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/mcdev12/geotag/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player state not found")
)

// Config holds store settings
type Config struct {
	// CaptureRadius is the distance judge_capture accepts, in meters.
	CaptureRadius   float64       `yaml:"capture_radius_m"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultConfig returns default store settings
func DefaultConfig() Config {
	return Config{
		CaptureRadius:   15,
		MaxOpenConns:    4,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store is the engine's remote backend over Postgres. Every write is made on
// behalf of the authenticated user it was built for.
type Store struct {
	db      *sql.DB
	queries *Queries
	userID  uuid.UUID
	cfg     Config
}

// Open connects to Postgres and verifies the connection
func Open(ctx context.Context, dsn string, userID uuid.UUID, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewStore(db, userID, cfg), nil
}

// NewStore wraps an open database handle
func NewStore(db *sql.DB, userID uuid.UUID, cfg Config) *Store {
	if cfg.CaptureRadius <= 0 {
		cfg.CaptureRadius = DefaultConfig().CaptureRadius
	}
	return &Store{db: db, queries: New(db), userID: userID, cfg: cfg}
}

func (s *Store) DB() *sql.DB       { return s.db }
func (s *Store) UserID() uuid.UUID { return s.userID }
func (s *Store) Close() error      { return s.db.Close() }

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) FetchRoom(ctx context.Context, roomID uuid.UUID) (models.Room, error) {
	row, err := s.queries.GetRoom(ctx, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to fetch room: %w", err)
	}
	return roomFromRow(row), nil
}

func (s *Store) FetchPlayerStates(ctx context.Context, roomID uuid.UUID) ([]models.PlayerState, error) {
	rows, err := s.queries.ListPlayerStates(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch player states: %w", err)
	}

	out := make([]models.PlayerState, 0, len(rows))
	for _, row := range rows {
		p, err := playerFromRow(row)
		if err != nil {
			// one bad effects blob must not hide the rest of the room
			log.Warn().Err(err).Str("user_id", row.UserID.String()).Msg("skipping undecodable player state")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) FetchProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.queries.ListProfiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profiles: %w", err)
	}
	out := make([]models.Profile, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.Profile{
			UserID:      row.ID,
			DisplayName: row.DisplayName,
			AvatarURL:   sqlutil.FromSqlStringPtr(row.AvatarURL),
		})
	}
	return out, nil
}

// UpsertProfile stores the display identity of a user
func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) error {
	err := s.queries.UpsertProfile(ctx, profileRow{
		ID:          p.UserID,
		DisplayName: p.DisplayName,
		AvatarURL:   sqlutil.ToSqlString(p.AvatarURL),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// UpsertPlayerState writes role and status, and position and effects when
// set. Unset position or effects keep the stored values.
func (s *Store) UpsertPlayerState(ctx context.Context, u models.PlayerUpsert) error {
	params := upsertPlayerStateParams{
		RoomID: u.RoomID,
		UserID: u.UserID,
		Role:   string(u.Role),
		Status: string(u.Status),
	}
	if u.Position != nil {
		params.Latitude = sqlutil.ToSqlFloat64(&u.Position.Lat)
		params.Longitude = sqlutil.ToSqlFloat64(&u.Position.Lng)
	}
	if u.Effects != nil {
		raw, err := json.Marshal(u.Effects)
		if err != nil {
			return fmt.Errorf("failed to encode effects: %w", err)
		}
		params.Effects = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	if err := s.queries.UpsertPlayerState(ctx, params); err != nil {
		return fmt.Errorf("failed to upsert player state: %w", err)
	}
	return nil
}

func (s *Store) DeletePlayerState(ctx context.Context, roomID, userID uuid.UUID) error {
	n, err := s.queries.DeletePlayerState(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete player state: %w", err)
	}
	if n == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// UpdateRoom applies patch and returns the stored room
func (s *Store) UpdateRoom(ctx context.Context, roomID uuid.UUID, patch models.RoomPatch) (models.Room, error) {
	params := updateRoomParams{ID: roomID}
	if patch.Status != nil {
		status := string(*patch.Status)
		params.Status = sqlutil.ToSqlString(&status)
	}
	params.RegionID = sqlutil.ToSqlString(patch.RegionID)
	params.Winner = sqlutil.ToSqlString(patch.Winner)

	row, err := s.queries.UpdateRoom(ctx, params)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to update room: %w", err)
	}
	return roomFromRow(row), nil
}

// CreateRoom creates a waiting room owned by the store's user and seats the
// creator in it with the given role.
func (s *Store) CreateRoom(ctx context.Context, regionID string, role models.Role) (models.Room, error) {
	var room models.Room
	err := sqlutil.Run(ctx, s.db, s.queries.WithTx, func(q *Queries) error {
		row, err := q.CreateRoom(ctx, createRoomParams{
			ID:        uuid.New(),
			Status:    string(models.RoomStatusWaiting),
			RegionID:  regionID,
			CreatedBy: s.userID,
		})
		if err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}
		room = roomFromRow(row)

		return q.UpsertPlayerState(ctx, upsertPlayerStateParams{
			RoomID: room.ID,
			UserID: s.userID,
			Role:   string(role),
			Status: string(models.PlayerStatusReady),
		})
	})
	if err != nil {
		return models.Room{}, fmt.Errorf("failed to create room: %w", err)
	}
	return room, nil
}

// PublishEvent records a game event for the room's subscribers
func (s *Store) PublishEvent(ctx context.Context, ev models.GameEvent) (models.GameEvent, error) {
	id, at, err := s.queries.InsertGameEvent(ctx, insertGameEventParams{
		RoomID:   ev.RoomID,
		Kind:     string(ev.Kind),
		ActorID:  sqlutil.ToNullUUID(ev.ActorID),
		TargetID: sqlutil.ToNullUUID(ev.TargetID),
		Message:  ev.Message,
	})
	if err != nil {
		return models.GameEvent{}, err
	}
	ev.ID = id
	ev.CreatedAt = at
	return ev, nil
}

// JudgeCapture asks the database to judge a capture of targetID by the
// store's user. The result is returned as the server produced it.
func (s *Store) JudgeCapture(ctx context.Context, roomID, targetID uuid.UUID) (models.CaptureResult, error) {
	return s.JudgeCaptureBy(ctx, roomID, s.userID, targetID)
}

// JudgeCaptureBy judges a capture on behalf of hunterID
func (s *Store) JudgeCaptureBy(ctx context.Context, roomID, hunterID, targetID uuid.UUID) (models.CaptureResult, error) {
	raw, err := s.queries.JudgeCapture(ctx, roomID, hunterID, targetID, s.cfg.CaptureRadius)
	if err != nil {
		return models.CaptureResult{}, fmt.Errorf("failed to judge capture: %w", err)
	}
	var result models.CaptureResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.CaptureResult{}, fmt.Errorf("failed to decode capture result: %w", err)
	}
	return result, nil
}

func roomFromRow(r roomRow) models.Room {
	return models.Room{
		ID:        r.ID,
		Status:    models.RoomStatus(r.Status),
		RegionID:  r.RegionID,
		CreatedBy: r.CreatedBy,
		Winner:    sqlutil.FromSqlStringPtr(r.Winner),
		CreatedAt: r.CreatedAt,
		EndedAt:   sqlutil.FromSqlTime(r.EndedAt),
		UpdatedAt: r.UpdatedAt,
	}
}

func playerFromRow(r playerStateRow) (models.PlayerState, error) {
	p := models.PlayerState{
		RoomID:    r.RoomID,
		UserID:    r.UserID,
		Role:      models.Role(r.Role),
		Status:    models.PlayerStatus(r.Status),
		Latitude:  sqlutil.FromSqlFloat64(r.Latitude),
		Longitude: sqlutil.FromSqlFloat64(r.Longitude),
		UpdatedAt: r.UpdatedAt,
	}
	if r.Effects.Valid {
		effects, err := models.DecodeEffects(r.Effects.RawMessage)
		if err != nil {
			return models.PlayerState{}, err
		}
		p.Effects = effects
	}
	return p, nil
}
