package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Row types mirror the tables column for column

type roomRow struct {
	ID        uuid.UUID
	Status    string
	RegionID  string
	CreatedBy uuid.UUID
	Winner    sql.NullString
	CreatedAt time.Time
	EndedAt   sql.NullTime
	UpdatedAt time.Time
}

type playerStateRow struct {
	RoomID    uuid.UUID
	UserID    uuid.UUID
	Role      string
	Status    string
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
	Effects   pqtype.NullRawMessage
	UpdatedAt time.Time
}

type profileRow struct {
	ID          uuid.UUID
	DisplayName string
	AvatarURL   sql.NullString
}

const roomColumns = `id, status, region_id, created_by, winner, created_at, ended_at, updated_at`

func scanRoom(row interface{ Scan(...any) error }) (roomRow, error) {
	var r roomRow
	err := row.Scan(&r.ID, &r.Status, &r.RegionID, &r.CreatedBy, &r.Winner, &r.CreatedAt, &r.EndedAt, &r.UpdatedAt)
	return r, err
}

const getRoom = `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`

func (q *Queries) GetRoom(ctx context.Context, id uuid.UUID) (roomRow, error) {
	return scanRoom(q.db.QueryRowContext(ctx, getRoom, id))
}

const createRoom = `
INSERT INTO rooms (id, status, region_id, created_by)
VALUES ($1, $2, $3, $4)
RETURNING ` + roomColumns

type createRoomParams struct {
	ID        uuid.UUID
	Status    string
	RegionID  string
	CreatedBy uuid.UUID
}

func (q *Queries) CreateRoom(ctx context.Context, arg createRoomParams) (roomRow, error) {
	return scanRoom(q.db.QueryRowContext(ctx, createRoom, arg.ID, arg.Status, arg.RegionID, arg.CreatedBy))
}

const updateRoom = `
UPDATE rooms SET
    status     = COALESCE($2::text, status),
    region_id  = COALESCE($3::text, region_id),
    winner     = CASE WHEN $2::text = 'waiting' THEN NULL ELSE COALESCE($4::text, winner) END,
    ended_at   = CASE
                   WHEN $2::text = 'ended' THEN now()
                   WHEN $2::text = 'waiting' THEN NULL
                   ELSE ended_at
                 END,
    updated_at = now()
WHERE id = $1
RETURNING ` + roomColumns

type updateRoomParams struct {
	ID       uuid.UUID
	Status   sql.NullString
	RegionID sql.NullString
	Winner   sql.NullString
}

func (q *Queries) UpdateRoom(ctx context.Context, arg updateRoomParams) (roomRow, error) {
	return scanRoom(q.db.QueryRowContext(ctx, updateRoom, arg.ID, arg.Status, arg.RegionID, arg.Winner))
}

const listPlayerStates = `
SELECT room_id, user_id, role, status, latitude, longitude, effects, updated_at
FROM player_states
WHERE room_id = $1
ORDER BY user_id`

func (q *Queries) ListPlayerStates(ctx context.Context, roomID uuid.UUID) ([]playerStateRow, error) {
	rows, err := q.db.QueryContext(ctx, listPlayerStates, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []playerStateRow
	for rows.Next() {
		var i playerStateRow
		if err := rows.Scan(&i.RoomID, &i.UserID, &i.Role, &i.Status, &i.Latitude, &i.Longitude, &i.Effects, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertPlayerState = `
INSERT INTO player_states (room_id, user_id, role, status, latitude, longitude, effects, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (room_id, user_id) DO UPDATE SET
    role       = EXCLUDED.role,
    status     = EXCLUDED.status,
    latitude   = COALESCE(EXCLUDED.latitude, player_states.latitude),
    longitude  = COALESCE(EXCLUDED.longitude, player_states.longitude),
    effects    = COALESCE(EXCLUDED.effects, player_states.effects),
    updated_at = now()`

type upsertPlayerStateParams struct {
	RoomID    uuid.UUID
	UserID    uuid.UUID
	Role      string
	Status    string
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
	Effects   pqtype.NullRawMessage
}

func (q *Queries) UpsertPlayerState(ctx context.Context, arg upsertPlayerStateParams) error {
	_, err := q.db.ExecContext(ctx, upsertPlayerState,
		arg.RoomID, arg.UserID, arg.Role, arg.Status, arg.Latitude, arg.Longitude, arg.Effects)
	return err
}

const deletePlayerState = `DELETE FROM player_states WHERE room_id = $1 AND user_id = $2`

func (q *Queries) DeletePlayerState(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	res, err := q.db.ExecContext(ctx, deletePlayerState, roomID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listProfiles = `SELECT id, display_name, avatar_url FROM profiles WHERE id = ANY($1::uuid[])`

func (q *Queries) ListProfiles(ctx context.Context, ids []uuid.UUID) ([]profileRow, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	rows, err := q.db.QueryContext(ctx, listProfiles, pq.Array(strs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []profileRow
	for rows.Next() {
		var i profileRow
		if err := rows.Scan(&i.ID, &i.DisplayName, &i.AvatarURL); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertProfile = `
INSERT INTO profiles (id, display_name, avatar_url) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`

func (q *Queries) UpsertProfile(ctx context.Context, p profileRow) error {
	_, err := q.db.ExecContext(ctx, upsertProfile, p.ID, p.DisplayName, p.AvatarURL)
	return err
}

const judgeCapture = `SELECT judge_capture($1, $2, $3, $4)`

func (q *Queries) JudgeCapture(ctx context.Context, roomID, hunterID, targetID uuid.UUID, maxDistance float64) (json.RawMessage, error) {
	var raw []byte
	if err := q.db.QueryRowContext(ctx, judgeCapture, roomID, hunterID, targetID, maxDistance).Scan(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

const insertGameEvent = `
INSERT INTO game_events (room_id, kind, actor_id, target_id, message)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`

type insertGameEventParams struct {
	RoomID   uuid.UUID
	Kind     string
	ActorID  uuid.NullUUID
	TargetID uuid.NullUUID
	Message  string
}

func (q *Queries) InsertGameEvent(ctx context.Context, arg insertGameEventParams) (uuid.UUID, time.Time, error) {
	var (
		id uuid.UUID
		at time.Time
	)
	err := q.db.QueryRowContext(ctx, insertGameEvent,
		arg.RoomID, arg.Kind, arg.ActorID, arg.TargetID, arg.Message,
	).Scan(&id, &at)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("insert game event: %w", err)
	}
	return id, at, nil
}
