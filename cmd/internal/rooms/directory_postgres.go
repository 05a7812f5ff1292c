package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arcfeed/cmd/internal/realtime"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads rooms and memberships from the rooms and
// room_members tables.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresDirectory constructs a directory backed by PostgreSQL.
func NewPostgresDirectory(pool *pgxpool.Pool, schema string) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("rooms: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = realtime.DefaultSchema
	}
	return &PostgresDirectory{pool: pool, schema: schema}, nil
}

// Resolve implements Directory.
func (d *PostgresDirectory) Resolve(ctx context.Context, ref string) (Room, error) {
	rooms := realtime.PGIdent(d.schema, "rooms")

	var r Room
	err := d.pool.QueryRow(ctx,
		`SELECT id, ref, visibility FROM `+rooms+` WHERE ref = $1 OR id = $2 LIMIT 1`,
		NormalizeRef(ref), strings.TrimSpace(ref),
	).Scan(&r.ID, &r.Ref, &r.Visibility)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, fmt.Errorf("%w: %q", ErrRoomNotFound, ref)
	}
	if err != nil {
		return Room{}, fmt.Errorf("rooms: resolve %q: %w", ref, err)
	}
	return r, nil
}

// IsMember implements Directory.
func (d *PostgresDirectory) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	roomID = strings.TrimSpace(roomID)
	if userID == "" || roomID == "" {
		return false, nil
	}

	rooms := realtime.PGIdent(d.schema, "rooms")
	members := realtime.PGIdent(d.schema, "room_members")

	var ok bool
	err := d.pool.QueryRow(ctx,
		`SELECT r.visibility = 'public'
		        OR EXISTS (SELECT 1 FROM `+members+` m WHERE m.room_id = r.id AND m.user_id = $2)
		   FROM `+rooms+` r
		  WHERE r.id = $1`,
		roomID, userID,
	).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rooms: membership %q/%q: %w", roomID, userID, err)
	}
	return ok, nil
}

// Upsert creates or updates a room and its member list.
func (d *PostgresDirectory) Upsert(ctx context.Context, r Room) error {
	if r.Visibility == "" {
		r.Visibility = VisibilityPublic
	}
	rooms := realtime.PGIdent(d.schema, "rooms")
	members := realtime.PGIdent(d.schema, "room_members")

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+rooms+` (id, ref, visibility) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET ref = EXCLUDED.ref, visibility = EXCLUDED.visibility`,
		r.ID, NormalizeRef(r.Ref), r.Visibility,
	); err != nil {
		return fmt.Errorf("rooms: upsert %q: %w", r.ID, err)
	}
	for _, m := range r.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+members+` (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			r.ID, m,
		); err != nil {
			return fmt.Errorf("rooms: add member %q: %w", m, err)
		}
	}
	return tx.Commit(ctx)
}
