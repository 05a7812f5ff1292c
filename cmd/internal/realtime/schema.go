package realtime

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the PostgreSQL schema used when none is configured.
const DefaultSchema = "arc"

// PostgresSchemaSQL returns the DDL for the room tables inside schema.
// Statements are idempotent.
func PostgresSchemaSQL(schema string) string {
	rooms := pgIdent(schema, "rooms")
	members := pgIdent(schema, "room_members")
	cursors := pgIdent(schema, "room_cursors")
	messages := pgIdent(schema, "messages")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[5]s;

CREATE TABLE IF NOT EXISTS %[1]s (
  id         TEXT PRIMARY KEY,
  ref        TEXT NOT NULL UNIQUE,
  visibility TEXT NOT NULL DEFAULT 'public' CHECK (visibility IN ('public', 'private')),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[2]s (
  room_id    TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  user_id    TEXT NOT NULL,
  joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS %[3]s (
  room_id    TEXT PRIMARY KEY REFERENCES %[1]s(id) ON DELETE CASCADE,
  next_seq   BIGINT NOT NULL DEFAULT 1,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[4]s (
  room_id       TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  seq           BIGINT NOT NULL,
  server_msg_id TEXT NOT NULL,
  client_msg_id TEXT NOT NULL,
  sender_id     TEXT NOT NULL,
  sender_name   TEXT NOT NULL DEFAULT '',
  text          TEXT NOT NULL DEFAULT '',
  media_id      TEXT NOT NULL DEFAULT '',
  server_ts     TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (room_id, seq),
  CONSTRAINT uq_messages_room_client_msg UNIQUE (room_id, client_msg_id),
  CONSTRAINT uq_messages_server_msg_id UNIQUE (server_msg_id),
  CONSTRAINT chk_messages_body CHECK (char_length(text) <= 4096 AND (text <> '' OR media_id <> ''))
);

CREATE INDEX IF NOT EXISTS idx_messages_room_seq_desc ON %[4]s (room_id, seq DESC);
`, rooms, members, cursors, messages, pgx.Identifier{schema}.Sanitize())
}

// ApplyPostgresSchema creates the room tables if they do not exist.
func ApplyPostgresSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !isValidPGIdent(schema) {
		return fmt.Errorf("realtime: invalid schema identifier %q", schema)
	}
	if _, err := pool.Exec(ctx, PostgresSchemaSQL(schema)); err != nil {
		return fmt.Errorf("realtime: apply schema: %w", err)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

// PGIdent returns the quoted schema.table identifier.
func PGIdent(schema, table string) string { return pgIdent(schema, table) }

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
