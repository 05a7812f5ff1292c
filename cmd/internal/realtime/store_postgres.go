// Package realtime contains the room server's websocket gateway, fan-out and
// message persistence.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// The pool is owned by the caller; Close is a no-op. Appends take a
// per-room transactional advisory lock so duplicates never consume a seq and
// ordering stays strict under concurrency.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "arc").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const pgMessageColumns = `room_id, client_msg_id, server_msg_id, seq, sender_id, sender_name, text, media_id, server_ts`

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if s == nil || s.pool == nil {
		return AppendMessageResult{}, errors.New("realtime: nil store")
	}
	if err := in.validate(); err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(s.schema, "rooms")
	cursors := pgIdent(s.schema, "room_cursors")
	messages := pgIdent(s.schema, "messages")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return AppendMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	// Rooms known only to an in-memory directory still need a row for the FKs.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+rooms+` (id, ref) VALUES ($1, $1)
		 ON CONFLICT DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	existing, err := scanPGMessage(tx.QueryRow(ctx,
		`SELECT `+pgMessageColumns+` FROM `+messages+`
		  WHERE room_id = $1 AND client_msg_id = $2`,
		in.ConversationID, in.ClientMsgID,
	))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendMessageResult{}, err
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (room_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (room_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE room_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, err
	}

	serverMsgID, err := mintID(idServerMsg, now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (`+pgMessageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.ConversationID, in.ClientMsgID, serverMsgID, seq, in.SenderID, in.SenderName, in.Text, in.MediaID, now,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendMessageResult{}, err
	}
	return AppendMessageResult{Stored: StoredMessage{
		ConversationID: in.ConversationID,
		ClientMsgID:    in.ClientMsgID,
		ServerMsgID:    serverMsgID,
		Seq:            seq,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Text:           in.Text,
		MediaID:        in.MediaID,
		ServerTS:       now,
	}}, nil
}

// FetchHistory returns messages ordered by seq ASC.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if s == nil || s.pool == nil {
		return FetchHistoryResult{}, errors.New("realtime: nil store")
	}
	if in.ConversationID == "" {
		return FetchHistoryResult{}, errors.New("missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := in.limit()
	fetch := limit + 1
	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case in.Latest:
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgMessageColumns+` FROM `+messages+`
			  WHERE room_id = $1
			  ORDER BY seq DESC
			  LIMIT $2`,
			in.ConversationID, fetch,
		)
	case in.AfterSeq == nil:
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgMessageColumns+` FROM `+messages+`
			  WHERE room_id = $1
			  ORDER BY seq ASC
			  LIMIT $2`,
			in.ConversationID, fetch,
		)
	default:
		rows, err = s.pool.Query(ctx,
			`SELECT `+pgMessageColumns+` FROM `+messages+`
			  WHERE room_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			in.ConversationID, *in.AfterSeq, fetch,
		)
	}
	if err != nil {
		return FetchHistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, fetch)
	for rows.Next() {
		m, err := scanPGMessage(rows)
		if err != nil {
			return FetchHistoryResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	return windowResult(msgs, limit, in.Latest), nil
}

func scanPGMessage(row pgx.Row) (StoredMessage, error) {
	var m StoredMessage
	err := row.Scan(
		&m.ConversationID,
		&m.ClientMsgID,
		&m.ServerMsgID,
		&m.Seq,
		&m.SenderID,
		&m.SenderName,
		&m.Text,
		&m.MediaID,
		&m.ServerTS,
	)
	return m, err
}

// windowResult trims an over-fetched page (limit+1 rows) and, for latest
// windows fetched newest-first, restores seq ASC order.
func windowResult(msgs []StoredMessage, limit int, latest bool) FetchHistoryResult {
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if latest {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return FetchHistoryResult{Messages: msgs, HasMore: hasMore}
}
