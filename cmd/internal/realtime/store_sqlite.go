package realtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriver = "sqlite"
	sqliteDSNOpt = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	room_id       TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	server_msg_id TEXT NOT NULL UNIQUE,
	client_msg_id TEXT NOT NULL,
	sender_id     TEXT NOT NULL,
	sender_name   TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL DEFAULT '',
	media_id      TEXT NOT NULL DEFAULT '',
	server_ts     INTEGER NOT NULL,
	PRIMARY KEY (room_id, seq),
	UNIQUE (room_id, client_msg_id)
);`

// SQLiteStore is a file-backed MessageStore for single-node deployments.
//
// Writes are serialized in-process; seq is derived from MAX(seq) inside the
// write transaction. Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("realtime: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("realtime: sqlite create dir: %w", err)
	}
	db, err := sql.Open(sqliteDriver, path+sqliteDSNOpt)
	if err != nil {
		return nil, fmt.Errorf("realtime: sqlite open: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("realtime: sqlite migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteMessageColumns = `room_id, client_msg_id, server_msg_id, seq, sender_id, sender_name, text, media_id, server_ts`

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanSQLiteMessage(tx.QueryRowContext(ctx,
		`SELECT `+sqliteMessageColumns+` FROM messages WHERE room_id = ? AND client_msg_id = ?`,
		in.ConversationID, in.ClientMsgID,
	))
	if err == nil {
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE room_id = ?`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, err
	}

	serverMsgID, err := mintID(idServerMsg, now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (`+sqliteMessageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ConversationID, in.ClientMsgID, serverMsgID, seq, in.SenderID, in.SenderName, in.Text, in.MediaID, now.UnixMilli(),
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
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
		ServerTS:       time.UnixMilli(now.UnixMilli()).UTC(),
	}}, nil
}

// FetchHistory returns messages ordered by seq ASC.
func (s *SQLiteStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.ConversationID == "" {
		return FetchHistoryResult{}, errors.New("missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := in.limit()
	fetch := limit + 1

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case in.Latest:
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteMessageColumns+` FROM messages WHERE room_id = ? ORDER BY seq DESC LIMIT ?`,
			in.ConversationID, fetch)
	case in.AfterSeq == nil:
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteMessageColumns+` FROM messages WHERE room_id = ? ORDER BY seq ASC LIMIT ?`,
			in.ConversationID, fetch)
	default:
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteMessageColumns+` FROM messages WHERE room_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
			in.ConversationID, *in.AfterSeq, fetch)
	}
	if err != nil {
		return FetchHistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, fetch)
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
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

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row sqlScanner) (StoredMessage, error) {
	var (
		m  StoredMessage
		ts int64
	)
	if err := row.Scan(
		&m.ConversationID,
		&m.ClientMsgID,
		&m.ServerMsgID,
		&m.Seq,
		&m.SenderID,
		&m.SenderName,
		&m.Text,
		&m.MediaID,
		&ts,
	); err != nil {
		return StoredMessage{}, err
	}
	m.ServerTS = time.UnixMilli(ts).UTC()
	return m, nil
}
