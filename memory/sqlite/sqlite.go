// Package sqlite provides a durable implementation of the conversation and
// working memory stores backed by a single SQLite database. Conversations and
// messages are relational rows; working memory is stored as one JSON payload
// per conversation with an indexed expiry column for purge sweeps.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/recordflow/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	subject_id       TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	archived         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	ordinal         INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	payload         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS working_memory (
	conversation_id TEXT PRIMARY KEY,
	payload         TEXT NOT NULL,
	expires_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_working_memory_expiry ON working_memory(expires_at);
`

// Store implements core.ConversationStore and core.WorkingMemoryStore on a
// SQLite database. Safe for concurrent use via database/sql pooling.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and enforces production-safe
// defaults: WAL journal mode and a 5-second busy timeout. The schema is
// applied idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a conversation row.
func (s *Store) Create(ctx context.Context, conv *core.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, subject_id, summary, created_at, last_activity_at, archived)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.SubjectID, conv.Summary,
		conv.CreatedAt.UnixMilli(), conv.LastActivityAt.UnixMilli(), boolToInt(conv.Archived),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get loads a conversation and its ordered message log.
func (s *Store) Get(ctx context.Context, conversationID string) (*core.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, subject_id, summary, created_at, last_activity_at, archived
		 FROM conversations WHERE id = ?`, conversationID)

	var (
		conv              core.Conversation
		createdMs, lastMs int64
		archived          int
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.SubjectID, &conv.Summary, &createdMs, &lastMs, &archived); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(createdMs).UTC()
	conv.LastActivityAt = time.UnixMilli(lastMs).UTC()
	conv.Archived = archived != 0

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM messages WHERE conversation_id = ? ORDER BY ordinal`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg core.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return &conv, nil
}

// AppendMessage inserts a message row and refreshes last activity, in one
// transaction so a partially-written turn is never visible.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg core.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ? WHERE id = ?`,
		time.Now().UTC().UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, payload) VALUES (?, ?, ?)`,
		msg.ID, conversationID, string(payload)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

// UpdateSummary replaces the rolling summary.
func (s *Store) UpdateSummary(ctx context.Context, conversationID, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary = ? WHERE id = ?`, summary, conversationID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Archive flags the conversation archived.
func (s *Store) Archive(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET archived = 1 WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// GetWorkingMemory loads working memory; expired rows are reported absent.
func (s *Store) GetWorkingMemory(ctx context.Context, conversationID string) (*core.WorkingMemory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM working_memory WHERE conversation_id = ?`, conversationID)

	var (
		payload   string
		expiresMs int64
	)
	if err := row.Scan(&payload, &expiresMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("scan working memory: %w", err)
	}

	if time.Now().UTC().After(time.UnixMilli(expiresMs)) {
		return nil, core.ErrNotFound
	}

	var wm core.WorkingMemory
	if err := json.Unmarshal([]byte(payload), &wm); err != nil {
		return nil, fmt.Errorf("decode working memory: %w", err)
	}
	return &wm, nil
}

// PutWorkingMemory overwrites the single working memory row per conversation.
func (s *Store) PutWorkingMemory(ctx context.Context, wm *core.WorkingMemory) error {
	payload, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("encode working memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO working_memory (conversation_id, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		wm.ConversationID, string(payload), wm.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert working memory: %w", err)
	}
	return nil
}

// DeleteWorkingMemory removes the row for a conversation.
func (s *Store) DeleteWorkingMemory(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete working memory: %w", err)
	}
	return nil
}

// PurgeExpiredWorkingMemory removes all rows whose expiry has passed.
func (s *Store) PurgeExpiredWorkingMemory(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge working memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// WorkingMemoryStore adapts the store to core.WorkingMemoryStore (the method
// names differ because both interfaces live on one Store).
func (s *Store) WorkingMemoryStore() core.WorkingMemoryStore { return workingMemoryView{s} }

type workingMemoryView struct{ s *Store }

func (v workingMemoryView) Get(ctx context.Context, conversationID string) (*core.WorkingMemory, error) {
	return v.s.GetWorkingMemory(ctx, conversationID)
}

func (v workingMemoryView) Put(ctx context.Context, wm *core.WorkingMemory) error {
	return v.s.PutWorkingMemory(ctx, wm)
}

func (v workingMemoryView) Delete(ctx context.Context, conversationID string) error {
	return v.s.DeleteWorkingMemory(ctx, conversationID)
}

func (v workingMemoryView) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return v.s.PurgeExpiredWorkingMemory(ctx, now)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
