package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"workbench/internal/chat"

	_ "modernc.org/sqlite"
)

// Archive 基于 SQLite (WAL 模式) 的本地会话留档；内存 store 仍是权威数据
// Archive keeps a local SQLite copy of sessions and messages, WAL mode.
// It is a best-effort collaborator of the in-memory store: the store stays
// authoritative, the archive just survives restarts.
type Archive struct {
	db   *sql.DB
	path string
}

// Open creates and initializes the archive database.
func Open(dbPath string) (*Archive, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("archive db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	a := &Archive{db: db, path: dbPath}
	if err := a.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return a, nil
}

func (a *Archive) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL DEFAULT '',
		agent        TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT 'text',
		metadata     TEXT NOT NULL DEFAULT '{}',
		hitl         TEXT NOT NULL DEFAULT '',
		streaming    INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// RecordMessage upserts the message row. Accumulation mutates a message
// many times; the last write per id wins, matching the in-memory state.
func (a *Archive) RecordMessage(ctx context.Context, msg chat.Message) error {
	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("message id is empty")
	}
	metadata := "{}"
	if data, err := json.Marshal(msg.Metadata); err == nil {
		metadata = string(data)
	}
	hitl := ""
	if msg.HITL != nil {
		if data, err := json.Marshal(msg.HITL); err == nil {
			hitl = string(data)
		}
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, content_type, metadata, hitl, streaming, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, content_type=excluded.content_type,
			metadata=excluded.metadata, hitl=excluded.hitl, streaming=excluded.streaming`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, string(msg.ContentType),
		metadata, hitl, boolToInt(msg.Streaming), msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// TouchSession bumps last_updated, inserting the session row if the
// archive has not seen it yet.
func (a *Archive) TouchSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("session id is empty")
	}
	now := nowUTC()
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, agent, created_at, last_updated)
		VALUES (?, '', '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_updated=excluded.last_updated`,
		id, now, now,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// SaveSession records full session metadata.
func (a *Archive) SaveSession(ctx context.Context, session chat.Session) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, agent, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, agent=excluded.agent, last_updated=excluded.last_updated`,
		session.ID, session.Title, session.AgentKind, session.CreatedAt, session.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ClearSessions mirrors a full store clear: every session and message row
// is dropped.
func (a *Archive) ClearSessions(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

// ListSessions returns archived sessions, most recently updated first.
func (a *Archive) ListSessions(ctx context.Context) ([]chat.Session, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, title, agent, created_at, last_updated
		FROM sessions ORDER BY last_updated DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		var s chat.Session
		if err := rows.Scan(&s.ID, &s.Title, &s.AgentKind, &s.CreatedAt, &s.LastUpdated); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// LoadMessages returns the session's archived messages in arrival order.
func (a *Archive) LoadMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, content, content_type, metadata, hitl, streaming, created_at
		FROM messages WHERE session_id=? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			metadata  string
			hitl      string
			streaming int
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.ContentType,
			&metadata, &hitl, &streaming, &msg.Timestamp); err != nil {
			continue
		}
		msg.SessionID = sessionID
		msg.Streaming = streaming != 0
		if metadata != "" && metadata != "{}" {
			_ = json.Unmarshal([]byte(metadata), &msg.Metadata)
		}
		if hitl != "" {
			var prompt chat.HITLPrompt
			if err := json.Unmarshal([]byte(hitl), &prompt); err == nil {
				msg.HITL = &prompt
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
