// SPDX-License-Identifier: MIT

package assistant

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS assistant_sessions (
	id               TEXT PRIMARY KEY,
	created_utc      TEXT NOT NULL,
	model            TEXT NOT NULL DEFAULT '',
	budget_remaining INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS assistant_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	ts_utc     TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assistant_messages_session ON assistant_messages(session_id, id);
`

// Session is one assistant conversation with its remaining tool budget.
type Session struct {
	ID              string
	CreatedUTC      string
	Model           string
	BudgetRemaining int
}

// Message is one stored conversation turn.
type Message struct {
	Role    string
	Content string
	TsUTC   string
}

// sessionStore persists sessions and their message history in the
// orchestrator database.
type sessionStore struct {
	conn *sql.DB
	now  func() time.Time
}

func openSessionStore(path string) (*sessionStore, error) {
	conn, err := db.OpenRW(path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(sessionSchema); err != nil {
		_ = conn.Close()
		return nil, db.WrapDBError("create assistant schema", err)
	}
	return &sessionStore{conn: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *sessionStore) Close() error { return s.conn.Close() }

// getOrCreate loads the session, creating it with the given budget ceiling
// when id is empty or unknown.
func (s *sessionStore) getOrCreate(ctx context.Context, id, model string, budget int) (*Session, error) {
	if id != "" {
		var sess Session
		err := s.conn.QueryRowContext(ctx,
			`SELECT id, created_utc, model, budget_remaining FROM assistant_sessions WHERE id = ?`, id).
			Scan(&sess.ID, &sess.CreatedUTC, &sess.Model, &sess.BudgetRemaining)
		if err == nil {
			return &sess, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, db.WrapDBError("load session", err)
		}
	}
	sess := Session{
		ID:              id,
		CreatedUTC:      db.FormatUTC(s.now()),
		Model:           model,
		BudgetRemaining: budget,
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO assistant_sessions (id, created_utc, model, budget_remaining) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.CreatedUTC, sess.Model, sess.BudgetRemaining)
	if err != nil {
		return nil, db.WrapDBError("create session", err)
	}
	return &sess, nil
}

func (s *sessionStore) setBudget(ctx context.Context, id string, remaining int) error {
	if remaining < 0 {
		remaining = 0
	}
	_, err := s.conn.ExecContext(ctx,
		`UPDATE assistant_sessions SET budget_remaining = ? WHERE id = ?`, remaining, id)
	if err != nil {
		return db.WrapDBError("update session budget", err)
	}
	return nil
}

func (s *sessionStore) appendMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO assistant_messages (session_id, ts_utc, role, content) VALUES (?, ?, ?, ?)`,
		sessionID, db.FormatUTC(s.now()), role, content)
	if err != nil {
		return db.WrapDBError("append message", err)
	}
	return nil
}

// history returns the most recent messages, oldest first.
func (s *sessionStore) history(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT role, content, ts_utc FROM (
			SELECT id, role, content, ts_utc FROM assistant_messages
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, sessionID, limit)
	if err != nil {
		return nil, db.WrapDBError("load history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.TsUTC); err != nil {
			return nil, db.WrapDBError("scan message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// session is looked up by callers that must not create one implicitly.
func (s *sessionStore) session(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, created_utc, model, budget_remaining FROM assistant_sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.CreatedUTC, &sess.Model, &sess.BudgetRemaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, db.WrapDBError("load session", err)
	}
	return &sess, nil
}
