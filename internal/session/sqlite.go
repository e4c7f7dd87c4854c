package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/Yates-Labs/kalki/internal/engine"
)

// SQLiteStore persists scenario state as JSON rows.
type SQLiteStore struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a session database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		schema_version TEXT NOT NULL,
		state_json TEXT NOT NULL,
		concluded INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (engine.ScenarioState, error) {
	var raw string
	err := s.conn.GetContext(ctx, &raw, "SELECT state_json FROM sessions WHERE session_id = ?", sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ScenarioState{}, ErrNotFound
	}
	if err != nil {
		return engine.ScenarioState{}, fmt.Errorf("get session: %w", err)
	}

	var state engine.ScenarioState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return engine.ScenarioState{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return state, nil
}

func (s *SQLiteStore) Put(ctx context.Context, state engine.ScenarioState) error {
	if state.SessionID == "" {
		return errors.New("session ID is required")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	concluded := 0
	if state.Concluded {
		concluded = 1
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_id, user_id, schema_version, state_json, concluded, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		state.SessionID, state.UserID, engine.SchemaVersion, string(raw), concluded, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
