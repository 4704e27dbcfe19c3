package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/storage/migrations"
)

// SQLite is a single-file store for local runs and tests. Use ":memory:"
// for a throwaway database.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: missing path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=3000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for _, name := range migrations.SQLite {
		schema, err := migrations.FS.ReadFile(name)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(schema)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Send(ctx context.Context, chatID, content string) error {
	return s.Store(ctx, chatID, content, chat.RoleUser)
}

func (s *SQLite) Store(ctx context.Context, chatID, content string, role chat.Role) error {
	if err := checkMessage(chatID, role); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), chatID, string(role), content, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLite) Messages(ctx context.Context, chatID string) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		turns = append(turns, chat.Turn{Role: chat.Role(role), Content: content})
	}
	return turns, rows.Err()
}

func (s *SQLite) RecordSession(ctx context.Context, rec SessionRecord, frames []FrameRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_sessions (
			id, chat_id, started_at, finished_at, status, error_message,
			tokens, tool_calls, frames, parse_errors, bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.ChatID, rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
		string(rec.Status), rec.ErrorMessage,
		rec.Tokens, rec.ToolCalls, rec.Frames, rec.ParseErrors, rec.Bytes,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if len(frames) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO stream_frames (ts, session_id, frame_index, frame_type, data_json, raw_bytes)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare frames: %w", err)
		}
		defer stmt.Close()
		for _, f := range frames {
			if _, err := stmt.ExecContext(ctx, f.TS.UnixNano(), rec.ID.String(), f.Index, f.Type, f.Data, f.Bytes); err != nil {
				return fmt.Errorf("insert frame %d: %w", f.Index, err)
			}
		}
	}
	return tx.Commit()
}

// Session loads a recorded summary.
func (s *SQLite) Session(ctx context.Context, id uuid.UUID) (SessionRecord, error) {
	var (
		rec               SessionRecord
		started, finished int64
		status            string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, started_at, finished_at, status, error_message,
		       tokens, tool_calls, frames, parse_errors, bytes
		FROM chat_sessions WHERE id = ?`, id.String(),
	).Scan(&rec.ChatID, &started, &finished, &status, &rec.ErrorMessage,
		&rec.Tokens, &rec.ToolCalls, &rec.Frames, &rec.ParseErrors, &rec.Bytes)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load session %s: %w", id, err)
	}
	rec.ID = id
	rec.StartedAt = time.Unix(0, started)
	rec.FinishedAt = time.Unix(0, finished)
	rec.Status = SessionStatus(status)
	return rec, nil
}

// FrameCount returns the number of frame rows stored for a session.
func (s *SQLite) FrameCount(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stream_frames WHERE session_id = ?`, id.String()).Scan(&n)
	return n, err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
