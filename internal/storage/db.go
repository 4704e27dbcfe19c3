package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/storage/migrations"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, name := range migrations.Postgres {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err = pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
	}
	log.Info().Msg("database migrations applied")
	return nil
}

// Postgres is the production store.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Send(ctx context.Context, chatID, content string) error {
	return p.Store(ctx, chatID, content, chat.RoleUser)
}

func (p *Postgres) Store(ctx context.Context, chatID, content string, role chat.Role) error {
	if err := checkMessage(chatID, role); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), chatID, string(role), content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p *Postgres) Messages(ctx context.Context, chatID string) ([]chat.Turn, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT role, content FROM messages WHERE chat_id = $1 ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Turn, error) {
		var t chat.Turn
		var role string
		err := row.Scan(&role, &t.Content)
		t.Role = chat.Role(role)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return turns, nil
}

// RecordSession inserts the summary and bulk-loads its frames with COPY.
func (p *Postgres) RecordSession(ctx context.Context, rec SessionRecord, frames []FrameRecord) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO chat_sessions (
				id, chat_id, started_at, finished_at, status, error_message,
				tokens, tool_calls, frames, parse_errors, bytes
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.ChatID, rec.StartedAt, rec.FinishedAt, string(rec.Status), rec.ErrorMessage,
			rec.Tokens, rec.ToolCalls, rec.Frames, rec.ParseErrors, rec.Bytes,
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if len(frames) == 0 {
			return nil
		}

		rows := make([][]interface{}, len(frames))
		for i, f := range frames {
			rows[i] = []interface{}{f.TS, rec.ID, f.Index, f.Type, f.Data, f.Bytes}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"stream_frames"},
			[]string{"ts", "session_id", "frame_index", "frame_type", "data_json", "raw_bytes"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy frames: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
