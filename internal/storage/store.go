package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/namikmesic/chatstream/internal/chat"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrEmptyChatID = errors.New("empty chat id")

// SessionStatus is how a streamed turn ended.
type SessionStatus string

const (
	StatusDone       SessionStatus = "done"
	StatusError      SessionStatus = "error"
	StatusIncomplete SessionStatus = "incomplete"
)

// SessionRecord summarizes one streamed turn as seen on the wire.
type SessionRecord struct {
	ID           uuid.UUID
	ChatID       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       SessionStatus
	ErrorMessage string
	Tokens       int
	ToolCalls    int
	Frames       int
	ParseErrors  int
	Bytes        int
}

// FrameRecord is one data line of a streamed turn.
type FrameRecord struct {
	TS    time.Time
	Index int
	Type  string
	Data  string
	Bytes int
}

// Store persists conversations and stream analytics.
type Store interface {
	Send(ctx context.Context, chatID, content string) error
	Store(ctx context.Context, chatID, content string, role chat.Role) error
	Messages(ctx context.Context, chatID string) ([]chat.Turn, error)
	RecordSession(ctx context.Context, rec SessionRecord, frames []FrameRecord) error
	Close() error
}

// Open connects the configured driver and applies its migrations.
func Open(ctx context.Context, driver, databaseURL, sqlitePath string) (Store, error) {
	switch driver {
	case DriverPostgres:
		return OpenPostgres(ctx, databaseURL)
	case DriverSQLite:
		return OpenSQLite(ctx, sqlitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// RecordSessionJob wraps a session write for the batch writer.
func RecordSessionJob(s Store, rec SessionRecord, frames []FrameRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context) error {
		if err := s.RecordSession(ctx, rec, frames); err != nil {
			return fmt.Errorf("record session %s: %w", rec.ID, err)
		}
		return nil
	})
}

func checkMessage(chatID string, role chat.Role) error {
	if chatID == "" {
		return ErrEmptyChatID
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	return nil
}
