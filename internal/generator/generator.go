// Package generator produces the assistant side of a turn as a sequence of
// protocol messages.
package generator

import (
	"context"
	"fmt"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/stream"
)

// Generator writes Token, ToolStart and ToolEnd messages to out until the
// reply is complete. It must return promptly once ctx is done and must not
// close out; the caller owns the channel.
type Generator interface {
	Generate(ctx context.Context, conversation []chat.Turn, out chan<- stream.Message) error
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, conversation []chat.Turn, out chan<- stream.Message) error

func (f Func) Generate(ctx context.Context, conversation []chat.Turn, out chan<- stream.Message) error {
	return f(ctx, conversation, out)
}

// Emit sends msg unless ctx ends first.
func Emit(ctx context.Context, out chan<- stream.Message, msg stream.Message) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindEcho      Kind = "echo"
)

type Config struct {
	Kind         Kind
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	Temperature  float64
	SystemPrompt string
}

// New builds the generator selected by cfg.Kind.
func New(cfg Config) (Generator, error) {
	switch cfg.Kind {
	case KindAnthropic:
		return NewAnthropic(cfg)
	case KindOpenAI:
		return NewOpenAI(cfg)
	case KindEcho, "":
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown generator %q", cfg.Kind)
	}
}

func lastUserTurn(conversation []chat.Turn) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role == chat.RoleUser {
			return conversation[i].Content
		}
	}
	return ""
}
