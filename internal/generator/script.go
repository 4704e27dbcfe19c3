package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/stream"
)

// Step is one scripted action. Exactly one of Message or Err is set.
type Step struct {
	Message stream.Message
	Err     error
	Delay   time.Duration
}

func TokenStep(text string) Step { return Step{Message: stream.Token{Text: text}} }

func ToolStartStep(tool string, input any) Step {
	return Step{Message: stream.ToolStart{Tool: tool, Input: mustRaw(input)}}
}

func ToolEndStep(tool string, output any) Step {
	return Step{Message: stream.ToolEnd{Tool: tool, Output: mustRaw(output)}}
}

func FailStep(msg string) Step { return Step{Err: errors.New(msg)} }

// Script plays back a fixed sequence of steps, ignoring the conversation.
type Script struct {
	Steps []Step
}

func NewScript(steps ...Step) *Script {
	return &Script{Steps: steps}
}

// Tokens scripts a reply that arrives as the given pieces.
func Tokens(pieces ...string) *Script {
	s := &Script{}
	for _, p := range pieces {
		s.Steps = append(s.Steps, TokenStep(p))
	}
	return s
}

func (s *Script) Generate(ctx context.Context, _ []chat.Turn, out chan<- stream.Message) error {
	for _, step := range s.Steps {
		if step.Delay > 0 {
			timer := time.NewTimer(step.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		if step.Err != nil {
			return step.Err
		}
		if step.Message == nil {
			continue
		}
		if err := Emit(ctx, out, step.Message); err != nil {
			return err
		}
	}
	return nil
}

// Echo replies with the user's last message, one word per token.
type Echo struct {
	Delay time.Duration
}

func (e Echo) Generate(ctx context.Context, conversation []chat.Turn, out chan<- stream.Message) error {
	text := lastUserTurn(conversation)
	words := strings.SplitAfter(text, " ")
	steps := make([]Step, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		steps = append(steps, Step{Message: stream.Token{Text: w}, Delay: e.Delay})
	}
	return (&Script{Steps: steps}).Generate(ctx, conversation, out)
}

func mustRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
