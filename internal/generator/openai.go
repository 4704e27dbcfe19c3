package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/stream"
)

// OpenAI streams chat completions from any OpenAI-compatible endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	system      string
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: missing API key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai: missing model")
	}
	oc := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oc.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(oc),
		model:       strings.TrimSpace(cfg.Model),
		maxTokens:   int(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
		system:      strings.TrimSpace(cfg.SystemPrompt),
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, conversation []chat.Turn, out chan<- stream.Message) error {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    o.messages(conversation),
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Stream:      true,
	}

	s, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	defer s.Close()

	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("openai stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := Emit(ctx, out, stream.Token{Text: choice.Delta.Content}); err != nil {
				return err
			}
		}
	}
}

func (o *OpenAI) messages(conversation []chat.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(conversation)+1)
	if o.system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	}
	for _, t := range conversation {
		role := openai.ChatMessageRoleUser
		if t.Role == chat.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}
