package chat

import (
	"errors"
	"fmt"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// MaxMessages caps the prior turns accepted in one request.
	MaxMessages = 100
	// MaxContentBytes caps a single turn's content.
	MaxContentBytes = 100000
)

var ErrInvalidRequest = errors.New("invalid chat request")

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the inbound body of POST /api/chat/stream.
type Request struct {
	Messages   []Turn `json:"messages"`
	NewMessage string `json:"newMessage"`
	ChatID     string `json:"chatId"`
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Validate reports the first problem found, wrapped in ErrInvalidRequest.
func (r *Request) Validate() error {
	if r.ChatID == "" {
		return fmt.Errorf("%w: missing chatId", ErrInvalidRequest)
	}
	if r.NewMessage == "" {
		return fmt.Errorf("%w: missing newMessage", ErrInvalidRequest)
	}
	if len(r.NewMessage) > MaxContentBytes {
		return fmt.Errorf("%w: newMessage exceeds %d bytes", ErrInvalidRequest, MaxContentBytes)
	}
	if len(r.Messages) > MaxMessages {
		return fmt.Errorf("%w: more than %d messages", ErrInvalidRequest, MaxMessages)
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidRequest, i, m.Role)
		}
		if len(m.Content) > MaxContentBytes {
			return fmt.Errorf("%w: message %d exceeds %d bytes", ErrInvalidRequest, i, MaxContentBytes)
		}
	}
	return nil
}

// Conversation returns the prior turns followed by the new user turn.
func (r *Request) Conversation() []Turn {
	turns := make([]Turn, 0, len(r.Messages)+1)
	turns = append(turns, r.Messages...)
	return append(turns, Turn{Role: RoleUser, Content: r.NewMessage})
}
