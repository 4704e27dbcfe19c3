// Package render keeps the client-side view of a conversation up to date as
// protocol messages arrive.
package render

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/content"
	"github.com/namikmesic/chatstream/internal/stream"
)

var ErrInFlight = errors.New("a response is already streaming")

// StreamError is a generator or transport failure reported mid-stream
// through an Error message.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// Message is one entry in the finished conversation.
type Message struct {
	Role       chat.Role
	Content    string
	Optimistic bool
}

// Snapshot is what an observer sees after every change.
type Snapshot struct {
	Streamed string
	Segments []content.Segment
	Messages []Message
	Failure  string
	InFlight bool
}

type pendingTool struct {
	name  string
	input string
}

// State accumulates one in-flight assistant turn on top of the finished
// message list. All methods are safe for concurrent use.
type State struct {
	mu       sync.Mutex
	messages []Message
	buffer   string
	tool     *pendingTool
	inFlight bool
	failure  string
	onChange func(Snapshot)
}

func NewState(history []chat.Turn) *State {
	s := &State{}
	for _, t := range history {
		s.messages = append(s.messages, Message{Role: t.Role, Content: t.Content})
	}
	return s
}

// OnChange registers an observer called after every visible change, with
// the state lock released.
func (s *State) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Begin starts a new turn with an optimistic user message. It returns
// false, changing nothing, while another turn is still in flight.
func (s *State) Begin(text string) bool {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return false
	}
	s.inFlight = true
	s.buffer = ""
	s.tool = nil
	s.failure = ""
	s.messages = append(s.messages, Message{Role: chat.RoleUser, Content: text, Optimistic: true})
	s.changedLocked()
	return true
}

// Apply folds one protocol message into the state. An Error message is
// returned as *StreamError; rolling back is left to Fail.
func (s *State) Apply(m stream.Message) error {
	s.mu.Lock()

	switch v := m.(type) {
	case stream.Connected:
		s.mu.Unlock()
		return nil

	case stream.Token:
		s.buffer += v.Text

	case stream.ToolStart:
		input := rawString(v.Input)
		s.tool = &pendingTool{name: v.Tool, input: input}
		s.buffer += content.FormatToolRecord(v.Tool, input, "", true)

	case stream.ToolEnd:
		if !s.completeToolLocked(v) {
			s.mu.Unlock()
			return nil
		}

	case stream.Error:
		s.mu.Unlock()
		return &StreamError{Message: v.Message}

	case stream.Done:
		s.finalizeLocked()

	default:
		s.mu.Unlock()
		return nil
	}

	s.changedLocked()
	return nil
}

// completeToolLocked swaps the most recent tool block for a finished record.
// It reports false, leaving the buffer alone, when no block is open or the
// end names a different tool.
func (s *State) completeToolLocked(end stream.ToolEnd) bool {
	if s.tool == nil {
		return false
	}
	if end.Tool != "" && end.Tool != s.tool.name {
		return false
	}
	start := strings.LastIndex(s.buffer, content.ToolStartMarker)
	if start < 0 {
		s.tool = nil
		return false
	}

	rest := s.buffer[start:]
	tail := ""
	if idx := strings.Index(rest, content.ToolEndMarker); idx >= 0 {
		tail = rest[idx+len(content.ToolEndMarker):]
	}

	name := end.Tool
	if name == "" {
		name = s.tool.name
	}
	s.buffer = s.buffer[:start] + content.FormatToolRecord(name, s.tool.input, rawString(end.Output), false) + tail
	s.tool = nil
	return true
}

func (s *State) finalizeLocked() {
	for i := range s.messages {
		s.messages[i].Optimistic = false
	}
	s.messages = append(s.messages, Message{Role: chat.RoleAssistant, Content: s.buffer})
	s.buffer = ""
	s.tool = nil
	s.inFlight = false
}

// Fail rolls back the optimistic user message and drops the partial
// response. No assistant message is added.
func (s *State) Fail(err error) {
	s.mu.Lock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Optimistic {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	s.buffer = ""
	s.tool = nil
	s.inFlight = false
	if err != nil {
		s.failure = err.Error()
	} else {
		s.failure = "unknown error"
	}
	s.changedLocked()
}

// changedLocked releases the lock and notifies the observer.
func (s *State) changedLocked() {
	fn := s.onChange
	var snap Snapshot
	if fn != nil {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Streamed: s.buffer,
		Segments: content.Extract(s.buffer),
		Messages: append([]Message(nil), s.messages...),
		Failure:  s.failure,
		InFlight: s.inFlight,
	}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Streamed returns the in-flight buffer.
func (s *State) Streamed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Segments re-extracts the in-flight buffer.
func (s *State) Segments() []content.Segment {
	return content.Extract(s.Streamed())
}

func (s *State) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *State) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *State) Failure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// History returns the finished, non-optimistic turns in request form.
func (s *State) History() []chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]chat.Turn, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Optimistic {
			continue
		}
		turns = append(turns, chat.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// rawString shows a JSON string value unquoted and anything else verbatim.
func rawString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
