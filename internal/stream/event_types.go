package stream

import "encoding/json"

// Type is the wire discriminant carried in every payload's "type" field.
type Type string

const (
	TypeConnected Type = "connected"
	TypeToken     Type = "token"
	TypeToolStart Type = "tool_start"
	TypeToolEnd   Type = "tool_end"
	TypeError     Type = "error"
	TypeDone      Type = "done"
)

// Message is one protocol message. The unexported marker method keeps the
// set of implementations closed to this package.
type Message interface {
	Type() Type
	message()
}

// Connected is written once as soon as the response is established.
type Connected struct{}

// Token is one fragment of generated text.
type Token struct {
	Text string
}

// ToolStart marks the beginning of an external capability invocation.
type ToolStart struct {
	Tool  string
	Input json.RawMessage
}

// ToolEnd completes the most recent unmatched ToolStart with the same name.
type ToolEnd struct {
	Tool   string
	Output json.RawMessage
}

// Error terminates the session with a human-readable message.
type Error struct {
	Message string
}

// Done terminates the session normally. Sentinel is true when it was decoded
// from the transport-level [DONE] literal rather than a {"type":"done"} payload.
type Done struct {
	Sentinel bool
}

func (Connected) Type() Type { return TypeConnected }
func (Token) Type() Type     { return TypeToken }
func (ToolStart) Type() Type { return TypeToolStart }
func (ToolEnd) Type() Type   { return TypeToolEnd }
func (Error) Type() Type     { return TypeError }
func (Done) Type() Type      { return TypeDone }

func (Connected) message() {}
func (Token) message()     {}
func (ToolStart) message() {}
func (ToolEnd) message()   {}
func (Error) message()     {}
func (Done) message()      {}

var (
	_ Message = Connected{}
	_ Message = Token{}
	_ Message = ToolStart{}
	_ Message = ToolEnd{}
	_ Message = Error{}
	_ Message = Done{}
)

// IsTerminal reports whether m ends a session.
func IsTerminal(m Message) bool {
	switch m.(type) {
	case Error, Done:
		return true
	}
	return false
}

// payload is the loosely-typed JSON shape shared by every message kind.
type payload struct {
	Type   Type            `json:"type"`
	Token  string          `json:"token,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Frame is one complete data line read off the wire.
type Frame struct {
	Index int    // ordinal within this scanner's stream
	Data  string // payload after the "data: " prefix
	Bytes int    // byte length of the line including its newline
}
