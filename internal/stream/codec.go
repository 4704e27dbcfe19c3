package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	DataPrefix      = "data: "
	DoneSentinel    = "[DONE]"
	FrameTerminator = "\n\n"

	// ParseErrorMessage is the Error text produced for an undecodable payload.
	ParseErrorMessage = "Failed to parse SSE message"
)

// Encode renders m as a single frame: "data: <json>\n\n".
func Encode(m Message) ([]byte, error) {
	var p payload
	switch v := m.(type) {
	case Connected:
		p = payload{Type: TypeConnected}
	case Token:
		p = payload{Type: TypeToken, Token: v.Text}
	case ToolStart:
		p = payload{Type: TypeToolStart, Tool: v.Tool, Input: v.Input}
	case ToolEnd:
		p = payload{Type: TypeToolEnd, Tool: v.Tool, Output: v.Output}
	case Error:
		p = payload{Type: TypeError, Error: v.Message}
	case Done:
		p = payload{Type: TypeDone}
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}

	var buf bytes.Buffer
	buf.WriteString(DataPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Type, err)
	}
	// json.Encoder already wrote one newline.
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// DecodeData turns the payload of one data line into a Message. Undecodable
// JSON yields an Error message; an unknown discriminant yields nil.
func DecodeData(data string) Message {
	if data == DoneSentinel {
		return Done{Sentinel: true}
	}

	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Error{Message: ParseErrorMessage}
	}

	switch p.Type {
	case TypeConnected:
		return Connected{}
	case TypeToken:
		return Token{Text: p.Token}
	case TypeToolStart:
		return ToolStart{Tool: p.Tool, Input: p.Input}
	case TypeToolEnd:
		return ToolEnd{Tool: p.Tool, Output: p.Output}
	case TypeError:
		return Error{Message: p.Error}
	case TypeDone:
		return Done{}
	default:
		return nil
	}
}
