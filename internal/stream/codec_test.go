package stream

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allMessages() []Message {
	return []Message{
		Connected{},
		Token{Text: "Hel"},
		Token{Text: "line one\nline two <b>&</b> \"quoted\" \\ back"},
		Token{Text: ""},
		ToolStart{Tool: "google_books", Input: json.RawMessage(`{"q":"go","maxResults":5}`)},
		ToolStart{Tool: "noop"},
		ToolEnd{Tool: "google_books", Output: json.RawMessage(`["a","b"]`)},
		ToolEnd{Tool: "plain", Output: json.RawMessage(`"done"`)},
		Error{Message: "generator exploded"},
		Done{},
	}
}

func TestEncodeFrameShape(t *testing.T) {
	frame, err := Encode(Token{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"token\",\"token\":\"hi\"}\n\n", string(frame))

	frame, err = Encode(Connected{})
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"connected\"}\n\n", string(frame))

	frame, err = Encode(Error{Message: "boom"})
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"error\",\"error\":\"boom\"}\n\n", string(frame))
}

func TestEncodeKeepsFrameOnOneLine(t *testing.T) {
	frame, err := Encode(Token{Text: "a\nb\r\nc"})
	require.NoError(t, err)

	body := strings.TrimSuffix(string(frame), FrameTerminator)
	assert.NotContains(t, body, "\n")
	assert.True(t, strings.HasSuffix(string(frame), FrameTerminator))
}

func TestEncodeRejectsInvalidRawJSON(t *testing.T) {
	_, err := Encode(ToolStart{Tool: "x", Input: json.RawMessage(`{broken`)})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	for _, m := range allMessages() {
		t.Run(string(m.Type()), func(t *testing.T) {
			frame, err := Encode(m)
			require.NoError(t, err)

			got := NewDecoder().Feed(frame)
			require.Len(t, got, 1)
			assert.Equal(t, m, got[0])
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	d := NewDecoder()

	var got []Message
	require.NotPanics(t, func() {
		got = d.Feed([]byte("data: {not json}\n\n"))
	})

	require.Len(t, got, 1)
	assert.Equal(t, Error{Message: ParseErrorMessage}, got[0])
	assert.Equal(t, 1, d.ParseErrors())
}

func TestDecodeContinuesAfterMalformedFrame(t *testing.T) {
	d := NewDecoder()
	got := d.Feed([]byte("data: {oops\n\ndata: {\"type\":\"token\",\"token\":\"ok\"}\n\n"))

	require.Len(t, got, 2)
	assert.IsType(t, Error{}, got[0])
	assert.Equal(t, Token{Text: "ok"}, got[1])
}

func TestDecodeUnknownTypeIsDropped(t *testing.T) {
	d := NewDecoder()
	got := d.Feed([]byte("data: {\"type\":\"heartbeat\"}\n\ndata: {\"token\":\"no type\"}\n\n"))

	assert.Empty(t, got)
	assert.Equal(t, 2, d.Frames())
	assert.Equal(t, 2, d.Dropped())
	assert.Zero(t, d.ParseErrors())
}

// The literal [DONE] sentinel and the {"type":"done"} payload both end the
// stream. They decode to the same message kind; Sentinel tells them apart.
func TestDoneSignals(t *testing.T) {
	t.Run("application done", func(t *testing.T) {
		got := NewDecoder().Feed([]byte("data: {\"type\":\"done\"}\n\n"))
		require.Len(t, got, 1)
		assert.Equal(t, Done{Sentinel: false}, got[0])
		assert.True(t, IsTerminal(got[0]))
	})

	t.Run("transport sentinel", func(t *testing.T) {
		got := NewDecoder().Feed([]byte("data: [DONE]\n\n"))
		require.Len(t, got, 1)
		assert.Equal(t, Done{Sentinel: true}, got[0])
		assert.True(t, IsTerminal(got[0]))
	})

	t.Run("sentinel is not parsed as json", func(t *testing.T) {
		got := NewDecoder().Feed([]byte("data: \"[DONE]\"\n\n"))
		require.Len(t, got, 1)
		assert.Equal(t, Error{Message: ParseErrorMessage}, got[0])
	})
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(Connected{}))
	assert.False(t, IsTerminal(Token{Text: "x"}))
	assert.False(t, IsTerminal(ToolStart{Tool: "t"}))
	assert.False(t, IsTerminal(ToolEnd{Tool: "t"}))
	assert.True(t, IsTerminal(Error{Message: "e"}))
	assert.True(t, IsTerminal(Done{}))
}
