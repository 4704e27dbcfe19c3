package stream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeAll(t *testing.T, msgs []Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		frame, err := Encode(m)
		require.NoError(t, err)
		buf.Write(frame)
	}
	return buf.Bytes()
}

func TestScannerFrames(t *testing.T) {
	s := NewScanner()
	frames := s.Feed([]byte("event: ping\n: comment\ndata: one\r\n\r\ndata: two\n\n"))

	require.Len(t, frames, 2)
	assert.Equal(t, Frame{Index: 1, Data: "one", Bytes: len("data: one\r\n")}, frames[0])
	assert.Equal(t, Frame{Index: 2, Data: "two", Bytes: len("data: two\n")}, frames[1])
	assert.Zero(t, s.Pending())
}

func TestDecoderBufferRetention(t *testing.T) {
	d := NewDecoder()

	got := d.Feed([]byte(`data: {"type":"token","tok`))
	assert.Empty(t, got, "a chunk ending mid-line must not emit anything")
	assert.Equal(t, len(`data: {"type":"token","tok`), d.scanner.Pending())

	got = d.Feed([]byte("en\":\"Hel\"}\n\n"))
	require.Len(t, got, 1)
	assert.Equal(t, Token{Text: "Hel"}, got[0])
}

func TestDecoderLineWithoutTerminatorIsHeld(t *testing.T) {
	d := NewDecoder()

	got := d.Feed([]byte(`data: {"type":"done"}`))
	assert.Empty(t, got)

	got = d.Feed([]byte("\n"))
	assert.Equal(t, []Message{Done{}}, got)
}

// Every way of splitting the wire bytes into two or three chunks must decode
// to the same sequence as feeding the whole buffer at once.
func TestDecoderChunkSplitInvariance(t *testing.T) {
	msgs := allMessages()
	wire := encodeAll(t, msgs)

	whole := NewDecoder().Feed(wire)
	require.Equal(t, msgs, whole)

	for i := 0; i <= len(wire); i++ {
		d := NewDecoder()
		var got []Message
		got = append(got, d.Feed(wire[:i])...)
		got = append(got, d.Feed(wire[i:])...)
		require.Equal(t, whole, got, "split at %d", i)
	}

	for i := 0; i <= len(wire); i += 7 {
		for j := i; j <= len(wire); j += 11 {
			d := NewDecoder()
			var got []Message
			got = append(got, d.Feed(wire[:i])...)
			got = append(got, d.Feed(wire[i:j])...)
			got = append(got, d.Feed(wire[j:])...)
			require.Equal(t, whole, got, "split at %d,%d", i, j)
		}
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	msgs := allMessages()
	wire := encodeAll(t, msgs)

	d := NewDecoder()
	var got []Message
	for i := range wire {
		got = append(got, d.Feed(wire[i:i+1])...)
	}
	assert.Equal(t, msgs, got)
	assert.Equal(t, len(msgs), d.Frames())
}

func TestDecoderMultiByteRuneSplit(t *testing.T) {
	wire := encodeAll(t, []Message{Token{Text: "héllo wörld ✓"}})

	// Split inside the three-byte check mark.
	cut := bytes.Index(wire, []byte("✓")) + 1
	d := NewDecoder()
	first := d.Feed(wire[:cut])
	second := d.Feed(wire[cut:])

	assert.Empty(t, first)
	assert.Equal(t, []Message{Token{Text: "héllo wörld ✓"}}, second)
}

func TestDecoderFeedFramesKeepsRawData(t *testing.T) {
	d := NewDecoder()

	got := d.FeedFrames([]byte("data: {\"type\":\"token\",\"token\":\"a\"}\n\ndata: {\"type\":\"mystery\"}\n\ndata: {oops\n\n"))

	require.Len(t, got, 3)
	assert.Equal(t, `{"type":"token","token":"a"}`, got[0].Frame.Data)
	assert.Equal(t, Token{Text: "a"}, got[0].Message)
	assert.Nil(t, got[1].Message)
	assert.Equal(t, Error{Message: ParseErrorMessage}, got[2].Message)
	assert.Equal(t, 3, d.Frames())
	assert.Equal(t, 1, d.Dropped())
	assert.Equal(t, 1, d.ParseErrors())
}
