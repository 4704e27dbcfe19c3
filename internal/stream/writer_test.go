package stream

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

type closeRecorder struct {
	bytes.Buffer
	closes int
}

func (c *closeRecorder) Close() error {
	c.closes++
	return nil
}

func TestWriterFlushesEveryFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.WriteMessage(Connected{}))
	require.NoError(t, w.WriteMessage(Token{Text: "a"}))

	assert.True(t, rec.Flushed)
	assert.Equal(t, 2, w.Frames())
	assert.Equal(t, rec.Body.Len(), w.Bytes())
	assert.Equal(t, 2, strings.Count(rec.Body.String(), FrameTerminator))
}

func TestWriterOnFrameHook(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var tapped [][]byte
	w.OnFrame(func(frame []byte) { tapped = append(tapped, frame) })

	require.NoError(t, w.WriteMessage(Token{Text: "x"}))
	require.Len(t, tapped, 1)
	assert.Equal(t, buf.String(), string(tapped[0]))
}

func TestWriterClose(t *testing.T) {
	sink := &closeRecorder{}
	w := NewWriter(sink)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, sink.closes)

	err := w.WriteMessage(Done{})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, sink.Len())
}

func TestWriterWriteFailure(t *testing.T) {
	w := NewWriter(failingWriter{})

	err := w.WriteMessage(Token{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write token frame")
	assert.Zero(t, w.Frames())
}

func TestTeeBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {\"type\":\"done\"}\n\n"))
	var transcript bytes.Buffer

	tee := TeeBody(body, &transcript)
	got, err := io.ReadAll(tee)
	require.NoError(t, err)
	require.NoError(t, tee.Close())

	assert.Equal(t, string(got), transcript.String())
	assert.NoError(t, tee.TranscriptErr())
}

func TestTeeBodyTranscriptFailureDoesNotBreakReads(t *testing.T) {
	body := io.NopCloser(strings.NewReader("payload"))
	tee := TeeBody(body, failingWriter{})

	got, err := io.ReadAll(tee)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.Error(t, tee.TranscriptErr())
}
