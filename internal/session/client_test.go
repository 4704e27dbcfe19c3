package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/render"
	"github.com/namikmesic/chatstream/internal/stream"
)

// frameServer answers the stream endpoint with the given messages, flushing
// each one. With hold set it keeps the connection open afterwards.
func frameServer(t *testing.T, hold bool, msgs ...stream.Message) (*httptest.Server, <-chan chat.Request) {
	t.Helper()
	reqs := make(chan chat.Request, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, StreamPath, r.URL.Path)
		var req chat.Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		reqs <- req

		w.Header().Set("Content-Type", "text/event-stream")
		sw := stream.NewWriter(w)
		for _, m := range msgs {
			assert.NoError(t, sw.WriteMessage(m))
		}
		if hold {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv, reqs
}

func TestStreamDeliversMessagesInOrder(t *testing.T) {
	srv, reqs := frameServer(t, false,
		stream.Connected{}, stream.Token{Text: "Hel"}, stream.Token{Text: "lo"}, stream.Done{})

	var got []stream.Message
	err := NewClient(srv.URL).Stream(context.Background(), helloRequest, func(m stream.Message) error {
		got = append(got, m)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []stream.Message{
		stream.Connected{}, stream.Token{Text: "Hel"}, stream.Token{Text: "lo"}, stream.Done{},
	}, got)
	assert.Equal(t, helloRequest.ChatID, (<-reqs).ChatID)
}

func TestStreamStopsAtTerminalWhileConnectionStaysOpen(t *testing.T) {
	srv, _ := frameServer(t, true, stream.Connected{}, stream.Token{Text: "x"}, stream.Done{})

	done := make(chan error, 1)
	go func() {
		done <- NewClient(srv.URL).Stream(context.Background(), helloRequest, func(stream.Message) error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stream did not return after Done")
	}
}

func TestStreamNon200IsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid chat request: missing chatId"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Stream(context.Background(), chat.Request{}, func(stream.Message) error { return nil })

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadRequest, te.Status)
	assert.Contains(t, te.Body, "missing chatId")
}

func TestStreamEndingWithoutTerminalIsTransportError(t *testing.T) {
	srv, _ := frameServer(t, false, stream.Connected{}, stream.Token{Text: "half"})

	err := NewClient(srv.URL).Stream(context.Background(), helloRequest, func(stream.Message) error { return nil })

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamWritesTranscript(t *testing.T) {
	srv, _ := frameServer(t, false, stream.Connected{}, stream.Done{})

	var transcript bytes.Buffer
	err := NewClient(srv.URL, WithTranscript(&transcript)).Stream(context.Background(), helloRequest, func(stream.Message) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"connected\"}\n\ndata: {\"type\":\"done\"}\n\n", transcript.String())
}

func TestChatAppliesReplyToState(t *testing.T) {
	srv, reqs := frameServer(t, false,
		stream.Connected{}, stream.Token{Text: "Hel"}, stream.Token{Text: "lo"}, stream.Done{})
	state := render.NewState([]chat.Turn{{Role: chat.RoleUser, Content: "before"}, {Role: chat.RoleAssistant, Content: "ok"}})

	var streamed []string
	state.OnChange(func(s render.Snapshot) { streamed = append(streamed, s.Streamed) })

	require.NoError(t, NewClient(srv.URL).Chat(context.Background(), state, "chat-1", "hi"))

	req := <-reqs
	assert.Equal(t, "hi", req.NewMessage)
	assert.Len(t, req.Messages, 2, "prior turns are sent without the new message")
	assert.Contains(t, streamed, "Hel")
	assert.Contains(t, streamed, "Hello")

	msgs := state.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, render.Message{Role: chat.RoleAssistant, Content: "Hello"}, msgs[3])
	assert.False(t, state.InFlight())
}

func TestChatRollsBackOnStreamError(t *testing.T) {
	srv, _ := frameServer(t, false,
		stream.Connected{}, stream.Token{Text: "part"}, stream.Error{Message: "Generation failed"})
	state := render.NewState(nil)

	err := NewClient(srv.URL).Chat(context.Background(), state, "chat-1", "hi")

	var se *render.StreamError
	require.True(t, errors.As(err, &se))
	assert.Empty(t, state.Messages())
	assert.Empty(t, state.Streamed())
	assert.Equal(t, "Generation failed", state.Failure())
}

func TestChatRejectsWhileInFlight(t *testing.T) {
	state := render.NewState(nil)
	require.True(t, state.Begin("first"))

	err := NewClient("http://127.0.0.1:1").Chat(context.Background(), state, "chat-1", "second")

	assert.ErrorIs(t, err, render.ErrInFlight)
	assert.Len(t, state.Messages(), 1)
}

func TestChatTransportFailureRollsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	state := render.NewState(nil)

	err := NewClient(srv.URL).Chat(context.Background(), state, "chat-1", "hi")

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Empty(t, state.Messages())
	assert.False(t, state.InFlight())
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/chat-1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"role":"user","content":"hi"},{"role":"assistant","content":"Hello"}]`)
	}))
	defer srv.Close()

	turns, err := NewClient(srv.URL + "/").History(context.Background(), "chat-1")

	require.NoError(t, err)
	assert.Equal(t, []chat.Turn{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "Hello"},
	}, turns)
}

func TestBuildTargetURL(t *testing.T) {
	assert.Equal(t, "http://example.com/base/api/chat/stream", buildTargetURL("http://example.com/base/", StreamPath, ""))
	assert.Equal(t, "http://localhost:8080/api/chat/stream", buildTargetURL("::bad", StreamPath, ""))
}
