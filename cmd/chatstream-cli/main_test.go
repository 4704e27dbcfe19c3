package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namikmesic/chatstream/internal/content"
	"github.com/namikmesic/chatstream/internal/render"
	"github.com/namikmesic/chatstream/internal/session"
	"github.com/namikmesic/chatstream/internal/stream"
)

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, 0, commonPrefix("", "abc"))
	assert.Equal(t, 2, commonPrefix("abX", "abc"))
	assert.Equal(t, 3, commonPrefix("abc", "abcdef"))
}

func TestReplStreamsAndRendersReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := stream.NewWriter(w)
		for _, m := range []stream.Message{stream.Connected{}, stream.Token{Text: "Hel"}, stream.Token{Text: "lo"}, stream.Done{}} {
			require.NoError(t, sw.WriteMessage(m))
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	state := render.NewState(nil)
	err := repl(context.Background(), strings.NewReader("hi\n\n"), &out, session.NewClient(srv.URL), state, render.NewTerminal(false, 0), "chat-1", "")

	require.NoError(t, err)
	assert.Contains(t, out.String(), "> Hello\nHello")
	assert.Len(t, state.Messages(), 2)
}

func TestReplShowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := stream.NewWriter(w)
		_ = sw.WriteMessage(stream.Connected{})
		_ = sw.WriteMessage(stream.Error{Message: "Generation failed"})
	}))
	defer srv.Close()

	var out bytes.Buffer
	state := render.NewState(nil)
	err := repl(context.Background(), strings.NewReader("hi\n"), &out, session.NewClient(srv.URL), state, render.NewTerminal(false, 0), "chat-1", "")

	require.NoError(t, err)
	assert.Contains(t, out.String(), "error: Generation failed")
	assert.Empty(t, state.Messages())
}

func TestReplSavesDocuments(t *testing.T) {
	reply := "Here:\n```document:notes.md\n# Notes\n```\nand\n```document:../escape\nplain\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := stream.NewWriter(w)
		for _, m := range []stream.Message{stream.Connected{}, stream.Token{Text: reply}, stream.Done{}} {
			require.NoError(t, sw.WriteMessage(m))
		}
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "docs")
	var out bytes.Buffer
	err := repl(context.Background(), strings.NewReader("write notes\n"), &out, session.NewClient(srv.URL), render.NewState(nil), render.NewTerminal(false, 0), "chat-1", dir)
	require.NoError(t, err)

	notes, err := os.ReadFile(filepath.Join(dir, "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Notes", string(notes))

	escaped, err := os.ReadFile(filepath.Join(dir, "escape"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(escaped))
	assert.Contains(t, out.String(), "saved "+filepath.Join(dir, "notes.md"))
}

func TestSaveDocumentsWithoutDocuments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "unused")
	saved, err := saveDocuments(dir, "no files here")

	require.NoError(t, err)
	assert.Empty(t, saved)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "no directory is created when there is nothing to save")
}

func TestDocumentNameFallsBack(t *testing.T) {
	assert.Equal(t, "report.csv", documentName(content.DocumentBlock{Filename: "sub/report.csv", Extension: "csv"}))
	assert.Equal(t, "document.txt", documentName(content.DocumentBlock{Filename: "..", Extension: "txt"}))
	assert.Equal(t, "document.txt", documentName(content.DocumentBlock{Filename: " ", Extension: "txt"}))
}
