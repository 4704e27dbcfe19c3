// Package api exposes the chat stream over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/jetstream"
	"github.com/namikmesic/chatstream/internal/session"
	"github.com/namikmesic/chatstream/internal/stream"
)

const maxRequestBytes = (chat.MaxMessages + 1) * (chat.MaxContentBytes + 64)

// Runner drives one turn; *session.Controller satisfies it.
type Runner interface {
	Run(ctx context.Context, req chat.Request, w session.FrameWriter) error
}

type HistoryStore interface {
	Messages(ctx context.Context, chatID string) ([]chat.Turn, error)
}

// FrameTap receives a copy of every frame; *jetstream.Publisher satisfies it.
type FrameTap interface {
	PublishFrame(sessionID string, frame []byte)
	PublishDone(sessionID string, ev jetstream.DoneEvent)
}

type Handler struct {
	runner  Runner
	history HistoryStore
	tap     FrameTap
	mux     *http.ServeMux
}

// NewHandler wires the routes. tap may be nil.
func NewHandler(runner Runner, history HistoryStore, tap FrameTap) *Handler {
	h := &Handler{runner: runner, history: history, tap: tap, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /api/chat/stream", h.handleStream)
	h.mux.HandleFunc("GET /api/chats/{chatId}/messages", h.handleMessages)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	h.mux.ServeHTTP(rec, r)

	log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("handled request")
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := uuid.New().String()
	start := time.Now()
	logger := log.With().Str("session_id", sessionID).Str("chat_id", req.ChatID).Logger()
	ctx := logger.WithContext(r.Context())

	setSSEHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	sw := stream.NewWriter(w)
	if h.tap != nil {
		sw.OnFrame(func(frame []byte) { h.tap.PublishFrame(sessionID, frame) })
		defer func() {
			h.tap.PublishDone(sessionID, jetstream.DoneEvent{ChatID: req.ChatID, StartedAt: start, Bytes: sw.Bytes()})
		}()
	}

	err := h.runner.Run(ctx, req, sw)
	ev := logger.Info()
	if err != nil {
		ev = logger.Warn().Err(err)
	}
	ev.Int("frames", sw.Frames()).
		Int("bytes", sw.Bytes()).
		Dur("duration", time.Since(start)).
		Msg("stream session finished")
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chatId")
		return
	}
	turns, err := h.history.Messages(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Str("chat_id", chatID).Msg("failed to load messages")
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}
