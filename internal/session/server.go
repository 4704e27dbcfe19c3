// Package session runs one streamed assistant turn end to end: the server
// side drives a generator into SSE frames and the client side turns frames
// back into render state.
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/generator"
	"github.com/namikmesic/chatstream/internal/stream"
)

const defaultTokenBuffer = 64

// Sink persists both sides of a conversation.
type Sink interface {
	Send(ctx context.Context, chatID, content string) error
	Store(ctx context.Context, chatID, content string, role chat.Role) error
}

// FrameWriter is satisfied by *stream.Writer.
type FrameWriter interface {
	WriteMessage(m stream.Message) error
	Close() error
}

type Options struct {
	// TokenBuffer sizes the channel between the generator and the writer.
	TokenBuffer int
	// AbortOnDisconnect cancels generation once the client is gone. When
	// false the generator runs to completion and its text is still stored.
	AbortOnDisconnect bool
}

// Controller is safe for concurrent use; every Run is independent.
type Controller struct {
	gen  generator.Generator
	sink Sink
	opts Options
}

func NewController(gen generator.Generator, sink Sink, opts Options) *Controller {
	if opts.TokenBuffer <= 0 {
		opts.TokenBuffer = defaultTokenBuffer
	}
	return &Controller{gen: gen, sink: sink, opts: opts}
}

// Run streams one turn into w and always closes it. The frame order is
// Connected, generator output, then exactly one of Done or Error. The
// returned error is for logging; the client has already been told.
func (c *Controller) Run(ctx context.Context, req chat.Request, w FrameWriter) error {
	logger := zerolog.Ctx(ctx)
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close stream writer")
		}
	}()

	if err := w.WriteMessage(stream.Connected{}); err != nil {
		return err
	}

	if err := c.sink.Send(ctx, req.ChatID, req.NewMessage); err != nil {
		logger.Error().Err(err).Msg("failed to store user message")
		c.writeError(logger, w, err)
		return err
	}

	parent := ctx
	if !c.opts.AbortOnDisconnect {
		parent = context.WithoutCancel(ctx)
	}
	genCtx, cancel := context.WithCancel(parent)
	defer cancel()

	out := make(chan stream.Message, c.opts.TokenBuffer)
	genErr := make(chan error, 1)
	go func() {
		defer close(out)
		genErr <- c.gen.Generate(genCtx, req.Conversation(), out)
	}()

	var (
		full     strings.Builder
		writeErr error
		failed   error
		tokens   int
	)
	for m := range out {
		switch v := m.(type) {
		case stream.Token:
			full.WriteString(v.Text)
			tokens++
		case stream.ToolStart, stream.ToolEnd:
		case stream.Error:
			// A generator-reported error ends the turn like a returned one.
			if failed == nil {
				failed = errors.New(v.Message)
				cancel()
			}
			continue
		default:
			// The controller owns Connected and Done.
			logger.Debug().Type("message", m).Msg("dropping control message from generator")
			continue
		}
		if writeErr != nil || failed != nil {
			continue
		}
		if writeErr = w.WriteMessage(m); writeErr != nil {
			logger.Warn().Err(writeErr).Msg("client went away mid-stream")
			if c.opts.AbortOnDisconnect {
				cancel()
			}
		}
	}

	err := <-genErr
	if failed != nil {
		err = failed
	}
	if err != nil {
		if writeErr != nil {
			return writeErr
		}
		logger.Error().Err(err).Int("tokens", tokens).Msg("generation failed")
		c.writeError(logger, w, err)
		return err
	}

	// Generation finished. The reply is kept even if the client left early.
	storeCtx := ctx
	if !c.opts.AbortOnDisconnect {
		storeCtx = context.WithoutCancel(ctx)
	}
	if err := c.sink.Store(storeCtx, req.ChatID, full.String(), chat.RoleAssistant); err != nil {
		logger.Error().Err(err).Msg("failed to store assistant message")
		if writeErr == nil {
			c.writeError(logger, w, err)
		}
		return err
	}

	if writeErr != nil {
		return writeErr
	}
	logger.Debug().Int("tokens", tokens).Msg("turn complete")
	return w.WriteMessage(stream.Done{})
}

func (c *Controller) writeError(logger *zerolog.Logger, w FrameWriter, cause error) {
	msg := "Unknown error"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	if err := w.WriteMessage(stream.Error{Message: msg}); err != nil {
		logger.Warn().Err(err).Msg("failed to write error frame")
	}
}
