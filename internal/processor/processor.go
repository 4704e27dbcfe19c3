// Package processor turns tapped session frames into analytics records.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/chatstream/internal/jetstream"
	"github.com/namikmesic/chatstream/internal/storage"
	"github.com/namikmesic/chatstream/internal/stream"
)

const consumerName = "session-processor"

// Recorder accepts write jobs; *storage.BatchWriter satisfies it.
type Recorder interface {
	Enqueue(job storage.WriteJob) bool
}

type tracker struct {
	dec      *stream.Decoder
	rec      storage.SessionRecord
	frames   []storage.FrameRecord
	terminal bool
}

// Processor handles background analytics for streamed sessions.
type Processor struct {
	store  storage.Store
	writer Recorder
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*tracker
}

func New(store storage.Store, writer Recorder) *Processor {
	return &Processor{
		store:    store,
		writer:   writer,
		now:      time.Now,
		sessions: make(map[string]*tracker),
	}
}

// HandleChunk decodes one tapped chunk of a session's wire stream.
func (p *Processor) HandleChunk(sessionID string, chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.trackerLocked(sessionID)
	t.rec.Bytes += len(chunk)
	ts := p.now()

	for _, fr := range t.dec.FeedFrames(chunk) {
		typ := "unknown"
		if fr.Message != nil {
			typ = string(fr.Message.Type())
		}
		t.frames = append(t.frames, storage.FrameRecord{
			TS:    ts,
			Index: fr.Frame.Index,
			Type:  typ,
			Data:  fr.Frame.Data,
			Bytes: fr.Frame.Bytes,
		})

		switch m := fr.Message.(type) {
		case stream.Token:
			t.rec.Tokens++
		case stream.ToolStart:
			t.rec.ToolCalls++
		case stream.Done:
			t.terminal = true
			t.rec.Status = storage.StatusDone
		case stream.Error:
			t.terminal = true
			t.rec.Status = storage.StatusError
			t.rec.ErrorMessage = m.Message
		}
	}
}

// Finish closes a session and queues its record. It reports false for a
// session that never sent a frame.
func (p *Processor) Finish(sessionID string, ev jetstream.DoneEvent) (storage.SessionRecord, bool) {
	p.mu.Lock()
	t, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	if !ok {
		return storage.SessionRecord{}, false
	}

	rec := t.rec
	rec.ChatID = ev.ChatID
	if !ev.StartedAt.IsZero() {
		rec.StartedAt = ev.StartedAt
	}
	rec.FinishedAt = p.now()
	rec.Frames = t.dec.Frames()
	rec.ParseErrors = t.dec.ParseErrors()
	if !t.terminal {
		rec.Status = storage.StatusIncomplete
	}

	if p.writer != nil && p.store != nil {
		p.writer.Enqueue(storage.RecordSessionJob(p.store, rec, t.frames))
	}

	log.Debug().
		Str("session_id", sessionID).
		Str("status", string(rec.Status)).
		Int("frames", rec.Frames).
		Int("tokens", rec.Tokens).
		Int("tool_calls", rec.ToolCalls).
		Msg("session processing complete")
	return rec, true
}

// Pending returns the number of sessions still open.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Processor) trackerLocked(sessionID string) *tracker {
	t, ok := p.sessions[sessionID]
	if ok {
		return t
	}
	id, err := uuid.Parse(sessionID)
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID))
	}
	t = &tracker{
		dec: stream.NewDecoder(),
		rec: storage.SessionRecord{ID: id, StartedAt: p.now()},
	}
	p.sessions[sessionID] = t
	return t
}

// StartConsumer feeds the processor from JetStream until ctx ends.
func (p *Processor) StartConsumer(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.Subscribe(jetstream.SubjectPrefix+">", p.handleMsg,
		nats.Durable(consumerName), nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", jetstream.SubjectPrefix, err)
	}
	log.Info().Str("consumer", consumerName).Msg("session processor started")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Msg("failed to unsubscribe session processor")
	}
	return nil
}

func (p *Processor) handleMsg(m *nats.Msg) {
	defer func() {
		if err := m.Ack(); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("ack failed")
		}
	}()

	sessionID, done, ok := jetstream.ParseSubject(m.Subject)
	if !ok {
		log.Warn().Str("subject", m.Subject).Msg("unexpected subject")
		return
	}
	if !done {
		p.HandleChunk(sessionID, m.Data)
		return
	}

	var ev jetstream.DoneEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("bad done event")
	}
	p.Finish(sessionID, ev)
}
