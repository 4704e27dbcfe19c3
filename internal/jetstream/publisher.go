package jetstream

import (
	"encoding/json"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DoneEvent closes a session on the done subject.
type DoneEvent struct {
	ChatID    string    `json:"chat_id"`
	StartedAt time.Time `json:"started_at"`
	Bytes     int       `json:"bytes"`
}

// Publisher taps the frames of live sessions onto JetStream. Publish
// failures are logged and never reach the client stream.
type Publisher struct {
	js nats.JetStreamContext
}

func NewPublisher(js nats.JetStreamContext) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) PublishFrame(sessionID string, frame []byte) {
	if _, err := p.js.Publish(FrameSubject(sessionID), frame); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to publish frame")
	}
}

func (p *Publisher) PublishDone(sessionID string, ev DoneEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to encode done event")
		return
	}
	if _, err := p.js.Publish(DoneSubject(sessionID), data); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to publish done event")
	}
}
