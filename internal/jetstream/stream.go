package jetstream

import (
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "CHATSTREAM"
	SubjectPrefix = "chat.session."
	doneSuffix    = ".done"
)

func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"chat.>"},
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func FrameSubject(sessionID string) string {
	return SubjectPrefix + sessionID
}

func DoneSubject(sessionID string) string {
	return SubjectPrefix + sessionID + doneSuffix
}

// ParseSubject splits a subject published by this package into its
// session id and whether it marks the end of the session.
func ParseSubject(subject string) (sessionID string, done bool, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectPrefix)
	if !found || rest == "" {
		return "", false, false
	}
	if id, isDone := strings.CutSuffix(rest, doneSuffix); isDone {
		return id, true, id != ""
	}
	return rest, false, true
}
