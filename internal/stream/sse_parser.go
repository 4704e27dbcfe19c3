package stream

import (
	"bytes"
	"strings"
)

// Scanner maintains state across chunks to handle partial SSE lines.
type Scanner struct {
	buffer     []byte
	frameIndex int
}

func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed processes raw bytes from the stream and yields complete data frames.
// The trailing line is kept until its newline arrives, so a frame split
// across chunks is only emitted once.
func (s *Scanner) Feed(chunk []byte) []Frame {
	s.buffer = append(s.buffer, chunk...)
	var frames []Frame

	for {
		idx := bytes.IndexByte(s.buffer, '\n')
		if idx == -1 {
			break
		}

		line := string(s.buffer[:idx])
		s.buffer = s.buffer[idx+1:]
		raw := len(line) + 1
		line = strings.TrimRight(line, "\r")

		// Blank separators, event:/id: fields and comments carry nothing here.
		if !strings.HasPrefix(line, DataPrefix) {
			continue
		}

		s.frameIndex++
		frames = append(frames, Frame{
			Index: s.frameIndex,
			Data:  line[len(DataPrefix):],
			Bytes: raw,
		})
	}

	// Drop the consumed prefix so the backing array does not grow forever.
	if len(s.buffer) == 0 {
		s.buffer = nil
	}
	return frames
}

// Pending returns the bytes held back waiting for a line break.
func (s *Scanner) Pending() int {
	return len(s.buffer)
}

// Decoder turns an arbitrarily chunked byte stream into protocol messages.
// Use one Decoder per session; it is not safe for concurrent use.
type Decoder struct {
	scanner     *Scanner
	frames      int
	parseErrors int
	dropped     int
}

func NewDecoder() *Decoder {
	return &Decoder{scanner: NewScanner()}
}

// Feed appends chunk and returns every message completed by it, in order.
// It never fails: malformed payloads become Error messages and unknown
// discriminants are dropped.
func (d *Decoder) Feed(chunk []byte) []Message {
	decoded := d.FeedFrames(chunk)
	if len(decoded) == 0 {
		return nil
	}
	msgs := make([]Message, 0, len(decoded))
	for _, fr := range decoded {
		if fr.Message != nil {
			msgs = append(msgs, fr.Message)
		}
	}
	return msgs
}

// Decoded pairs a data line with its message. Message is nil for an
// unknown discriminant.
type Decoded struct {
	Frame   Frame
	Message Message
}

// FeedFrames is Feed for callers that also need the raw frames, such as
// recorders. Dropped frames are included with a nil Message.
func (d *Decoder) FeedFrames(chunk []byte) []Decoded {
	frames := d.scanner.Feed(chunk)
	if len(frames) == 0 {
		return nil
	}

	out := make([]Decoded, 0, len(frames))
	for _, f := range frames {
		d.frames++
		m := DecodeData(f.Data)
		switch v := m.(type) {
		case nil:
			d.dropped++
		case Error:
			if v.Message == ParseErrorMessage {
				d.parseErrors++
			}
		}
		out = append(out, Decoded{Frame: f, Message: m})
	}
	return out
}

// Frames counts the data lines seen so far.
func (d *Decoder) Frames() int { return d.frames }

// ParseErrors counts data lines whose payload was not valid JSON.
func (d *Decoder) ParseErrors() int { return d.parseErrors }

// Dropped counts data lines with an unknown discriminant.
func (d *Decoder) Dropped() int { return d.dropped }
