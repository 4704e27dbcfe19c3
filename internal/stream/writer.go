package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

var ErrWriterClosed = errors.New("stream writer closed")

// Writer encodes messages onto an outbound byte sink, flushing after every
// frame when the sink supports it.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	frames  int
	bytes   int
	onFrame func(frame []byte)
}

func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// OnFrame registers a hook that receives a copy of every frame written.
func (sw *Writer) OnFrame(fn func(frame []byte)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.onFrame = fn
}

func (sw *Writer) WriteMessage(m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return ErrWriterClosed
	}
	n, err := sw.w.Write(frame)
	sw.bytes += n
	if err != nil {
		return fmt.Errorf("write %s frame: %w", m.Type(), err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	sw.frames++
	if sw.onFrame != nil {
		sw.onFrame(frame)
	}
	return nil
}

// Close is idempotent. When the sink is an io.Closer it is closed once.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return nil
	}
	sw.closed = true
	if c, ok := sw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Frames returns the number of frames written successfully.
func (sw *Writer) Frames() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.frames
}

// Bytes returns the number of bytes handed to the sink.
func (sw *Writer) Bytes() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.bytes
}
