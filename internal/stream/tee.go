package stream

import (
	"io"
)

// TeeReadCloser copies every byte read from a response body into a
// transcript writer. Transcript write errors are remembered, not returned,
// so a broken transcript never interrupts the session.
type TeeReadCloser struct {
	body       io.ReadCloser
	transcript io.Writer
	err        error
}

// TeeBody wraps body so reads are mirrored into transcript.
func TeeBody(body io.ReadCloser, transcript io.Writer) *TeeReadCloser {
	return &TeeReadCloser{body: body, transcript: transcript}
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 && t.err == nil {
		if _, werr := t.transcript.Write(p[:n]); werr != nil {
			t.err = werr
		}
	}
	return n, err
}

func (t *TeeReadCloser) Close() error {
	return t.body.Close()
}

// TranscriptErr returns the first transcript write failure, if any.
func (t *TeeReadCloser) TranscriptErr() error {
	return t.err
}
