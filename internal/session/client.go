package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/render"
	"github.com/namikmesic/chatstream/internal/stream"
)

const (
	StreamPath  = "/api/chat/stream"
	historyPath = "/api/chats/%s/messages"

	readBufferSize = 32 * 1024
	maxErrorBody   = 4096
)

// TransportError is a failure below the protocol: a non-200 response or a
// broken connection.
type TransportError struct {
	Status int
	Body   string
	Cause  error
}

func (e *TransportError) Error() string {
	switch {
	case e.Cause != nil:
		return "transport: " + e.Cause.Error()
	case e.Body != "":
		return fmt.Sprintf("transport: status %d: %s", e.Status, e.Body)
	default:
		return fmt.Sprintf("transport: status %d", e.Status)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Client talks to a chatstream server.
type Client struct {
	baseURL    string
	http       *http.Client
	transcript io.Writer
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default client. Streaming responses are
// long-lived, so the client should not set a Timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTranscript mirrors every raw response byte into w.
func WithTranscript(w io.Writer) ClientOption {
	return func(c *Client) { c.transcript = w }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream posts req and hands every decoded message to fn in wire order. It
// returns after a Done or Error message even if the server keeps the
// connection open. An error from fn stops the stream and is returned as is.
func (c *Client) Stream(ctx context.Context, req chat.Request, fn func(stream.Message) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, buildTargetURL(c.baseURL, StreamPath, ""), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Cause: err}
	}
	var rc io.ReadCloser = resp.Body
	if c.transcript != nil {
		rc = stream.TeeBody(resp.Body, c.transcript)
	}
	defer rc.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(rc, maxErrorBody))
		return &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	dec := stream.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			for _, m := range dec.Feed(buf[:n]) {
				if err := fn(m); err != nil {
					return err
				}
				if stream.IsTerminal(m) {
					return nil
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return &TransportError{Status: resp.StatusCode, Cause: io.ErrUnexpectedEOF}
			}
			return &TransportError{Status: resp.StatusCode, Cause: rerr}
		}
	}
}

// Chat submits text as a new user turn and streams the reply into state. It
// returns render.ErrInFlight, changing nothing, while a turn is running.
func (c *Client) Chat(ctx context.Context, state *render.State, chatID, text string) error {
	history := state.History()
	if !state.Begin(text) {
		return render.ErrInFlight
	}
	req := chat.Request{Messages: history, NewMessage: text, ChatID: chatID}
	if err := c.Stream(ctx, req, state.Apply); err != nil {
		state.Fail(err)
		return err
	}
	return nil
}

// History fetches the stored turns of a chat.
func (c *Client) History(ctx context.Context, chatID string) ([]chat.Turn, error) {
	target := buildTargetURL(c.baseURL, fmt.Sprintf(historyPath, chatID), "")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var turns []chat.Turn
	if err := json.NewDecoder(resp.Body).Decode(&turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}

func buildTargetURL(baseURL, path, rawQuery string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		u = &url.URL{Scheme: "http", Host: "localhost:8080"}
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}
