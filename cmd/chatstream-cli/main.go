// Command chatstream-cli chats with a chatstream server from the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/namikmesic/chatstream/internal/chat"
	"github.com/namikmesic/chatstream/internal/config"
	"github.com/namikmesic/chatstream/internal/content"
	"github.com/namikmesic/chatstream/internal/render"
	"github.com/namikmesic/chatstream/internal/session"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	url := flag.String("url", cfg.URL, "chatstream server base URL")
	chatID := flag.String("chat", "", "chat id to continue (default: a new chat)")
	plain := flag.Bool("plain", !cfg.Styled, "disable styling")
	transcriptPath := flag.String("transcript", "", "write the raw event stream to this file")
	saveDir := flag.String("save-docs", "", "save document blocks from replies into this directory")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	opts := []session.ClientOption{session.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})}
	if *transcriptPath != "" {
		f, err := os.Create(*transcriptPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create transcript")
		}
		defer f.Close()
		opts = append(opts, session.WithTranscript(f))
	}
	client := session.NewClient(*url, opts...)
	term := render.NewTerminal(!*plain, 0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	id := *chatID
	var history []chat.Turn
	if id == "" {
		id = uuid.NewString()
	} else {
		turns, err := client.History(ctx, id)
		if err != nil {
			log.Fatal().Err(err).Str("chat_id", id).Msg("failed to load history")
		}
		history = turns
	}

	state := render.NewState(history)
	for _, m := range state.Messages() {
		fmt.Print(term.Message(m))
	}
	fmt.Fprintf(os.Stderr, "chat %s (Ctrl-D to quit)\n", id)

	if err := repl(ctx, os.Stdin, os.Stdout, client, state, term, id, *saveDir); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("chat ended")
	}
}

func repl(ctx context.Context, in io.Reader, out io.Writer, client *session.Client, state *render.State, term *render.Terminal, chatID, saveDir string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		// Raw tokens go out as they arrive; the finished reply is then
		// redrawn with blocks rendered.
		shown := ""
		state.OnChange(func(s render.Snapshot) {
			if !s.InFlight || s.Streamed == "" {
				return
			}
			n := commonPrefix(shown, s.Streamed)
			if n < len(shown) {
				// A tool record was rewritten in place.
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, s.Streamed[n:])
			shown = s.Streamed
		})

		err := client.Chat(ctx, state, chatID, text)
		state.OnChange(nil)
		fmt.Fprintln(out)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprint(out, term.Failure(err.Error()))
			continue
		}

		msgs := state.Messages()
		if len(msgs) == 0 {
			continue
		}
		reply := msgs[len(msgs)-1]
		fmt.Fprint(out, term.Message(reply))
		if saveDir == "" {
			continue
		}
		saved, err := saveDocuments(saveDir, reply.Content)
		for _, path := range saved {
			fmt.Fprintf(out, "saved %s\n", path)
		}
		if err != nil {
			log.Warn().Err(err).Str("dir", saveDir).Msg("failed to save documents")
			fmt.Fprint(out, term.Failure(err.Error()))
		}
	}
}

// saveDocuments writes every document block in text to dir and returns the
// paths written. Names are reduced to their base so a reply cannot write
// outside dir.
func saveDocuments(dir, text string) ([]string, error) {
	var docs []content.DocumentBlock
	for _, seg := range content.Extract(text) {
		if doc, ok := seg.(content.DocumentBlock); ok {
			docs = append(docs, doc)
		}
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var saved []string
	for _, doc := range docs {
		path := filepath.Join(dir, documentName(doc))
		if err := os.WriteFile(path, []byte(doc.Body), 0o644); err != nil {
			return saved, fmt.Errorf("write %s: %w", path, err)
		}
		saved = append(saved, path)
	}
	return saved, nil
}

func documentName(doc content.DocumentBlock) string {
	name := filepath.Base(strings.TrimSpace(doc.Filename))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return "document." + doc.Extension
	}
	return name
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
