package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/MegaGrindStone/streamchat/internal/chat"
	"github.com/MegaGrindStone/streamchat/internal/models"
	"github.com/MegaGrindStone/streamchat/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type options struct {
	url        string
	stream     bool
	framing    string
	streamPath string
	replyPath  string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:           "streamchat [--url <base>] [--stream=false] [--framing sse|lines|text]",
		Short:         "Chat with a streamchat server from the terminal",
		Long:          "Reads one message per line from stdin and prints the reply as it streams in.\nType /clear to start over and /quit to leave.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "http://localhost:8787", "base URL of the chat server")
	flags.BoolVar(&opts.stream, "stream", true, "stream replies instead of waiting for the whole answer")
	flags.StringVar(&opts.framing, "framing", "sse", "how the streamed body is framed: sse, lines or text")
	flags.StringVar(&opts.streamPath, "stream-path", chat.DefaultStreamPath, "path of the streaming endpoint")
	flags.StringVar(&opts.replyPath, "reply-path", chat.DefaultReplyPath, "path of the whole-reply endpoint")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	return cmd
}

func runChat(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	framing, err := stream.ParseFraming(opts.framing)
	if err != nil {
		return err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	conv := chat.New(opts.url,
		chat.WithStreaming(opts.stream),
		chat.WithFraming(framing),
		chat.WithStreamPath(opts.streamPath),
		chat.WithReplyPath(opts.replyPath),
		chat.WithLogger(logger),
	)
	defer conv.Notices().Close()

	p := newPrinter(stdout)
	unsubscribe := conv.Transcript().Subscribe(p.update)
	defer unsubscribe()

	interactive := isTerminal(stdin)
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		if interactive {
			_, _ = fmt.Fprint(stdout, "> ")
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/clear":
			conv.Transcript().Reset()
			p.reset()
			continue
		}

		_, err := conv.Send(ctx, line)
		p.end()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Debug("Reply failed", slog.String("err", err.Error()))
			if errors.Is(err, chat.ErrBusy) {
				_, _ = fmt.Fprintln(stderr, "a reply is still in progress")
			}
		}
	}
	return scanner.Err()
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer writes transcript changes to the terminal. Streamed content arrives as the full accumulated
// text, so only the part not printed yet is written.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[string]int
	open    string
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, printed: make(map[string]int)}
}

func (p *printer) update(msgs []models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range msgs {
		if m.Role == models.RoleUser {
			p.printed[m.ID] = len(m.Content)
			continue
		}

		n, ok := p.printed[m.ID]
		if !ok {
			if p.open != "" {
				_, _ = fmt.Fprintln(p.w)
			}
			_, _ = fmt.Fprintf(p.w, "[%s] %s: ", m.Timestamp, m.Role)
			p.open = m.ID
		}
		if len(m.Content) > n {
			_, _ = io.WriteString(p.w, m.Content[n:])
		}
		p.printed[m.ID] = len(m.Content)
	}
}

// end closes the line of the last message written.
func (p *printer) end() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open != "" {
		_, _ = fmt.Fprintln(p.w)
		p.open = ""
	}
}

func (p *printer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.printed = make(map[string]int)
	p.open = ""
}
