package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/neonflow/internal/presentation/tui"
	"github.com/aretw0/neonflow/pkg/session"
)

// ChatOptions configures the interactive chat loop.
type ChatOptions struct {
	SessionID string
	Prompt    string
	Render    tui.Renderer
}

// RunChat reads lines from in and dispatches them to the session until EOF,
// "exit" or "quit", or until ctx is canceled.
func RunChat(ctx context.Context, m *session.Manager, in io.Reader, out io.Writer, opts ChatOptions) error {
	if opts.SessionID == "" {
		opts.SessionID = "cli"
	}
	if opts.Prompt == "" {
		opts.Prompt = "> "
	}
	if opts.Render == nil {
		opts.Render = tui.Plain
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	printSystemMessage(out, "Type /help for commands, exit to quit.")
	for {
		fmt.Fprint(out, opts.Prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		}

		reply, err := m.Dispatch(ctx, opts.SessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			printSystemMessage(out, "error: %v", err)
			continue
		}
		rendered, err := opts.Render(reply.Text)
		if err != nil {
			rendered = reply.Text + "\n"
		}
		fmt.Fprint(out, rendered)
	}
}
