package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"chatd/internal/chat"
	"chatd/internal/manager"
)

func newChatCmd(opts *options) *cobra.Command {
	var (
		modelID  string
		system   string
		thinking bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat in the terminal",
		Long: "Interactive chat in the terminal.\n\n" +
			"Commands: /reset clears the history, /history prints it, /quit exits.\n" +
			"Ctrl+C while the model is answering stops generation; at the prompt it exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)
			mgr, err := newManager(cfg, logger, logPublisher{log: logger})
			if err != nil {
				return err
			}
			defer mgr.Close()

			so := manager.SessionOptions{Model: modelID}
			if cmd.Flags().Changed("system") {
				so.SystemPrompt = &system
			}
			if cmd.Flags().Changed("thinking") {
				so.AllowThinking = &thinking
			}
			ctx := context.Background()
			sess, err := mgr.CreateSession(ctx, so)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session %s on %s\n", sess.ID(), sess.ModelID())
			return repl(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model id (defaults to default-model)")
	cmd.Flags().StringVar(&system, "system", "", "System prompt for this session")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "Allow the model's reasoning block")
	return cmd
}

func repl(ctx context.Context, sess *chat.Session, in io.Reader, out io.Writer) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		case <-sigs:
			fmt.Fprintln(out)
			return nil
		}
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := sess.ResetHistory(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "history cleared")
			continue
		case "/history":
			h, err := sess.ChatHistory(ctx)
			if err != nil {
				return err
			}
			for _, m := range h {
				fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
			}
			continue
		}
		if err := answer(ctx, sess, line, out, sigs); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

// answer prints one streamed reply. An interrupt stops generation and the
// partial reply stays in the history.
func answer(ctx context.Context, sess *chat.Session, text string, out io.Writer, sigs <-chan os.Signal) error {
	stream, err := sess.Say(ctx, text)
	if err != nil {
		return err
	}
	for {
		select {
		case <-sigs:
			sess.Stop()
		case ev, ok := <-stream.Events():
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			switch ev.Kind {
			case chat.EventToken:
				fmt.Fprint(out, ev.Token)
			case chat.EventToolCall:
				fmt.Fprintf(out, "\n[tool %s]\n", ev.ToolCall.Name)
			case chat.EventDone:
				if ev.FinishReason != chat.FinishStop {
					fmt.Fprintf(out, " [%s]", ev.FinishReason)
				}
			case chat.EventError:
				fmt.Fprintln(out)
				return ev.Err
			}
		}
	}
}
