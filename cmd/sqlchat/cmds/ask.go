package cmds

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/sqlchat/pkg/chat"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/go-go-golems/sqlchat/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultTermWidth = 100

func newAskCommand(a *app) *cobra.Command {
	var showHistory bool
	var raw bool

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a single question and print the answer",
		Example: `  sqlchat ask How many customers do we have?
  sqlchat ask --show-history "What are our top selling products?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question is empty")
			}

			c, err := a.newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			session := chat.NewSession(ctx, c,
				chat.WithBaseURL(c.BaseURL()),
				chat.WithLogger(log.With().Str("component", "ask").Logger()),
			)
			defer session.Close()

			if err := session.Initialize(ctx); err != nil {
				return errors.Wrap(err, session.Error())
			}
			if err := session.Send(ctx, question); err != nil {
				return errors.Wrap(err, chat.ErrSendFailed)
			}

			out := cmd.OutOrStdout()
			width, tty := outputWidth(out)
			if raw {
				tty = false
			}

			if showHistory {
				renderer := ui.NewMessageRenderer(width)
				if tty {
					renderer = ui.NewMessageRenderer(width, ui.WithMarkdown("auto"))
				}
				_, err := fmt.Fprintln(out, renderer.RenderAll(session.Messages()))
				return err
			}

			answer, ok := conversation.LastAssistant(session.Messages())
			if !ok {
				return errors.New("backend did not answer")
			}
			return printAnswer(out, answer.Content, width, tty)
		},
	}

	cmd.Flags().BoolVar(&showHistory, "show-history", false, "Print every message of the conversation")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the answer without markdown rendering")
	return cmd
}

// outputWidth reports the terminal width of w and whether w is a terminal.
func outputWidth(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return defaultTermWidth, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultTermWidth, true
	}
	return width, true
}

func printAnswer(w io.Writer, answer string, width int, tty bool) error {
	if !tty {
		_, err := fmt.Fprintln(w, strings.TrimSpace(answer))
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Debug().Err(err).Msg("markdown renderer unavailable")
		_, err = fmt.Fprintln(w, answer)
		return err
	}
	rendered, err := r.Render(answer)
	if err != nil {
		rendered = answer + "\n"
	}
	_, err = fmt.Fprint(w, rendered)
	return err
}
