package cmds

import (
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/sqlchat/pkg/chat"
	"github.com/go-go-golems/sqlchat/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newChatCommand(a *app) *cobra.Command {
	var markdownStyle string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat",
		Long: `Start the interactive chat. The client checks that the backend is up,
opens a fresh conversation and shows the full history after every answer.

Logs go to $HOME/.sqlchat/sqlchat.log unless --log-file is set.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationTUI: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdin.Fd()) || !isatty.IsTerminal(os.Stdout.Fd()) {
				return errors.New("chat needs an interactive terminal, use `sqlchat ask` instead")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := a.newClient()
			if err != nil {
				return err
			}

			session := chat.NewSession(ctx, c,
				chat.WithBaseURL(c.BaseURL()),
				chat.WithLogger(log.With().Str("component", "chat").Logger()),
			)
			defer session.Close()

			var rendererOpts []ui.RendererOption
			if markdownStyle != "" && markdownStyle != "none" {
				rendererOpts = append(rendererOpts, ui.WithMarkdown(markdownStyle))
			}
			model := ui.NewChatModel(session, ui.WithRenderer(ui.NewMessageRenderer(0, rendererOpts...)))
			p := tea.NewProgram(model, tea.WithAltScreen())

			log.Info().Str("base_url", c.BaseURL()).Msg("starting chat")

			eg, egCtx := errgroup.WithContext(ctx)
			done := make(chan struct{})
			eg.Go(func() error {
				defer close(done)
				_, err := p.Run()
				return errors.Wrap(err, "chat program failed")
			})
			eg.Go(func() error {
				select {
				case <-egCtx.Done():
					log.Debug().Msg("signal received, quitting chat")
					p.Quit()
				case <-done:
				}
				return nil
			})

			if err := eg.Wait(); err != nil {
				return err
			}
			log.Info().Str("conversation_id", session.ConversationID()).Msg("chat finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&markdownStyle, "markdown-style", "auto", "Glamour style for answers (auto, dark, light, notty, none)")
	return cmd
}
