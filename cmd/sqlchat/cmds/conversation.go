package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newConversationCommand(a *app) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect conversations on the backend",
	}
	get, err := buildGlazedCommand(NewConversationGetCommand(a))
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(get, newConversationNewCommand(a))
	return cmd, nil
}

type ConversationGetCommand struct {
	*cmds.CommandDescription
	app *app
}

type ConversationGetSettings struct {
	ID string `glazed:"id"`
}

var _ cmds.GlazeCommand = &ConversationGetCommand{}

func NewConversationGetCommand(a *app) (*ConversationGetCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create command settings section")
	}

	desc := cmds.NewCommandDescription(
		"get",
		cmds.WithShort("Print the messages of a conversation"),
		cmds.WithLong("Fetch a conversation and print one row per message, oldest first."),
		cmds.WithArguments(
			fields.New(
				"id",
				fields.TypeString,
				fields.WithHelp("Conversation id"),
				fields.WithRequired(true),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)

	return &ConversationGetCommand{CommandDescription: desc, app: a}, nil
}

func (c *ConversationGetCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ConversationGetSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	return c.run(ctx, s, gp)
}

func (c *ConversationGetCommand) run(ctx context.Context, s *ConversationGetSettings, gp middlewares.Processor) error {
	cl, err := c.app.newClient()
	if err != nil {
		return err
	}
	conv, err := cl.GetConversation(ctx, s.ID)
	if err != nil {
		return err
	}
	return addMessageRows(ctx, gp, conv)
}

func addMessageRows(ctx context.Context, gp middlewares.Processor, conv *conversation.Conversation) error {
	for i, m := range conv.Messages {
		row := types.NewRow(
			types.MRP("conversation_id", conv.ID),
			types.MRP("index", i),
			types.MRP("role", string(m.Role)),
			types.MRP("content", m.Content),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func newConversationNewCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a conversation and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newClient()
			if err != nil {
				return err
			}
			conv, err := c.CreateConversation(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return err
		},
	}
}
