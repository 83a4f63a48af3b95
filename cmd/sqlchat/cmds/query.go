package cmds

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type QueryCommand struct {
	*cmds.CommandDescription
	app *app
}

type QuerySettings struct {
	SQL    string   `glazed:"sql"`
	Params []string `glazed:"params"`
}

var _ cmds.GlazeCommand = &QueryCommand{}

func NewQueryCommand(a *app) (*QueryCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create command settings section")
	}

	desc := cmds.NewCommandDescription(
		"query",
		cmds.WithShort("Run a raw SQL query on the backend"),
		cmds.WithLong(`Run a raw SQL query through the backend's query endpoint and print
one row per result row.

Parameters are bound positionally. Each one is read as JSON when it parses
(numbers, true/false, null, quoted strings) and as a plain string otherwise.

Examples:
  sqlchat query "SELECT COUNT(*) AS total FROM customers"
  sqlchat query "SELECT * FROM orders WHERE total > ?" 100 --output json`),
		cmds.WithArguments(
			fields.New(
				"sql",
				fields.TypeString,
				fields.WithHelp("SQL statement to run"),
				fields.WithRequired(true),
			),
			fields.New(
				"params",
				fields.TypeStringList,
				fields.WithHelp("Positional parameters bound to the statement"),
				fields.WithDefault([]string{}),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)

	return &QueryCommand{CommandDescription: desc, app: a}, nil
}

func (c *QueryCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &QuerySettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	return c.run(ctx, s, gp)
}

func (c *QueryCommand) run(ctx context.Context, s *QuerySettings, gp middlewares.Processor) error {
	cl, err := c.app.newClient()
	if err != nil {
		return err
	}
	res, err := cl.RunQuery(ctx, s.SQL, parseParams(s.Params))
	if err != nil {
		return err
	}
	return addResultRows(ctx, gp, res)
}

func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err == nil {
			params = append(params, v)
			continue
		}
		params = append(params, arg)
	}
	return params
}

// addResultRows emits one row per result row, every row carrying the full
// column set. A backend message becomes a single "message" row.
func addResultRows(ctx context.Context, gp middlewares.Processor, res *conversation.QueryResults) error {
	if res.Message != "" {
		return gp.AddRow(ctx, types.NewRow(types.MRP("message", res.Message)))
	}
	if len(res.Rows) == 0 {
		log.Info().Msg("query returned no rows")
		return nil
	}

	cols := res.Columns()
	for _, r := range res.Rows {
		row := types.NewRow()
		for _, col := range cols {
			row.Set(col, r[col])
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
