package cmds

import (
	"context"
	"sort"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/pkg/errors"
)

type HealthCommand struct {
	*cmds.CommandDescription
	app *app
}

var _ cmds.GlazeCommand = &HealthCommand{}

func NewHealthCommand(a *app) (*HealthCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create command settings section")
	}

	desc := cmds.NewCommandDescription(
		"health",
		cmds.WithShort("Check that the backend is reachable"),
		cmds.WithLong("Call the backend's test endpoint and print one row with its answer."),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)

	return &HealthCommand{CommandDescription: desc, app: a}, nil
}

func (c *HealthCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	cl, err := c.app.newClient()
	if err != nil {
		return err
	}
	h, err := cl.CheckHealth(ctx)
	if err != nil {
		return err
	}
	return gp.AddRow(ctx, healthRow(cl.BaseURL(), h))
}

// healthRow lists the base URL and the message first, followed by any other
// fields of the backend's answer in key order.
func healthRow(baseURL string, h *conversation.HealthStatus) types.Row {
	msg := h.Message
	if msg == "" {
		msg = h.Body
	}
	row := types.NewRow(
		types.MRP("base_url", baseURL),
		types.MRP("status", "ok"),
		types.MRP("message", msg),
	)

	keys := make([]string, 0, len(h.Raw))
	for k := range h.Raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := row.Get(k); ok {
			continue
		}
		row.Set(k, h.Raw[k])
	}
	return row
}
