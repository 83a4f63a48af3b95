package cmds

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/go-go-golems/sqlchat/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newConfigCommand(a *app) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the sqlchat configuration",
	}
	show, err := buildGlazedCommand(NewConfigShowCommand(a))
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(show, newConfigInitCommand(a))
	return cmd, nil
}

type ConfigShowCommand struct {
	*cmds.CommandDescription
	app *app
}

var _ cmds.GlazeCommand = &ConfigShowCommand{}

func NewConfigShowCommand(a *app) (*ConfigShowCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed section")
	}

	desc := cmds.NewCommandDescription(
		"show",
		cmds.WithShort("Print the effective settings"),
		cmds.WithLong("Print the settings after merging defaults, the config file, the environment and flags."),
		cmds.WithSections(glazedLayer),
	)

	return &ConfigShowCommand{CommandDescription: desc, app: a}, nil
}

func (c *ConfigShowCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	return gp.AddRow(ctx, settingsRow(c.app.settings.View()))
}

func settingsRow(v config.View) types.Row {
	return types.NewRow(
		types.MRP("base-url", v.BaseURL),
		types.MRP("timeout-ms", v.TimeoutMs),
		types.MRP("retry-attempts", v.RetryAttempts),
		types.MRP("development", v.Development),
		types.MRP("log-level", v.LogLevel),
		types.MRP("log-file", v.LogFile),
		types.MRP("config-file", v.ConfigFile),
	)
}

// configForm holds the string values edited by the init form.
type configForm struct {
	BaseURL       string
	TimeoutMs     string
	RetryAttempts string
	Development   bool
	LogLevel      string
}

func newConfigForm(s config.Settings) *configForm {
	level := s.LogLevel
	if level == "" {
		level = config.DefaultLogLevel
	}
	return &configForm{
		BaseURL:       s.BaseURL,
		TimeoutMs:     strconv.FormatInt(s.Timeout.Milliseconds(), 10),
		RetryAttempts: strconv.Itoa(s.RetryAttempts),
		Development:   s.Development,
		LogLevel:      level,
	}
}

func (f *configForm) run() error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend base URL").
				Value(&f.BaseURL).
				Validate(validateBaseURL),
			huh.NewInput().
				Title("Request timeout (ms)").
				Value(&f.TimeoutMs).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Retry attempts").
				Description("Stored for reference; retries are manual.").
				Value(&f.RetryAttempts).
				Validate(validateNonNegativeInt),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Development mode?").
				Description("Logs every API request.").
				Value(&f.Development),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&f.LogLevel),
		),
	)
	return form.Run()
}

func (f *configForm) apply(s config.Settings) (config.Settings, error) {
	if err := validateBaseURL(f.BaseURL); err != nil {
		return s, err
	}
	ms, err := strconv.Atoi(strings.TrimSpace(f.TimeoutMs))
	if err != nil || ms <= 0 {
		return s, errors.Errorf("invalid timeout %q", f.TimeoutMs)
	}
	retries, err := strconv.Atoi(strings.TrimSpace(f.RetryAttempts))
	if err != nil || retries < 0 {
		return s, errors.Errorf("invalid retry attempts %q", f.RetryAttempts)
	}
	s.BaseURL = strings.TrimSpace(f.BaseURL)
	s.Timeout = time.Duration(ms) * time.Millisecond
	s.RetryAttempts = retries
	s.Development = f.Development
	s.LogLevel = f.LogLevel
	return s, s.Validate()
}

func validateBaseURL(v string) error {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("enter an http(s) URL such as http://localhost:4000")
	}
	return nil
}

func validatePositiveInt(v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return errors.New("enter a positive number")
	}
	return nil
}

func validateNonNegativeInt(v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return errors.New("enter zero or a positive number")
	}
	return nil
}

func newConfigInitCommand(a *app) *cobra.Command {
	var (
		path  string
		yes   bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file interactively",
		Long: `Write a config file. The form starts from the effective settings, so
flags and environment variables can pre-fill it. With --yes the current
settings are written without prompting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := path
			if target == "" {
				target = a.settings.ConfigFile
			}
			if target == "" {
				p, err := config.DefaultConfigFile()
				if err != nil {
					return err
				}
				target = p
			}
			target, err := config.ExpandPath(target)
			if err != nil {
				return err
			}
			if _, err := os.Stat(target); err == nil && !force {
				return errors.Errorf("%s already exists, use --force to overwrite", target)
			}

			form := newConfigForm(a.settings)
			if !yes {
				if !isatty.IsTerminal(os.Stdin.Fd()) {
					return errors.New("config init needs a terminal, use --yes to write the current settings")
				}
				if err := form.run(); err != nil {
					return errors.Wrap(err, "config form aborted")
				}
			}
			s, err := form.apply(a.settings)
			if err != nil {
				return err
			}
			if err := config.Save(target, s); err != nil {
				return err
			}
			log.Debug().Str("path", target).Msg("config written")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return err
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Where to write the config (default $HOME/.sqlchat/config.yaml)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Write the current settings without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
