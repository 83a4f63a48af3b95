package cmds

import (
	"path/filepath"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/go-go-golems/sqlchat/pkg/client"
	"github.com/go-go-golems/sqlchat/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const appName = "sqlchat"

// commands annotated as TUI log to a file by default, since they own the
// terminal
const annotationTUI = "sqlchat/tui"

// app holds what every subcommand needs once flags are parsed.
type app struct {
	version  string
	settings config.Settings
}

// NewRootCommand builds the sqlchat command tree. Running it without a
// subcommand starts the interactive chat.
func NewRootCommand(version string) (*cobra.Command, error) {
	a := &app{version: version}

	root := &cobra.Command{
		Use:   appName,
		Short: "Ask an NL2SQL backend questions about your data",
		Long: `sqlchat talks to an NL2SQL chat backend. It opens a conversation,
sends your questions in natural language and shows the assistant's answers.

Without a subcommand it starts the interactive chat.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, root)

	// flags clay already registered on the root are reused below
	if err := clay.InitViper(appName, root); err != nil {
		return nil, errors.Wrap(err, "could not initialize viper")
	}

	pf := root.PersistentFlags()
	pf.String("base-url", "", "Backend base URL (default "+config.DefaultBaseURL+")")
	pf.Duration("timeout", 0, "Per-request timeout, e.g. 30s")
	pf.Bool("dev", false, "Development mode: log every API request")
	pf.String("env-file", ".env", "dotenv file loaded before reading the environment")
	addFlagIfMissing(pf, "config", "", "Config file (default $HOME/.sqlchat/config.yaml)")
	addFlagIfMissing(pf, "log-level", "", "Log level (debug, info, warn, error)")
	addFlagIfMissing(pf, "log-file", "", "Write logs to this file instead of stderr")

	health, err := buildGlazedCommand(NewHealthCommand(a))
	if err != nil {
		return nil, err
	}
	query, err := buildGlazedCommand(NewQueryCommand(a))
	if err != nil {
		return nil, err
	}
	conversation, err := newConversationCommand(a)
	if err != nil {
		return nil, err
	}
	configCmd, err := newConfigCommand(a)
	if err != nil {
		return nil, err
	}

	chatCmd := newChatCommand(a)
	root.AddCommand(
		chatCmd,
		newAskCommand(a),
		health,
		conversation,
		query,
		configCmd,
	)

	root.RunE = chatCmd.RunE
	root.Flags().AddFlagSet(chatCmd.Flags())
	root.Annotations = map[string]string{annotationTUI: "true"}

	return root, nil
}

func buildGlazedCommand(c cmds.GlazeCommand, err error) (*cobra.Command, error) {
	if err != nil {
		return nil, err
	}
	return cli.BuildCobraCommand(c)
}

func addFlagIfMissing(fs *pflag.FlagSet, name, value, usage string) {
	if fs.Lookup(name) != nil {
		return
	}
	fs.String(name, value, usage)
}

// changedString returns the flag value only when it was set on the command
// line, so flag defaults never shadow the config file or the environment.
func changedString(cmd *cobra.Command, name string) string {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return ""
	}
	return f.Value.String()
}

func (a *app) overrides(cmd *cobra.Command) (config.Overrides, error) {
	o := config.Overrides{
		BaseURL:  changedString(cmd, "base-url"),
		LogLevel: changedString(cmd, "log-level"),
		LogFile:  changedString(cmd, "log-file"),
	}
	if cmd.Flags().Changed("timeout") {
		d, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return o, err
		}
		o.Timeout = d
	}
	if cmd.Flags().Changed("dev") {
		dev, err := cmd.Flags().GetBool("dev")
		if err != nil {
			return o, err
		}
		o.Development = dev
	}
	return o, nil
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return err
	}
	s, err := config.Load(config.LoadOptions{
		ConfigFile: changedString(cmd, "config"),
		EnvFile:    envFile,
	})
	if err != nil {
		return err
	}
	o, err := a.overrides(cmd)
	if err != nil {
		return err
	}
	s, err = s.Apply(o)
	if err != nil {
		return err
	}

	logFile := s.LogFile
	if logFile == "" && cmd.Annotations[annotationTUI] == "true" {
		if dir, err := config.DefaultDir(); err == nil {
			logFile = filepath.Join(dir, "sqlchat.log")
		}
	}
	logFile, err = config.ExpandPath(logFile)
	if err != nil {
		return err
	}

	viper.Set("log-level", s.EffectiveLogLevel())
	viper.Set("log-file", logFile)
	viper.Set("with-caller", s.Development)
	if err := logging.InitLoggerFromViper(); err != nil {
		return errors.Wrap(err, "could not initialize logger")
	}

	a.settings = s
	log.Debug().
		Str("base_url", s.BaseURL).
		Str("config_file", s.ConfigFile).
		Str("log_file", logFile).
		Dur("timeout", s.Timeout).
		Bool("development", s.Development).
		Msg("settings resolved")
	return nil
}

func (a *app) newClient() (*client.Client, error) {
	return client.New(a.settings,
		client.WithHeader("User-Agent", appName+"/"+a.version),
		client.WithDevelopment(a.settings.Development),
	)
}
