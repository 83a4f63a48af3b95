package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL       = "http://localhost:4000"
	DefaultTimeout       = 30000 * time.Millisecond
	DefaultRetryAttempts = 3
	DefaultLogLevel      = "info"

	EnvBaseURL       = "SQLCHAT_API_BASE_URL"
	EnvTimeout       = "SQLCHAT_API_TIMEOUT"
	EnvRetryAttempts = "SQLCHAT_API_RETRY_ATTEMPTS"
	EnvEnvironment   = "SQLCHAT_ENV"
	EnvConfigFile    = "SQLCHAT_CONFIG"
	EnvLogLevel      = "SQLCHAT_LOG_LEVEL"
	EnvLogFile       = "SQLCHAT_LOG_FILE"
)

// Settings is the client configuration. It is resolved once at startup and
// treated as read-only afterwards.
type Settings struct {
	BaseURL string
	Timeout time.Duration
	// RetryAttempts is carried for display and for whoever wires automatic
	// retries later. The request path does not consult it; retry is manual.
	RetryAttempts int
	Development   bool

	LogLevel string
	LogFile  string

	// ConfigFile is the YAML file the settings were read from, if any.
	ConfigFile string
}

// fileSettings mirrors the YAML file. Pointers distinguish "unset" from zero.
type fileSettings struct {
	BaseURL       *string `yaml:"base-url,omitempty"`
	TimeoutMs     *int    `yaml:"timeout-ms,omitempty"`
	RetryAttempts *int    `yaml:"retry-attempts,omitempty"`
	Development   *bool   `yaml:"development,omitempty"`
	LogLevel      *string `yaml:"log-level,omitempty"`
	LogFile       *string `yaml:"log-file,omitempty"`
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile is an explicit YAML file. It must exist when set.
	ConfigFile string
	// EnvFile is the dotenv file to load, ".env" when empty. A missing file
	// is not an error.
	EnvFile string
	// SkipDefaultConfigFile disables the lookup of $HOME/.sqlchat/config.yaml.
	SkipDefaultConfigFile bool
}

// Overrides are values set on the command line. Zero values mean "not set".
type Overrides struct {
	BaseURL     string
	Timeout     time.Duration
	Development bool
	LogLevel    string
	LogFile     string
}

func Defaults() Settings {
	return Settings{
		BaseURL:       DefaultBaseURL,
		Timeout:       DefaultTimeout,
		RetryAttempts: DefaultRetryAttempts,
		LogLevel:      DefaultLogLevel,
	}
}

// DefaultDir is $HOME/.sqlchat.
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".sqlchat"), nil
}

// DefaultConfigFile is $HOME/.sqlchat/config.yaml.
func DefaultConfigFile() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", errors.Wrapf(err, "could not expand %s", p)
	}
	return expanded, nil
}

// Load resolves settings from defaults, then the YAML file, then the dotenv
// file and the process environment. Command-line overrides are applied
// separately with Apply.
func Load(opts LoadOptions) (Settings, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// existing environment variables win over the dotenv file
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Settings{}, errors.Wrapf(err, "could not load %s", envFile)
	}

	s := Defaults()

	path, explicit := opts.ConfigFile, opts.ConfigFile != ""
	if path == "" {
		if v := os.Getenv(EnvConfigFile); v != "" {
			path, explicit = v, true
		}
	}
	if path == "" && !opts.SkipDefaultConfigFile {
		if p, err := DefaultConfigFile(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return Settings{}, err
		}
		path = expanded
		if err := s.mergeFile(path); err != nil {
			if explicit || !os.IsNotExist(errors.Cause(err)) {
				return Settings{}, err
			}
		} else {
			s.ConfigFile = path
		}
	}

	s.mergeEnv()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "could not read config file %s", path)
	}
	fs := fileSettings{}
	if err := yaml.Unmarshal(b, &fs); err != nil {
		return errors.Wrapf(err, "could not parse config file %s", path)
	}
	if fs.BaseURL != nil && strings.TrimSpace(*fs.BaseURL) != "" {
		s.BaseURL = strings.TrimSpace(*fs.BaseURL)
	}
	if fs.TimeoutMs != nil && *fs.TimeoutMs > 0 {
		s.Timeout = time.Duration(*fs.TimeoutMs) * time.Millisecond
	}
	if fs.RetryAttempts != nil && *fs.RetryAttempts >= 0 {
		s.RetryAttempts = *fs.RetryAttempts
	}
	if fs.Development != nil {
		s.Development = *fs.Development
	}
	if fs.LogLevel != nil && *fs.LogLevel != "" {
		s.LogLevel = *fs.LogLevel
	}
	if fs.LogFile != nil {
		s.LogFile = *fs.LogFile
	}
	return nil
}

func (s *Settings) mergeEnv() {
	s.BaseURL = getEnvOrDefault(EnvBaseURL, s.BaseURL)
	if ms := getEnvAsIntOrDefault(EnvTimeout, 0); ms > 0 {
		s.Timeout = time.Duration(ms) * time.Millisecond
	}
	if n := getEnvAsIntOrDefault(EnvRetryAttempts, -1); n >= 0 {
		s.RetryAttempts = n
	}
	if env := os.Getenv(EnvEnvironment); env != "" {
		s.Development = strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
	}
	s.LogLevel = getEnvOrDefault(EnvLogLevel, s.LogLevel)
	s.LogFile = getEnvOrDefault(EnvLogFile, s.LogFile)
}

// Apply layers command-line overrides on top of the loaded settings.
func (s Settings) Apply(o Overrides) (Settings, error) {
	if o.BaseURL != "" {
		s.BaseURL = o.BaseURL
	}
	if o.Timeout > 0 {
		s.Timeout = o.Timeout
	}
	if o.Development {
		s.Development = true
	}
	if o.LogLevel != "" {
		s.LogLevel = o.LogLevel
	}
	if o.LogFile != "" {
		s.LogFile = o.LogFile
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate normalizes the base URL and checks it is an absolute http(s) URL.
func (s *Settings) Validate() error {
	raw := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid base url %q", s.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("invalid base url %q: scheme must be http or https", s.BaseURL)
	}
	if u.Host == "" {
		return errors.Errorf("invalid base url %q: missing host", s.BaseURL)
	}
	s.BaseURL = raw
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.RetryAttempts < 0 {
		s.RetryAttempts = DefaultRetryAttempts
	}
	return nil
}

// EffectiveLogLevel is the configured level, bumped to debug in development
// mode unless a level was set explicitly.
func (s Settings) EffectiveLogLevel() string {
	if s.Development && (s.LogLevel == "" || s.LogLevel == DefaultLogLevel) {
		return "debug"
	}
	if s.LogLevel == "" {
		return DefaultLogLevel
	}
	return s.LogLevel
}

// Save writes the persistable part of s to path as YAML.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create %s", filepath.Dir(path))
	}
	ms := int(s.Timeout / time.Millisecond)
	fs := fileSettings{
		BaseURL:       &s.BaseURL,
		TimeoutMs:     &ms,
		RetryAttempts: &s.RetryAttempts,
		Development:   &s.Development,
	}
	if s.LogLevel != "" {
		fs.LogLevel = &s.LogLevel
	}
	if s.LogFile != "" {
		fs.LogFile = &s.LogFile
	}
	b, err := yaml.Marshal(fs)
	if err != nil {
		return errors.Wrap(err, "could not serialize settings")
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return errors.Wrapf(err, "could not write %s", path)
	}
	return nil
}

// View is the YAML-friendly representation printed by `config show`.
type View struct {
	BaseURL       string `yaml:"base-url"`
	TimeoutMs     int64  `yaml:"timeout-ms"`
	RetryAttempts int    `yaml:"retry-attempts"`
	Development   bool   `yaml:"development"`
	LogLevel      string `yaml:"log-level"`
	LogFile       string `yaml:"log-file,omitempty"`
	ConfigFile    string `yaml:"config-file,omitempty"`
}

func (s Settings) View() View {
	return View{
		BaseURL:       s.BaseURL,
		TimeoutMs:     s.Timeout.Milliseconds(),
		RetryAttempts: s.RetryAttempts,
		Development:   s.Development,
		LogLevel:      s.EffectiveLogLevel(),
		LogFile:       s.LogFile,
		ConfigFile:    s.ConfigFile,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
