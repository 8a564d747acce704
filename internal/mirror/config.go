package mirror

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pkgmirror/internal/gitrepo"
)

const (
	defaultLedgerFile  = "packages.json"
	defaultSourcesFile = "sources.json"
	defaultWorkDirName = "temp"
	defaultStepTimeout = 10 * time.Minute
	defaultHTTPTimeout = 5 * time.Minute
	defaultMaxRetries  = 3
	defaultBranch      = "main"
	providerGitHub     = "github"
)

var defaultStripPaths = []string{".gitignore", ".github"}

// Duration is a time.Duration read from strings like "90s" or "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// HostingConfig selects the service destination repositories live on.
type HostingConfig struct {
	Provider  string `toml:"provider"`
	Owner     string `toml:"owner"`
	Token     string `toml:"token"`
	APIURL    string `toml:"api_url"`
	CloneHost string `toml:"clone_host"`
}

// GitConfig holds the identity and branch used for automated commits.
type GitConfig struct {
	UserName  string `toml:"user_name"`
	UserEmail string `toml:"user_email"`
	Branch    string `toml:"branch"`
}

// Identity returns the configured commit identity.
func (g GitConfig) Identity() gitrepo.Identity {
	return gitrepo.Identity{Name: g.UserName, Email: g.UserEmail}
}

// HTTPConfig tunes artifact downloads and hosting API calls.
type HTTPConfig struct {
	MaxRetries int      `toml:"max_retries"`
	Timeout    Duration `toml:"timeout"`
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/pkgmirror.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	DataDir     string        `toml:"data_dir"`
	WorkDir     string        `toml:"work_dir"`
	LedgerFile  string        `toml:"ledger_file"`
	SourcesFile string        `toml:"sources_file"`
	StepTimeout Duration      `toml:"step_timeout"`
	StripPaths  []string      `toml:"strip_paths"`
	VaultPass   string        `toml:"vault_pass"`
	Log         LogConfig     `toml:"log"`
	Hosting     HostingConfig `toml:"hosting"`
	Git         GitConfig     `toml:"git"`
	HTTP        HTTPConfig    `toml:"http"`
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		LedgerFile:  defaultLedgerFile,
		SourcesFile: defaultSourcesFile,
		StepTimeout: Duration{defaultStepTimeout},
		StripPaths:  append([]string(nil), defaultStripPaths...),
		Hosting:     HostingConfig{Provider: providerGitHub},
		Git: GitConfig{
			UserName:  gitrepo.BotIdentity.Name,
			UserEmail: gitrepo.BotIdentity.Email,
			Branch:    defaultBranch,
		},
		HTTP: HTTPConfig{
			MaxRetries: defaultMaxRetries,
			Timeout:    Duration{defaultHTTPTimeout},
		},
	}
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.DataDir == "" {
		return errors.Mark(errors.New("data_dir is not set"), ErrConfig)
	}
	if !filepath.IsAbs(c.DataDir) {
		return errors.Mark(errors.New("data_dir must be an absolute path"), ErrConfig)
	}
	if c.WorkDir != "" && !filepath.IsAbs(c.WorkDir) {
		return errors.Mark(errors.New("work_dir must be an absolute path"), ErrConfig)
	}
	for _, name := range []string{c.LedgerFile, c.SourcesFile} {
		if name == "" {
			return errors.Mark(errors.New("ledger_file and sources_file must not be empty"), ErrConfig)
		}
	}
	if c.StepTimeout.Duration < 0 {
		return errors.Mark(errors.New("step_timeout must not be negative"), ErrConfig)
	}
	for _, p := range c.StripPaths {
		if err := validateRelativePath(p); err != nil {
			return errors.Mark(errors.Wrap(err, "strip_paths"), ErrConfig)
		}
	}
	if p := c.Hosting.Provider; p != "" && p != providerGitHub {
		return errors.Mark(errors.Newf("unsupported hosting provider: %s", p), ErrConfig)
	}
	if c.Git.Branch == "" {
		return errors.Mark(errors.New("git.branch is not set"), ErrConfig)
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.Mark(errors.New("http.max_retries must not be negative"), ErrConfig)
	}
	return nil
}

// CheckIdentity validates the settings needed to create and push to
// destination repositories.
func (c *Config) CheckIdentity() error {
	if c.Hosting.Owner == "" {
		return errors.Mark(errors.New("hosting owner is not set (hosting.owner, GITHUB_ORG)"), ErrConfig)
	}
	if c.Hosting.Token == "" {
		return errors.Mark(errors.New("hosting token is not set (hosting.token, GITHUB_PAT)"), ErrConfig)
	}
	if c.Git.UserName == "" || c.Git.UserEmail == "" {
		return errors.Mark(errors.New("git.user_name and git.user_email must be set"), ErrConfig)
	}
	return nil
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// LedgerPath returns the path of the ledger file.
func (c *Config) LedgerPath() string {
	return c.resolve(c.LedgerFile)
}

// SourcesPath returns the path of the source configuration file.
func (c *Config) SourcesPath() string {
	return c.resolve(c.SourcesFile)
}

// WorkPath returns the scratch workspace directory.
func (c *Config) WorkPath() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(c.DataDir, defaultWorkDirName)
}
