// Package main implements the pkgmirror command-line tool for mirroring
// vendor packages into git repositories.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/pkgmirror/internal/mirror"
)

const (
	defaultConfigPath = "/etc/pkgmirror/pkgmirror.toml"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pkgmirror",
	Short: "Mirror vendor packages into git repositories",
	Long: `pkgmirror aggregates composer package indexes, finds versions that have
not been mirrored yet and captures each of them as a commit and tag in a
dedicated git repository.

Find more information at: https://github.com/mirrorctl/pkgmirror`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("pkgmirror %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and the source list and report any issues.`,
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err) // Full details with stack trace
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}
	return err.Error()
}

// misplacedKeys maps keys commonly written at the top level to the table
// they belong to.
var misplacedKeys = map[string]string{
	"owner":      "hosting.owner",
	"org":        "hosting.owner",
	"token":      "hosting.token",
	"level":      "log.level",
	"format":     "log.format",
	"user_name":  "git.user_name",
	"user_email": "git.user_email",
	"branch":     "git.branch",
	"timeout":    "http.timeout",
}

// analyzeUndecoded examines undecoded TOML keys and provides helpful suggestions
func analyzeUndecoded(undecoded []toml.Key) (suggestions []string, unknown []string) {
	for _, key := range undecoded {
		keyStr := key.String()
		if want, ok := misplacedKeys[keyStr]; ok {
			suggestions = append(suggestions, fmt.Sprintf("Key '%s' should be '%s'", keyStr, want))
			continue
		}
		if strings.HasPrefix(keyStr, "github.") {
			suggestions = append(suggestions,
				fmt.Sprintf("Key '%s' should be '%s'", keyStr, strings.Replace(keyStr, "github.", "hosting.", 1)))
			continue
		}
		unknown = append(unknown, keyStr)
	}
	return suggestions, unknown
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	suggestions, unknown := analyzeUndecoded(undecoded)

	var errorMsg strings.Builder
	if len(suggestions) > 0 {
		errorMsg.WriteString("configuration contains keys that don't match expected structure:\n")
		for _, suggestion := range suggestions {
			errorMsg.WriteString("  • " + suggestion + "\n")
		}
		errorMsg.WriteString("\nNote: Configuration key names are case-sensitive and must match exactly.")
	}

	if len(unknown) > 0 {
		if errorMsg.Len() > 0 {
			errorMsg.WriteString("\n\nAdditionally, found unknown keys: ")
		} else {
			errorMsg.WriteString("configuration contains unknown keys: ")
		}
		errorMsg.WriteString(fmt.Sprintf("%v", unknown))
		errorMsg.WriteString("\nThese keys don't match any expected configuration structure.")
	}

	return errorMsg.String()
}

// decodeConfig reads the configuration file and applies environment
// overrides. A missing file is allowed when the environment provides
// the settings.
func decodeConfig(path string) (*mirror.Config, error) {
	config := mirror.NewConfig()
	meta, err := toml.DecodeFile(path, config)
	switch {
	case os.IsNotExist(err):
		slog.Debug("configuration file not found, using defaults and environment", "path", path)
	case err != nil:
		return nil, errors.Mark(errors.Wrap(err, "decode "+path), mirror.ErrConfig)
	default:
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Mark(errors.New(formatUndecodedError(undecoded)), mirror.ErrConfig)
		}
	}

	if err := config.ApplyEnvironmentVariables(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "environment"), mirror.ErrConfig)
	}
	return config, nil
}

// loadConfig decodes the configuration, installs the log handler and
// validates the result. It exits the process on failure.
func loadConfig(cmd *cobra.Command) *mirror.Config {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := decodeConfig(configPath)
	if err != nil {
		fail(cmd, "failed to load configuration", err)
	}

	if err := config.Log.Apply(); err != nil {
		slog.Error("failed to apply log config", "error", err)
		os.Exit(1)
	}
	if logLevel != "" {
		config.Log.Level = logLevel
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply command-line log level", "level", logLevel, "error", err)
			os.Exit(1)
		}
		slog.Debug("log level successfully overridden from command line", "level", logLevel)
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		if err := config.Log.Apply(); err != nil {
			slog.Error("failed to apply quiet log level", "error", err)
			os.Exit(1)
		}
	}

	if err := config.Check(); err != nil {
		slog.Error("invalid configuration", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}
	return config
}

// fail logs err and exits with status 1.
func fail(cmd *cobra.Command, msg string, err error) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	slog.Error(msg, "error", formatError(err, verboseErrors))
	if !verboseErrors {
		slog.Info("run with --verbose-errors for detailed stack traces")
	}
	os.Exit(1)
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := decodeConfig(configPath)
	if err != nil {
		fail(cmd, "failed to load configuration", err)
	}

	var validationErrors []error
	if err := config.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}
	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "global config"))
	}
	if err := config.CheckIdentity(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "identity"))
	}

	sources, err := mirror.LoadSources(config.SourcesPath())
	if err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "sources"))
	} else {
		for _, src := range sources.ComposerRepos {
			if err := src.Check(); err != nil {
				validationErrors = append(validationErrors, errors.Wrap(err, "sources"))
			}
		}
	}

	if len(validationErrors) > 0 {
		slog.Error("the configuration is not valid")
		for _, err := range validationErrors {
			slog.Error(formatError(err, verboseErrors))
		}
		os.Exit(1)
	}

	slog.Info("the configuration passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
