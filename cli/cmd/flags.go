// Package cmd provides CLI commands for the cinema binary.
package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/inealey/cinema-transfer/cli/config"
	"github.com/inealey/cinema-transfer/log"
)

// Exit codes shared by every command.
const (
	exitSuccess       = 0
	exitFailure       = 1
	exitConfigError   = 2
	exitNothingToSend = 3
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// Shared flags for commands that read a config file or log.
var (
	// ConfigFlag points at a cinema.yaml file whose values act as flag
	// defaults.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to cinema.yaml config file",
		EnvVars: []string{"CINEMA_CONFIG"},
	}

	// LogLevelFlag sets the minimum log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
		Value: "info",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// loadConfig loads the --config file. It returns nil when no file is given.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("config: %v", err), exitConfigError)
	}
	return cfg, nil
}

// newLogger builds a component logger at the resolved --log-level.
func newLogger(c *cli.Context, cfg *config.Config, component string) (*log.Logger, error) {
	text := resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.LogLevel }))
	level, err := log.ParseLevel(text)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid --log-level: %v", err), exitConfigError)
	}
	logger := log.NewLogger(component)
	logger.SetLevel(level)
	return logger, nil
}

// configVal reads a field from an optional config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// resolveString applies flag precedence: an explicitly set flag wins, then
// a non-empty config value, then the flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

// resolveInt is resolveString for int flags; a zero config value is unset.
func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

// resolveBool lets either an explicit flag or the config enable a switch.
func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

// resolveDuration is resolveString for duration flags.
func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}
