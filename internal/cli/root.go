// Package cli implements the eventlane command tree.
package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"eventlane/internal/config"
	appLog "eventlane/internal/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string // overrides log_level when set
	LogFormat  string // overrides log_format when set
}

// ValidFormats are the output formats of commands that print records.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the eventlane CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "eventlane",
		Short: "eventlane - calendar events to chat scheduled events and threads",
		Long: `eventlane polls ICS calendars and drives every upcoming event through its
lifecycle on the chat platform: a scheduled event ahead of time, a discussion
thread shortly before start, archival once it is over.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or %s)", config.EnvPath, config.DefaultPath))
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewOnceCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewValidateConfigCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))

	return cmd
}

// loadConfig resolves and loads the config file, then points the logger at
// logOut with the effective level and format.
func loadConfig(opts *RootOptions, logOut io.Writer) (*config.Config, string, error) {
	path := config.ResolvePath(opts.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config %s: %w", path, err)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	appLog.SetOutput(logOut, cfg.LogFormat)
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, path, nil
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
