package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateConfigCommand creates the validate-config command.
func NewValidateConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Check the config file",
		Long: `Load the config file, fill in defaults and report every setting that is
still invalid. A missing file is created with defaults first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s is invalid:\n%w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d calendars)\n", path, len(cfg.Calendars))
			return nil
		},
	}
}
