package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"eventlane/internal/lifecycle"
	appLog "eventlane/internal/log"
)

type onceOptions struct {
	live   bool
	format string
}

type onceResult struct {
	RefreshError string               `json:"refresh_error,omitempty"`
	TickError    string               `json:"tick_error,omitempty"`
	Records      int                  `json:"records"`
	Tick         lifecycle.TickReport `json:"tick"`
	DryRun       bool                 `json:"dry_run"`
}

// NewOnceCommand creates the single-cycle command.
func NewOnceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &onceOptions{}
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one calendar refresh and one lifecycle tick, then exit",
		Long: `Run one calendar refresh and one lifecycle tick, then exit.

By default the tick runs against an in-memory platform and a scratch copy of
the records, so nothing persisted changes. --live uses the configured NATS
platform bridge and the real data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.live, "live", false, "act on the real platform and records")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format (json|text)")
	return cmd
}

func runOnce(rootOpts *RootOptions, opts *onceOptions, cmd *cobra.Command) error {
	if !isValidFormat(opts.format) {
		return fmt.Errorf("invalid format %q: must be one of %v", opts.format, ValidFormats)
	}
	cfg, path, err := loadConfig(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	if opts.live && cfg.NATS.URL == "" {
		return fmt.Errorf("--live needs nats.url in %s", path)
	}

	appOpts := appOptions{}
	if !opts.live {
		dir, cleanup, err := scratchStore(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		appOpts.storeRoot = dir
	} else {
		pub, err := publisher(cfg)
		if err != nil {
			return err
		}
		defer pub.Close()
		appOpts.pub = pub
	}
	client, closeClient, err := platformClient(cfg, !opts.live)
	if err != nil {
		return err
	}
	defer closeClient()
	appOpts.client = client

	a, err := newApp(cfg, appOpts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	res := onceResult{DryRun: !opts.live}
	if err := a.refresh(ctx); err != nil {
		appLog.Error("refresh finished with errors", err)
		res.RefreshError = err.Error()
	}
	report, err := a.sched.RunTick(ctx)
	if err != nil {
		res.TickError = err.Error()
	}
	res.Tick = report
	res.Records = a.reg.Len()

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	mode := "live"
	if res.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(out, "mode:            %s\n", mode)
	fmt.Fprintf(out, "records:         %d\n", res.Records)
	fmt.Fprintf(out, "in lane:         %d\n", report.InLane)
	fmt.Fprintf(out, "events created:  %d\n", report.EventsCreated)
	fmt.Fprintf(out, "threads created: %d\n", report.ThreadsCreated)
	fmt.Fprintf(out, "archived:        %d\n", report.Archived)
	fmt.Fprintf(out, "failed:          %d\n", report.Failed)
	if res.RefreshError != "" {
		fmt.Fprintf(out, "refresh errors:  %s\n", res.RefreshError)
	}
	if res.TickError != "" {
		fmt.Fprintf(out, "tick errors:     %s\n", res.TickError)
	}
	return nil
}
