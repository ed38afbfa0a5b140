package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"eventlane/internal/config"
	"eventlane/internal/model"
	"eventlane/internal/registry"
	"eventlane/internal/store"
)

type listOptions struct {
	stage  string
	format string
}

type listedRecord struct {
	model.EventRecord
	Stage model.Stage `json:"stage"`
}

// NewListCommand creates the command that prints persisted records.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print persisted records with their lifecycle stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, opts, cmd, time.Now())
		},
	}
	cmd.Flags().StringVar(&opts.stage, "stage", "", "only records in this stage")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format (json|text)")
	return cmd
}

func runList(rootOpts *RootOptions, opts *listOptions, cmd *cobra.Command, now time.Time) error {
	if !isValidFormat(opts.format) {
		return fmt.Errorf("invalid format %q: must be one of %v", opts.format, ValidFormats)
	}
	cfg, _, err := loadConfig(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	recs, err := listRecords(cfg, model.Stage(opts.stage), now)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	loc := cfg.Location()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTAGE\tSTART\tTITLE\tSCOPE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s/%s\n",
			r.ID, r.Stage, r.StartTime.In(loc).Format("2006-01-02 15:04"), r.Title, r.ServerID, r.ChannelID)
	}
	return tw.Flush()
}

// listRecords loads the store read-only and derives each record's stage.
func listRecords(cfg *config.Config, stage model.Stage, now time.Time) ([]listedRecord, error) {
	fs, err := store.NewFileStore(filepath.Join(cfg.DataDir, recordsDir))
	if err != nil {
		return nil, err
	}
	reg := registry.New(fs)
	if _, err := reg.Load(); err != nil {
		return nil, err
	}
	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
	lead := leadTimes(cfg)

	out := make([]listedRecord, 0)
	for _, rec := range reg.ListAll() {
		st := model.StageAt(rec, now, cutoff, lead)
		if stage != "" && st != stage {
			continue
		}
		out = append(out, listedRecord{EventRecord: rec, Stage: st})
	}
	return out, nil
}
