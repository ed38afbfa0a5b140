package cli

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"eventlane/internal/backup"
	appLog "eventlane/internal/log"
	"eventlane/internal/registry"
	"eventlane/internal/store"
)

type backupOptions struct {
	out    string
	skipS3 bool
}

// NewBackupCommand creates the command that snapshots records as JSONL.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &backupOptions{}
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSONL snapshot of all records",
		Long: `Write a JSONL snapshot of all records to --out ("-" for stdout) and, when
backup.s3_bucket is configured, upload it to S3.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(rootOpts, opts, cmd, time.Now())
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", `write the snapshot to this file ("-" for stdout)`)
	cmd.Flags().BoolVar(&opts.skipS3, "no-s3", false, "do not upload even if a bucket is configured")
	return cmd
}

func runBackup(rootOpts *RootOptions, opts *backupOptions, cmd *cobra.Command, now time.Time) error {
	cfg, _, err := loadConfig(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	upload := cfg.Backup.S3Bucket != "" && !opts.skipS3
	if opts.out == "" && !upload {
		return errors.New("nothing to do: pass --out or configure backup.s3_bucket")
	}

	fs, err := store.NewFileStore(filepath.Join(cfg.DataDir, recordsDir))
	if err != nil {
		return err
	}
	reg := registry.New(fs)
	n, err := reg.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	switch opts.out {
	case "":
	case "-":
		if err := backup.ExportJSONL(ctx, reg, cmd.OutOrStdout(), now); err != nil {
			return err
		}
	default:
		if err := writeSnapshot(cmd, reg, opts.out, now); err != nil {
			return err
		}
		appLog.Info("snapshot written", "path", opts.out, "records", n)
	}

	if upload {
		dest, err := backup.NewS3Destination(ctx, cfg.Backup.S3Bucket, cfg.Backup.S3Key, cfg.Backup.S3Region, cfg.Backup.S3Endpoint)
		if err != nil {
			return err
		}
		if err := backup.Run(ctx, reg, now, dest); err != nil {
			return err
		}
		appLog.Info("snapshot uploaded", "bucket", cfg.Backup.S3Bucket, "key", cfg.Backup.S3Key, "records", n)
	}
	return nil
}

func writeSnapshot(cmd *cobra.Command, reg *registry.Registry, path string, now time.Time) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := backup.ExportJSONL(cmd.Context(), reg, w, now); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
