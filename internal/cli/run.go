package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eventlane/internal/backup"
	"eventlane/internal/events"
	appLog "eventlane/internal/log"
	"eventlane/internal/runner"
	"eventlane/internal/web"
)

const version = "0.1.0"

type runOptions struct {
	listen string
}

// NewRunCommand creates the long-running service command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler, calendar refresh and status API",
		Long: `Run eventlane as a service.

Calendars are refreshed on the configured cron schedule, the lifecycle tick
runs every tick_interval and the status API listens on the configured
address. SIGINT or SIGTERM shuts everything down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			return runService(ctx, rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runService(ctx context.Context, rootOpts *RootOptions, opts *runOptions, cmd *cobra.Command) error {
	appLog.Info("eventlane starting", "version", version)

	cfg, path, err := loadConfig(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	appLog.Info("effective config",
		"config_path", path,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"data_dir", cfg.DataDir,
		"calendars", len(cfg.Calendars),
		"refresh", cfg.RefreshCron,
		"tick_interval", cfg.TickInterval,
		"nats", cfg.NATS.URL != "",
		"backup", cfg.Backup.S3Bucket != "",
	)

	client, closeClient, err := platformClient(cfg, false)
	if err != nil {
		return err
	}
	defer closeClient()

	pub, err := publisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	a, err := newApp(cfg, appOptions{client: client, pub: pub})
	if err != nil {
		return err
	}

	r := runner.New(ctx, cfg.Location())
	if err := r.Every("tick", cfg.TickInterval, a.tick); err != nil {
		return err
	}
	if err := r.Cron("refresh", cfg.RefreshCron, a.refresh); err != nil {
		return err
	}
	if cfg.Backup.S3Bucket != "" {
		dest, err := backup.NewS3Destination(ctx, cfg.Backup.S3Bucket, cfg.Backup.S3Key, cfg.Backup.S3Region, cfg.Backup.S3Endpoint)
		if err != nil {
			return err
		}
		if err := r.Cron("backup", cfg.Backup.Cron, func(ctx context.Context) error {
			return backup.Run(ctx, a.reg, time.Now(), dest)
		}); err != nil {
			return err
		}
	}

	if cfg.NATS.URL != "" {
		sub, err := events.NewNATSSubscriber(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer sub.Close()
		go func() {
			if err := events.ListenNotifications(ctx, sub, a.sched.Dispatch); err != nil {
				appLog.Error("platform notifications stopped", err)
			}
		}()
	}

	r.RunNow("refresh", a.refresh)
	r.RunNow("tick", a.tick)
	r.Start()

	srv := web.NewServer(cfg, a.reg, a.sched)
	err = srv.ListenAndServe(ctx)
	r.Stop()
	appLog.Info("eventlane exiting")
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
