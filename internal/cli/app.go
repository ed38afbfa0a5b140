package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eventlane/internal/config"
	"eventlane/internal/events"
	"eventlane/internal/ics"
	"eventlane/internal/lifecycle"
	appLog "eventlane/internal/log"
	"eventlane/internal/model"
	"eventlane/internal/platform"
	"eventlane/internal/platform/memory"
	"eventlane/internal/platform/natsrpc"
	"eventlane/internal/reconcile"
	"eventlane/internal/registry"
	"eventlane/internal/store"
)

const (
	recordsDir = "records"
	icsDir     = "ics-cache"
)

// app is the wired core: store, registry, scheduler and reconciler.
type app struct {
	cfg   *config.Config
	reg   *registry.Registry
	sched *lifecycle.Scheduler
	recon *reconcile.Reconciler
}

type appOptions struct {
	client platform.Client
	pub    events.Publisher
	// storeRoot overrides <data_dir>/records.
	storeRoot string
	now       func() time.Time
}

func newApp(cfg *config.Config, o appOptions) (*app, error) {
	if o.pub == nil {
		o.pub = events.NoopPublisher{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	root := o.storeRoot
	if root == "" {
		root = filepath.Join(cfg.DataDir, recordsDir)
	}
	fs, err := store.NewFileStore(root)
	if err != nil {
		return nil, err
	}
	reg := registry.New(fs, registry.WithClock(o.now))
	if _, err := reg.Load(); err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	feeds, cals := calendars(cfg)
	lookahead := time.Duration(cfg.LookaheadDays) * 24 * time.Hour
	source := ics.NewCalendar(ics.NewFetcher(filepath.Join(cfg.DataDir, icsDir)), feeds, lookahead, ics.WithClock(o.now))

	sched := lifecycle.New(reg, o.client, lifecycleConfig(cfg),
		lifecycle.WithClock(o.now), lifecycle.WithPublisher(o.pub))
	recon := reconcile.New(reg, cfg.RetentionDays,
		reconcile.WithClock(o.now), reconcile.WithPublisher(o.pub), reconcile.WithCalendars(source, cals...))
	return &app{cfg: cfg, reg: reg, sched: sched, recon: recon}, nil
}

func (a *app) tick(ctx context.Context) error {
	_, err := a.sched.RunTick(ctx)
	return err
}

func (a *app) refresh(ctx context.Context) error {
	return a.recon.Refresh(ctx)
}

func lifecycleConfig(cfg *config.Config) lifecycle.Config {
	return lifecycle.Config{
		EventCreateLead:     time.Duration(cfg.EventCreateLeadHours) * time.Hour,
		ThreadCreateLead:    time.Duration(cfg.ThreadCreateLeadHours) * time.Hour,
		Lookahead:           time.Duration(cfg.LookaheadDays) * 24 * time.Hour,
		EventDuration:       time.Duration(cfg.EventDurationHours) * time.Hour,
		ArchiveDelayMinutes: cfg.ArchiveDelayMinutes,
		AutoArchive:         cfg.AutoArchive,
		Location:            cfg.Location(),
	}
}

func leadTimes(cfg *config.Config) model.LeadTimes {
	return model.LeadTimes{
		EventCreate:  time.Duration(cfg.EventCreateLeadHours) * time.Hour,
		ThreadCreate: time.Duration(cfg.ThreadCreateLeadHours) * time.Hour,
	}
}

func calendars(cfg *config.Config) ([]ics.Feed, []reconcile.Calendar) {
	feeds := make([]ics.Feed, 0, len(cfg.Calendars))
	cals := make([]reconcile.Calendar, 0, len(cfg.Calendars))
	for _, c := range cfg.Calendars {
		feeds = append(feeds, ics.Feed{ID: c.ID, URL: c.URL})
		cals = append(cals, reconcile.Calendar{
			ID:    c.ID,
			Name:  c.Name,
			Scope: model.Scope{ServerID: c.ServerID, ChannelID: c.ChannelID},
		})
	}
	return feeds, cals
}

// platformClient returns the NATS bridge when nats.url is set and dryRun is
// false, otherwise an in-memory platform. closeFn is never nil on success.
func platformClient(cfg *config.Config, dryRun bool) (client platform.Client, closeFn func() error, err error) {
	if dryRun || cfg.NATS.URL == "" {
		if !dryRun {
			appLog.Info("no nats.url configured, using the in-memory dry-run platform")
		}
		return memory.New(), func() error { return nil }, nil
	}
	c, err := natsrpc.Dial(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// publisher returns a NATS publisher when nats.url is set.
func publisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// scratchStore copies the persisted records into a temporary directory so a
// dry run cannot overwrite real platform ids. The returned cleanup removes it.
func scratchStore(cfg *config.Config) (string, func(), error) {
	src, err := store.NewFileStore(filepath.Join(cfg.DataDir, recordsDir))
	if err != nil {
		return "", nil, err
	}
	recs, err := src.LoadAll()
	if err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp("", "eventlane-dryrun-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	dst, err := store.NewFileStore(dir)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	for _, rec := range recs {
		if err := dst.Put(rec); err != nil {
			cleanup()
			return "", nil, err
		}
	}
	return dir, cleanup, nil
}
