// Package runner fires the periodic jobs (lifecycle tick, calendar
// refresh, backup) on robfig/cron schedules.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "eventlane/internal/log"
	"eventlane/internal/model"
)

// Job is one unit of periodic work. It receives the runner's context.
type Job func(ctx context.Context) error

// Runner never runs a job concurrently with itself: an invocation that
// comes due while the previous one is still running is skipped.
type Runner struct {
	ctx  context.Context
	cron *cron.Cron
}

// New returns a stopped runner. Jobs see ctx; cancelling it does not stop
// the schedule, Stop does.
func New(ctx context.Context, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	logger := appLog.CronLogger()
	return &Runner{
		ctx: ctx,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Every schedules job at a fixed interval.
func (r *Runner) Every(name string, d time.Duration, job Job) error {
	if d <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return r.Cron(name, "@every "+d.String(), job)
}

// Cron schedules job with a standard five-field spec or a descriptor such
// as @hourly.
func (r *Runner) Cron(name, spec string, job Job) error {
	_, err := r.cron.AddFunc(spec, func() { r.run(name, job) })
	if err != nil {
		return fmt.Errorf("job %s: schedule %q: %w", name, spec, err)
	}
	appLog.Debug("job scheduled", "job", name, "spec", spec)
	return nil
}

// RunNow runs job synchronously, outside the schedule.
func (r *Runner) RunNow(name string, job Job) {
	r.run(name, job)
}

func (r *Runner) run(name string, job Job) {
	if r.ctx.Err() != nil {
		return
	}
	started := time.Now()
	err := job(r.ctx)
	switch {
	case errors.Is(err, model.ErrTickInProgress):
		appLog.Debug("job skipped, previous run still active", "job", name)
	case err != nil:
		appLog.Error("job failed", err, "job", name, "took", time.Since(started).Round(time.Millisecond))
	default:
		appLog.Debug("job done", "job", name, "took", time.Since(started).Round(time.Millisecond))
	}
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for running jobs to return.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}
