package cron

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"upkeep/internal/engine"
)

// Runner triggers the due-recurrence sweep on a schedule.
type Runner struct {
	cron   *cron.Cron
	engine engine.Engine
	logger *log.Logger
}

// NewRunner builds a runner for the given cron expression. The schedule is
// evaluated in the engine's configured time zone so "today" lines up with the
// execution dedup window.
func NewRunner(e engine.Engine, schedule string, logger *log.Logger) (*Runner, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := cron.New(cron.WithLocation(e.Config.Location()))
	r := &Runner{cron: c, engine: e, logger: logger}
	if _, err := c.AddFunc(schedule, r.run); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) run() {
	results, err := r.engine.RunDueRecurrences(context.Background(), "cron")
	if err != nil {
		r.logger.Printf("cron sweep failed: %v", err)
		return
	}
	ok := 0
	for _, item := range results {
		if item.Status == "ok" {
			ok++
			continue
		}
		r.logger.Printf("cron sweep: recurring %s: %s", item.RecurringWorkOrderID, item.Message)
	}
	r.logger.Printf("cron sweep done: %d processed, %d ok", len(results), ok)
}

// RunOnce performs a single sweep outside the schedule.
func (r *Runner) RunOnce(ctx context.Context) ([]engine.CronItemResult, error) {
	return r.engine.RunDueRecurrences(ctx, "cron")
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and returns a context that is done once in-flight
// jobs finish.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}
