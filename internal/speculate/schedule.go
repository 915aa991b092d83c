package speculate

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler periodically re-extends exploration ceilings even for
// functions that have gone quiet, so a speculation target that resumes
// publishing new ids after a pause is picked back up without a full
// restart.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	explore map[string]*Explorer
}

// NewScheduler builds an empty Scheduler; schedules are supplied per
// function to Register.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		explore: make(map[string]*Explorer),
	}
}

// Register arranges for explorer's ceiling to be re-examined on spec's
// schedule, where spec is a standard 5-field cron expression (e.g.
// "0 */6 * * *" for every six hours): if exploration had stopped, this
// nudges it forward by one
// more window so a recovered source is retried without operator
// intervention.
func (sch *Scheduler) Register(ctx context.Context, spec string, functionName string, explorer *Explorer, window int64) error {
	sch.explore[functionName] = explorer
	_, err := sch.cron.AddFunc(spec, func() {
		snap := explorer.Snapshot()
		if !snap.Stopped {
			return
		}
		sch.logger.Info("re-extending stopped speculation", "function", functionName, "ceiling", snap.CurrentCeiling)
		explorer.ExtendCeiling(window)
	})
	return err
}

// Start runs the cron scheduler in its own goroutine until ctx is
// cancelled.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.cron.Start()
	go func() {
		<-ctx.Done()
		sch.cron.Stop()
	}()
}
