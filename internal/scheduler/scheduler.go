// Package scheduler owns the periodic trigger for the schedule engine.
// Rule windows have minute granularity, so a per-minute cron tick keeps
// staleness under the frontend's own polling interval.
package scheduler

import (
	"go.uber.org/zap"

	"github.com/robfig/cron/v3"
)

// Scheduler manages time-based triggers
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(log *zap.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), log: log}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("cron scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("cron scheduler stopped")
}

// AddJob adds a cron job and returns the entry ID
func (s *Scheduler) AddJob(spec string, fn func()) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, fn)
}

// ScheduleEngineTick registers the per-minute evaluation of all device
// schedule rules. The tick itself only enqueues to per-device mailboxes
// and never blocks on a slow device.
func (s *Scheduler) ScheduleEngineTick(tick func()) error {
	_, err := s.AddJob("* * * * *", tick)
	if err != nil {
		return err
	}
	s.log.Info("schedule engine tick registered", zap.String("spec", "* * * * *"))
	return nil
}
