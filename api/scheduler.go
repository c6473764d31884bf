/*
scheduler.go - Scheduled late-fee accrual

PURPOSE:
  Runs the overdue late-fee sweep on a fixed cron schedule (daily by
  default). The sweep itself is idempotent per calendar day, so an extra
  firing is harmless.

USAGE:
  sched := NewAccrualScheduler(ledger, "@daily", logger)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - financing/accrual.go: The sweep itself
  - handlers.go: AccrueLateFees (manual trigger endpoint)
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/terralot/financing-engine/financing"
)

// AccrualScheduler drives the late-fee sweep through a cron entry.
type AccrualScheduler struct {
	Ledger *financing.Ledger
	Spec   string
	Log    *logrus.Logger

	cron *cron.Cron
}

// NewAccrualScheduler creates a scheduler. spec is a cron expression or a
// descriptor like "@daily".
func NewAccrualScheduler(ledger *financing.Ledger, spec string, log *logrus.Logger) *AccrualScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &AccrualScheduler{Ledger: ledger, Spec: spec, Log: log}
}

// Start registers the cron entry and begins the schedule.
func (s *AccrualScheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.Spec, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.Log.WithField("spec", s.Spec).Info("late fee scheduler started")
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *AccrualScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info("late fee scheduler stopped")
}

func (s *AccrualScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := s.Ledger.AccrueOverdueLateFees(ctx)
	if err != nil {
		s.Log.WithError(err).Error("late fee sweep failed")
		return
	}
	s.Log.WithFields(logrus.Fields{
		"processed":  report.Processed,
		"successful": report.Successful,
		"failed":     report.Failed,
	}).Info("scheduled late fee sweep finished")
}
