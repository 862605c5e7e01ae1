// Package sweep runs the process' periodic background jobs: connection
// manager slot cleanup and health re-evaluation between requests, on a
// single shared cron runner.
package sweep

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/logger"
	"github.com/relayhub/fanout/internal/metrics"
)

// Scheduler owns the process' single cron instance.
type Scheduler struct {
	cron *cron.Cron
}

// New constructs a Scheduler with the cron runner created but not yet
// started.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// RegisterConnManagerSweep removes connection-manager slots that have
// been empty since before each tick's staleness window.
func (s *Scheduler) RegisterConnManagerSweep(cm *connmgr.Manager, schedule string, staleAfter time.Duration) error {
	_, err := s.cron.AddFunc(schedule, func() {
		removed := cm.Sweep(time.Now().Add(-staleAfter))
		if removed > 0 {
			logger.Metrics().Debug().Int("removed", removed).Msg("connection manager sweep cleared stale slots")
		}
	})
	return err
}

// RegisterHealthEvaluation forces a Metrics snapshot (and therefore a
// threshold evaluation pass) on a fixed schedule, so alerts raise and
// resolve even when the RPC surface sees no traffic to piggyback on.
func (s *Scheduler) RegisterHealthEvaluation(m *metrics.Metrics, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		m.Snapshot()
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
