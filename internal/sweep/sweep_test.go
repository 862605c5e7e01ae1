package sweep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/metrics"
)

func TestRegister_RejectsBadSchedule(t *testing.T) {
	s := New()
	m := metrics.New(metrics.Thresholds{})
	assert.Error(t, s.RegisterHealthEvaluation(m, "not a schedule"))

	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})
	assert.Error(t, s.RegisterConnManagerSweep(cm, "every day at noon", time.Minute))
}

func TestScheduledJobsRun(t *testing.T) {
	s := New()
	m := metrics.New(metrics.Thresholds{})
	cm := connmgr.New(connmgr.Config{ThrottleMaxAttempts: 3})

	require.NoError(t, s.RegisterHealthEvaluation(m, "@every 10ms"))
	require.NoError(t, s.RegisterConnManagerSweep(cm, "@every 10ms", time.Minute))

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()
}
