package server

import (
	"testing"
	"time"

	"github.com/droproom/droproom/internal/stats"
	"github.com/droproom/droproom/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewReconciler(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	rec := NewReconciler(rs, time.Minute, testutil.TestLogger(t))

	assert.Equal(t, rs, rec.relay, "expected relay to be set")
	assert.Equal(t, time.Minute, rec.interval, "expected interval to be set")
}

func Test_Reconciler_Run(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	rec := NewReconciler(rs, 10*time.Millisecond, testutil.TestLogger(t))

	go rec.Run()
	defer rec.Stop()

	assert.Eventually(t, func() bool {
		select {
		case <-rs.sweepChan:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "expected a sweep request after the interval")
}

func Test_Reconciler_Stop(t *testing.T) {
	rs := newTestRelayServer(t, &stats.MockStatsUpdater{})
	rec := NewReconciler(rs, time.Hour, testutil.TestLogger(t))

	go rec.Run()
	rec.Stop()

	select {
	case <-rec.done:
	default:
		t.Error("expected run loop to exit after stop")
	}
}
