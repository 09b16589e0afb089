package errdetect

import (
	"testing"
	"time"

	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/stretchr/testify/require"
)

func newTestEngine(restarts *[]string) *Engine {
	e := New(func(procHandle uint64, reason string) {
		*restarts = append(*restarts, reason)
	})
	return e
}

func TestOpenTimeoutAlwaysRestarts(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)

	e.Observe(1, graphrt.OpOpen, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	require.Len(t, restarts, 1)
}

func TestCloseTimeoutAlwaysRestarts(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)

	e.Observe(1, graphrt.OpClose, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	require.Len(t, restarts, 1)
}

func TestOtherTimeoutBelowThresholdDoesNotRestart(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)

	for i := 0; i < maxTimeoutsInPeriod-1; i++ {
		e.Observe(1, graphrt.OpFlush, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	}
	require.Empty(t, restarts)
}

func TestOtherTimeoutAtThresholdRestarts(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)

	for i := 0; i < maxTimeoutsInPeriod; i++ {
		e.Observe(1, graphrt.OpFlush, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	}
	require.Len(t, restarts, 1)
}

func TestSuccessDoesNotCountTowardWindows(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)

	for i := 0; i < maxTimeoutsInPeriod+5; i++ {
		e.Observe(1, graphrt.OpFlush, nil)
	}
	require.Empty(t, restarts)
}

func TestMinTimeAnyRestartSuppressesSecondRestart(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)

	e.Observe(1, graphrt.OpOpen, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	require.Len(t, restarts, 1)

	// Immediately qualifying again (another OPEN timeout) must be
	// suppressed since MIN_TIME_ANY_RESTART_MS hasn't elapsed.
	e.Observe(1, graphrt.OpOpen, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	require.Len(t, restarts, 1)
}

func TestStaleWindowResets(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)
	s := e.stateFor(1)

	s.mu.Lock()
	s.timeouts.firstSeen = time.Now().Add(-accumulationPeriod - time.Second)
	s.timeouts.count = maxTimeoutsInPeriod - 1
	s.mu.Unlock()

	e.Observe(1, graphrt.OpFlush, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	require.Empty(t, restarts)
}

func TestDuplicateThresholdRespectsLongerCooldown(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)
	s := e.stateFor(1)
	s.mu.Lock()
	s.lastRestart = time.Now()
	s.mu.Unlock()

	for i := 0; i < maxDuplicateInPeriod; i++ {
		e.Observe(1, graphrt.OpFlush, acdberr.New("GRAPH", acdberr.EDUPLICATE))
	}
	// lastRestart was just set, well within MIN_TIME_EDUPLICATE_RESTART_MS.
	require.Empty(t, restarts)
}

func TestIndependentProcsDoNotShareWindows(t *testing.T) {
	var restarts []string
	e := newTestEngine(&restarts)

	for i := 0; i < maxTimeoutsInPeriod-1; i++ {
		e.Observe(1, graphrt.OpFlush, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	}
	e.Observe(2, graphrt.OpFlush, acdberr.New("GRAPH", acdberr.ETIMEOUT))
	require.Empty(t, restarts)
}
