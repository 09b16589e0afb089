// Package errdetect implements the error-detection engine (C10, spec
// §4.10): per-master-proc rolling windows for timeouts and duplicate-id
// errors, deciding when a satellite error should trigger a restart.
package errdetect

import (
	"sync"
	"time"

	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/log"
	"golang.org/x/time/rate"
)

var edLog = log.Component("ERRDETECT")

const (
	maxTimeoutsInPeriod        = 7
	accumulationPeriod         = 30 * time.Second
	maxDuplicateInPeriod       = 60
	minTimeDuplicateRestart    = 10 * time.Minute
	minTimeAnyRestart          = 1 * time.Minute
)

// window is a rolling count with a first-seen timestamp; it resets once
// the period has elapsed since first-seen (spec §4.10 "reset window on
// stale first-seen").
type window struct {
	firstSeen time.Time
	count     int
}

func (w *window) observe(now time.Time, period time.Duration) int {
	if w.firstSeen.IsZero() || now.Sub(w.firstSeen) > period {
		w.firstSeen = now
		w.count = 0
	}
	w.count++
	return w.count
}

// procState is the per-master-proc rolling error state.
type procState struct {
	mu sync.Mutex

	lastRestart time.Time
	timeouts    window
	duplicates  window

	// limiter enforces MIN_TIME_ANY_RESTART_MS independently of the
	// window bookkeeping above, so a burst of qualifying windows across
	// several proc contexts can't restart the same proc twice in a row.
	limiter *rate.Limiter
}

func newProcState() *procState {
	return &procState{
		limiter: rate.NewLimiter(rate.Every(minTimeAnyRestart), 1),
	}
}

// RestartFunc is called with the master-proc handle to restart (spec
// §4.10's "a pointer to client data returned on restart").
type RestartFunc func(procHandle uint64, reason string)

// Engine tracks rolling error windows across every master-proc context and
// decides when to call RestartFunc.
type Engine struct {
	mu    sync.Mutex
	procs map[uint64]*procState
	now   func() time.Time

	restart RestartFunc
}

// New builds an Engine that calls restart when a proc's windows qualify.
func New(restart RestartFunc) *Engine {
	return &Engine{
		procs:   make(map[uint64]*procState),
		now:     time.Now,
		restart: restart,
	}
}

func (e *Engine) stateFor(procHandle uint64) *procState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.procs[procHandle]
	if !ok {
		s = newProcState()
		e.procs[procHandle] = s
	}
	return s
}

// Observe implements graphrt.ErrorSink: it is called with the outcome of
// every graph command and decides whether the owning master proc should be
// restarted.
func (e *Engine) Observe(procHandle uint64, op graphrt.Opcode, err error) {
	if err == nil {
		return
	}

	code := acdberr.CodeOf(err)
	now := e.now()
	s := e.stateFor(procHandle)

	switch code {
	case acdberr.ETIMEOUT:
		if op == graphrt.OpOpen || op == graphrt.OpClose {
			e.maybeRestart(procHandle, s, now, "OPEN/CLOSE timeout")
			return
		}
		s.mu.Lock()
		count := s.timeouts.observe(now, accumulationPeriod)
		s.mu.Unlock()
		if count >= maxTimeoutsInPeriod {
			e.maybeRestart(procHandle, s, now, "timeout threshold")
		}
	case acdberr.EDUPLICATE:
		s.mu.Lock()
		count := s.duplicates.observe(now, accumulationPeriod)
		sinceRestart := now.Sub(s.lastRestart)
		s.mu.Unlock()
		if count >= maxDuplicateInPeriod && (s.lastRestart.IsZero() || sinceRestart > minTimeDuplicateRestart) {
			e.maybeRestart(procHandle, s, now, "duplicate-id threshold")
		}
	}
}

// maybeRestart applies MIN_TIME_ANY_RESTART_MS suppression before invoking
// RestartFunc (spec §4.10 "Any restart decision is suppressed unless
// MIN_TIME_ANY_RESTART_MS has elapsed since the last restart").
func (e *Engine) maybeRestart(procHandle uint64, s *procState, now time.Time, reason string) {
	if !s.limiter.AllowN(now, 1) {
		edLog.Debugf("proc %d: restart for %q suppressed (too soon)", procHandle, reason)
		return
	}
	s.mu.Lock()
	s.lastRestart = now
	s.timeouts = window{}
	s.duplicates = window{}
	s.mu.Unlock()

	edLog.Warnf("proc %d: restarting (%s)", procHandle, reason)
	if e.restart != nil {
		e.restart(procHandle, reason)
	}
}

var _ graphrt.ErrorSink = (*Engine)(nil)
