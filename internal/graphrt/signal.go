package graphrt

import (
	"sync"
	"time"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

// Signal is one command signal group's wait object (spec §4.6's "three
// signal groups", each manually reset). A command holder must win Acquire
// before issuing its opcode; Wait blocks the caller for the reply (or a
// close/SSR/timeout event) without holding the group's serialization lock,
// so a late reply on one opcode never blocks a later one from being issued.
type Signal struct {
	mu      sync.Mutex
	busy    bool
	ready   chan struct{}
	closed  bool
	ssr     bool
	err     error
	payload []byte
}

func newSignal() *Signal {
	return &Signal{ready: make(chan struct{})}
}

// Acquire serializes issuance of this group's opcode: only one command may
// be outstanding on a group at a time (spec §4.6 "serialized per graph").
func (s *Signal) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return acdberr.New(component, acdberr.EABORTED)
	}
	if s.busy {
		return acdberr.New(component, acdberr.ENOTREADY)
	}
	s.busy = true
	s.ready = make(chan struct{})
	return nil
}

// Complete delivers the reply (or a local error) and releases the group for
// the next Acquire. payload carries whatever bytes the satellite returned
// (e.g. a get_custom_config blob); most opcodes leave it nil.
func (s *Signal) Complete(payload []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy {
		return
	}
	s.err = err
	s.payload = payload
	s.busy = false
	close(s.ready)
}

// Wait blocks for Complete, a close/SSR event, or timeout — whichever comes
// first — without holding the group's serialization lock.
func (s *Signal) Wait(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	ch := s.ready
	s.mu.Unlock()

	select {
	case <-ch:
		s.mu.Lock()
		payload, err := s.payload, s.err
		s.mu.Unlock()
		return payload, err
	case <-time.After(timeout):
		return nil, acdberr.New(component, acdberr.ETIMEOUT)
	}
}

// SignalClose aborts any outstanding wait on this group with ABORTED and
// prevents further Acquire until Reset is called (spec §5 "client-side
// close sets the close-mask on every outstanding signal").
func (s *Signal) SignalClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.busy {
		s.err = acdberr.New(component, acdberr.EABORTED)
		s.busy = false
		close(s.ready)
	}
}

// SignalSSR aborts any outstanding wait on this group with SUBSYS_RESET
// (spec §5 "SSR sets the ssr-mask on all graphs that depend on an affected
// subsystem").
func (s *Signal) SignalSSR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ssr = true
	if s.busy {
		s.err = acdberr.New(component, acdberr.ESUBSYSRESET)
		s.busy = false
		close(s.ready)
	}
}

// Reset clears the close/SSR marks, used when a graph is reopened after an
// SSR-driven ERROR_ALLOW_CLEANUP recovery.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	s.ssr = false
}
