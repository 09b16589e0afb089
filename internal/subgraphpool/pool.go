// Package subgraphpool implements the subgraph pool (C5, spec §4.5): a
// refcounted table keyed by sg_id that guarantees at-most-one OPEN on the
// wire and exactly one CLOSE when the last reference drops, shared across
// every graph that references a given subgraph or connection.
package subgraphpool

import (
	"sync"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/log"
)

const component = "SGPOOL"

var poolLog = log.Component(component)

type connKey struct{ src, dst uint32 }

// Entry is one subgraph's pool-tracked state.
type Entry struct {
	SgID     uint32
	refcount int
	cal      map[uint32][]byte // proc_id -> persistent-cal blob
}

func (e *Entry) Refcount() int { return e.refcount }

type connEntry struct {
	refcount int
}

// Pool is the process-wide subgraph/connection refcount table.
type Pool struct {
	mu    sync.Mutex
	sgs   map[uint32]*Entry
	conns map[connKey]*connEntry

	// OnSgOpen/OnSgClose and OnConnOpen/OnConnClose let the caller (graphrt)
	// drive the actual wire OPEN/CLOSE exactly once per subgraph or
	// connection, at the refcount edges the pool computes. Any of them may be
	// nil in tests that only check refcounting.
	OnSgOpen  func(sgID uint32) error
	OnSgClose func(sgID uint32) error
	OnConnOpen  func(src, dst uint32) error
	OnConnClose func(src, dst uint32) error
}

func New() *Pool {
	return &Pool{
		sgs:   make(map[uint32]*Entry),
		conns: make(map[connKey]*connEntry),
	}
}

// Acquire increments sgID's open-refcount, issuing the wire OPEN exactly
// when the refcount transitions 0 -> 1.
func (p *Pool) Acquire(sgID uint32) (*Entry, error) {
	p.mu.Lock()
	e, ok := p.sgs[sgID]
	if !ok {
		e = &Entry{SgID: sgID, cal: make(map[uint32][]byte)}
		p.sgs[sgID] = e
	}
	e.refcount++
	first := e.refcount == 1
	p.mu.Unlock()

	if first && p.OnSgOpen != nil {
		if err := p.OnSgOpen(sgID); err != nil {
			p.mu.Lock()
			e.refcount--
			p.mu.Unlock()
			return nil, err
		}
	}
	poolLog.Debugf("acquire sg=%d refcount=%d", sgID, e.refcount)
	return e, nil
}

// Release decrements sgID's open-refcount, issuing the wire CLOSE exactly
// when the refcount transitions 1 -> 0.
func (p *Pool) Release(sgID uint32) error {
	p.mu.Lock()
	e, ok := p.sgs[sgID]
	if !ok {
		p.mu.Unlock()
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	if e.refcount == 0 {
		p.mu.Unlock()
		return acdberr.New(component, acdberr.EBADPARAM)
	}
	e.refcount--
	last := e.refcount == 0
	if last {
		delete(p.sgs, sgID)
	}
	p.mu.Unlock()

	if last && p.OnSgClose != nil {
		return p.OnSgClose(sgID)
	}
	poolLog.Debugf("release sg=%d", sgID)
	return nil
}

// AcquireConn/ReleaseConn apply the same at-most-one-OPEN discipline to a
// subgraph connection edge.
func (p *Pool) AcquireConn(src, dst uint32) error {
	key := connKey{src, dst}
	p.mu.Lock()
	c, ok := p.conns[key]
	if !ok {
		c = &connEntry{}
		p.conns[key] = c
	}
	c.refcount++
	first := c.refcount == 1
	p.mu.Unlock()

	if first && p.OnConnOpen != nil {
		if err := p.OnConnOpen(src, dst); err != nil {
			p.mu.Lock()
			c.refcount--
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

func (p *Pool) ReleaseConn(src, dst uint32) error {
	key := connKey{src, dst}
	p.mu.Lock()
	c, ok := p.conns[key]
	if !ok {
		p.mu.Unlock()
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	c.refcount--
	last := c.refcount <= 0
	if last {
		delete(p.conns, key)
	}
	p.mu.Unlock()

	if last && p.OnConnClose != nil {
		return p.OnConnClose(src, dst)
	}
	return nil
}

// Refcount returns sgID's current open-refcount, or 0 if untracked — used
// to verify spec §4.5's pool invariant in tests.
func (p *Pool) Refcount(sgID uint32) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.sgs[sgID]; ok {
		return e.refcount
	}
	return 0
}

// AttachPersistCal registers a persistent-cal blob for (sgID, procID).
func (p *Pool) AttachPersistCal(sgID, procID uint32, blob []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.sgs[sgID]
	if !ok {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	e.cal[procID] = blob
	return nil
}

// DetachPersistCal removes the persistent-cal blob for (sgID, procID).
func (p *Pool) DetachPersistCal(sgID, procID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.sgs[sgID]
	if !ok {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	delete(e.cal, procID)
	return nil
}
