package graphrt

import (
	"github.com/acdbrt/acdbrt/pkg/acdbmodel"
	"github.com/acdbrt/acdbrt/pkg/kv"
)

// Delta is the result of computing what changed between a graph's current
// topology and a new one (spec §4.6 RTGM "prepare-change").
type Delta struct {
	SgsToClose   []uint32
	ConnsToClose [][2]uint32
	SgsToOpen    []uint32
	ConnsToOpen  [][2]uint32
	ForceReopen  []uint32
}

// ComputeDelta diffs oldSgs/oldConns against newSgs/newConns. forceReopen
// names subgraphs that must be closed and reopened even though they are
// present in both sets (spec's "forced-reopen list for user-edited sgs").
func ComputeDelta(oldSgs, newSgs []uint32, oldConns, newConns [][2]uint32, forceReopen []uint32) Delta {
	oldSgSet := toSet(oldSgs)
	newSgSet := toSet(newSgs)
	forceSet := toSet(forceReopen)

	var d Delta
	for _, sg := range oldSgs {
		if !newSgSet[sg] || forceSet[sg] {
			d.SgsToClose = append(d.SgsToClose, sg)
		}
	}
	for _, sg := range newSgs {
		if !oldSgSet[sg] || forceSet[sg] {
			d.SgsToOpen = append(d.SgsToOpen, sg)
		}
	}
	d.ForceReopen = forceReopen

	oldConnSet := toConnSet(oldConns)
	newConnSet := toConnSet(newConns)
	for _, c := range oldConns {
		if !newConnSet[c] {
			d.ConnsToClose = append(d.ConnsToClose, c)
		}
	}
	for _, c := range newConns {
		if !oldConnSet[c] {
			d.ConnsToOpen = append(d.ConnsToOpen, c)
		}
	}
	return d
}

// applyDeltaToSgIDs derives the post-RTGM subgraph set from the prior set
// and the delta that was applied (spec §4.6's topology bookkeeping lives in
// the graph node, not in the delta itself).
func applyDeltaToSgIDs(prior []uint32, d Delta) []uint32 {
	closed := toSet(d.SgsToClose)
	out := make([]uint32, 0, len(prior)+len(d.SgsToOpen))
	for _, sg := range prior {
		if !closed[sg] {
			out = append(out, sg)
		}
	}
	opened := toSet(out)
	for _, sg := range d.SgsToOpen {
		if !opened[sg] {
			out = append(out, sg)
			opened[sg] = true
		}
	}
	return out
}

func applyDeltaToConns(prior []acdbmodel.SgConnection, d Delta) []acdbmodel.SgConnection {
	closed := toConnSet(d.ConnsToClose)
	out := make([]acdbmodel.SgConnection, 0, len(prior)+len(d.ConnsToOpen))
	for _, c := range prior {
		if !closed[[2]uint32{c.Src, c.Dst}] {
			out = append(out, c)
		}
	}
	for _, pair := range d.ConnsToOpen {
		out = append(out, acdbmodel.SgConnection{Src: pair[0], Dst: pair[1]})
	}
	return out
}

func toSet(ids []uint32) map[uint32]bool {
	s := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func toConnSet(conns [][2]uint32) map[[2]uint32]bool {
	s := make(map[[2]uint32]bool, len(conns))
	for _, c := range conns {
		s[c] = true
	}
	return s
}

// SgPool is the subset of subgraphpool.Pool's contract RTGM needs, kept as
// an interface so graphrt does not import subgraphpool directly.
type SgPool interface {
	Release(sgID uint32) error
	ReleaseConn(src, dst uint32) error
	Acquire(sgID uint32) error
	AcquireConn(src, dst uint32) error
}

// PrepareChange is RTGM's first phase (spec §4.6): close on the wire every
// subgraph/connection the delta drops or forces a reopen for, decrementing
// pool refcounts, but open nothing yet. It marks numRTGMInProg so ordinary
// client ops block until Change returns.
func (g *Graph) PrepareChange(pool SgPool, d Delta) error {
	g.mu.Lock()
	g.numRTGMInProg++
	for g.clientOpInProg {
		g.cond.Wait()
	}
	g.mu.Unlock()

	for _, sg := range d.SgsToClose {
		if err := pool.Release(sg); err != nil {
			return err
		}
	}
	for _, c := range d.ConnsToClose {
		if err := pool.ReleaseConn(c[0], c[1]); err != nil {
			return err
		}
	}
	return nil
}

// Change is RTGM's second phase: open the pruned-plus-reopen list, apply
// newCKV, optionally apply a tag-data blob without recomputing the set-cfg
// envelope, and — if the graph was started before RTGM began — issue START
// again for the whole graph, marking every node-0 subgraph started. No
// per-subgraph restart order is kept.
func (g *Graph) Change(pool SgPool, d Delta, newGKV, newCKV kv.Vector, wasStarted bool, tagData []byte) error {
	defer func() {
		g.mu.Lock()
		g.numRTGMInProg--
		g.cond.Broadcast()
		g.mu.Unlock()
	}()

	for _, sg := range d.SgsToOpen {
		if err := pool.Acquire(sg); err != nil {
			return err
		}
	}
	for _, c := range d.ConnsToOpen {
		if err := pool.AcquireConn(c[0], c[1]); err != nil {
			return err
		}
	}

	g.mu.Lock()
	g.node0.GKV = newGKV
	g.node0.CKV = newCKV
	g.node0.SgIDs = applyDeltaToSgIDs(g.node0.SgIDs, d)
	g.node0.Connections = applyDeltaToConns(g.node0.Connections, d)
	g.mu.Unlock()

	if len(tagData) > 0 {
		if err := g.applyTagDataNoEnvelope(tagData); err != nil {
			return err
		}
	}

	// START is issued directly: Start itself would wait on the
	// numRTGMInProg mark this call still holds.
	if wasStarted {
		if err := g.issue(OpStart, nil); err != nil {
			return err
		}
		g.mu.Lock()
		for idx := range g.node0.SgIDs {
			g.node0.markStarted(uint32(idx))
		}
		g.state = Started
		g.mu.Unlock()
	}
	return nil
}

// applyTagDataNoEnvelope applies a tag-data blob directly, bypassing the
// ordinary set_config envelope computation RTGM already accounted for in
// its delta (spec §4.6 "a helper that does not recompute the set-cfg
// envelope").
func (g *Graph) applyTagDataNoEnvelope(blob []byte) error {
	return g.issue(OpSetCfg, blob)
}
