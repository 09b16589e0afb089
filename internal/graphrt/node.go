package graphrt

import (
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/acdbmodel"
	"github.com/acdbrt/acdbrt/pkg/kv"
)

// AddGraph attaches an additional gkv_node to this handle (spec §4.6
// add_graph), resolving and acquiring its topology the same way Open does
// for node 0. Two add_graph calls for the same GKV on one handle are
// rejected on the second attempt (spec's edge case).
func (g *Graph) AddGraph(gkv, ckv kv.Vector) (uint64, error) {
	g.mu.Lock()
	if gkv.Equal(g.node0.GKV) {
		g.mu.Unlock()
		return 0, acdberr.New(component, acdberr.EALREADY)
	}
	for _, n := range g.extraNodes {
		if gkv.Equal(n.GKV) {
			g.mu.Unlock()
			return 0, acdberr.New(component, acdberr.EALREADY)
		}
	}
	resolver := g.resolver
	pool := g.pool
	g.mu.Unlock()

	sgIDs, conns, err := resolveTopology(resolver, gkv)
	if err != nil {
		return 0, err
	}
	if pool != nil {
		if err := acquireTopology(pool, sgIDs, conns); err != nil {
			return 0, err
		}
	}

	g.beginClientOp()
	defer g.endClientOp()

	if err := g.issue(OpAddGraph, nil); err != nil {
		if pool != nil {
			releaseTopology(pool, sgIDs, conns)
		}
		return 0, err
	}

	g.mu.Lock()
	g.nextNodeID++
	id := g.nextNodeID
	g.extraNodes[id] = &GraphNode{GKV: gkv, CKV: ckv, SgIDs: sgIDs, Connections: conns}
	g.mu.Unlock()
	rtLog.Infof("graph %d add_graph node %d", g.Handle, id)
	return id, nil
}

// ChangeGraph replaces nodeID's GKV/CKV synchronously (spec §4.6
// change_graph, non-RTGM path): it diffs the node's current topology
// against the new GKV's resolved topology, closes/opens the difference on
// the pool, and issues CHANGE_GRAPH on the wire.
func (g *Graph) ChangeGraph(nodeID uint64, newGKV, newCKV kv.Vector) error {
	g.mu.Lock()
	node, ok := g.extraNodes[nodeID]
	if !ok {
		g.mu.Unlock()
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	oldSgIDs := node.SgIDs
	oldConns := toConnPairs(node.Connections)
	resolver := g.resolver
	pool := g.pool
	g.mu.Unlock()

	newSgIDs, newConns, err := resolveTopology(resolver, newGKV)
	if err != nil {
		return err
	}

	d := ComputeDelta(oldSgIDs, newSgIDs, oldConns, toConnPairs(newConns), nil)

	g.beginClientOp()
	defer g.endClientOp()

	if pool != nil {
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
	}

	if err := g.issue(OpChangeGraph, nil); err != nil {
		return err
	}

	g.mu.Lock()
	node.GKV = newGKV
	node.CKV = newCKV
	node.SgIDs = applyDeltaToSgIDs(oldSgIDs, d)
	node.Connections = applyDeltaToConns(node.Connections, d)
	g.mu.Unlock()
	return nil
}

// RemoveGraph detaches nodeID, releasing its pool refcounts and issuing
// REMOVE_GRAPH on the wire (spec §4.6 remove_graph).
func (g *Graph) RemoveGraph(nodeID uint64) error {
	g.mu.Lock()
	node, ok := g.extraNodes[nodeID]
	if !ok {
		g.mu.Unlock()
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	pool := g.pool
	g.mu.Unlock()

	g.beginClientOp()
	defer g.endClientOp()

	if err := g.issue(OpRemoveGraph, nil); err != nil {
		return err
	}

	if pool != nil {
		releaseTopology(pool, node.SgIDs, node.Connections)
	}

	g.mu.Lock()
	delete(g.extraNodes, nodeID)
	g.mu.Unlock()
	return nil
}

// SetCal applies newCKV's calibration to the primary node (spec §4.6
// set_cal). A CKV identical to the current one is a no-op returning EOK,
// not ENOTEXIST (spec's edge case). Non-persist cals are pushed inline;
// persist cal ids are resolved but left for the satellite to fetch lazily.
func (g *Graph) SetCal(newCKV kv.Vector) error {
	g.mu.Lock()
	if newCKV.Equal(g.node0.CKV) {
		g.mu.Unlock()
		return nil
	}
	sgIDs := g.node0.SgIDs
	priorCKV := g.node0.CKV
	resolver := g.resolver
	g.mu.Unlock()

	var payload []byte
	if resolver != nil {
		cals, err := resolver.GetNonPersistCal(sgIDs, priorCKV, newCKV)
		if err != nil {
			return err
		}
		if _, err := resolver.GetPersistCalIDs(sgIDs, newCKV); err != nil {
			return err
		}
		payload = encodeCalRecords(cals)
	}

	g.beginClientOp()
	defer g.endClientOp()

	if err := g.issue(OpSetCal, payload); err != nil {
		return err
	}

	g.mu.Lock()
	g.node0.CKV = newCKV
	g.mu.Unlock()
	return nil
}

// SetConfig resolves tag's parameter data for tkv and pushes it to the
// satellite (spec §4.6 set_config(tag, TKV)).
func (g *Graph) SetConfig(tag uint32, tkv kv.Vector) error {
	g.mu.Lock()
	sgIDs := g.node0.SgIDs
	resolver := g.resolver
	g.mu.Unlock()

	var payload []byte
	if resolver != nil {
		buf := make([]byte, maxTagDataSize)
		n, err := resolver.GetTagData(sgIDs, tag, tkv, buf)
		if err != nil {
			return err
		}
		payload = buf[:n]
	}

	g.beginClientOp()
	defer g.endClientOp()
	return g.issue(OpSetConfig, payload)
}

// maxTagDataSize bounds the scratch buffer SetConfig resolves tag data
// into; large enough for any single parameter block (spec §4.3).
const maxTagDataSize = 4096

func resolveTopology(resolver Resolver, gkv kv.Vector) ([]uint32, []acdbmodel.SgConnection, error) {
	if resolver == nil {
		return nil, nil, nil
	}
	topo, err := resolver.GetGraph(gkv)
	if err != nil {
		return nil, nil, err
	}
	return topo.SgIDs, topo.Connections, nil
}

func toConnPairs(conns []acdbmodel.SgConnection) [][2]uint32 {
	out := make([][2]uint32, len(conns))
	for i, c := range conns {
		out[i] = [2]uint32{c.Src, c.Dst}
	}
	return out
}

// encodeCalRecords serializes non-persist calibration records into the blob
// handed to set_cal's wire payload; the satellite decodes it back into
// per-module cal writes (spec §4.3).
func encodeCalRecords(cals []acdbmodel.CalRecord) []byte {
	out := make([]byte, 0, len(cals)*16)
	for _, c := range cals {
		out = appendUint32(out, c.IID)
		out = appendUint32(out, c.PID)
		out = appendUint32(out, c.ErrCode)
		out = appendUint32(out, uint32(len(c.Payload)))
		out = append(out, c.Payload...)
	}
	return out
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
