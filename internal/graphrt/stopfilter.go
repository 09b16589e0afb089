package graphrt

import (
	"github.com/acdbrt/acdbrt/internal/filters"
)

// StopScoped stops only the subgraphs matching filter, encoding the
// matched sg-id set as the wire payload and updating node 0's
// sg_stop_mask/sg_start_mask before issuing STOP (spec §4.6 "stop
// (optionally scoped by a property filter)"). props must describe the
// node's current subgraphs in the same order as its sg-id list so mask
// bits line up with indices.
func (g *Graph) StopScoped(filter *filters.Filter, props []filters.Property) error {
	selected, err := filter.Select(props)
	if err != nil {
		return err
	}

	matched := make(map[uint32]bool, len(selected))
	for _, p := range selected {
		matched[p.SgID] = true
	}

	g.mu.Lock()
	var payload []byte
	for idx, sg := range g.node0.SgIDs {
		if matched[sg] {
			g.node0.markStopped(uint32(idx))
			payload = appendUint32(payload, sg)
		}
	}
	g.mu.Unlock()

	return g.Stop(payload)
}
