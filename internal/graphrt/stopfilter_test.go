package graphrt

import (
	"testing"

	"github.com/acdbrt/acdbrt/internal/filters"
	"github.com/stretchr/testify/require"
)

func TestStopScopedMarksOnlyMatchedSubgraphs(t *testing.T) {
	g, _ := newOpenGraph(t)

	g.mu.Lock()
	g.node0.SgIDs = []uint32{10, 11, 12}
	g.mu.Unlock()
	require.NoError(t, g.Start())

	f, err := filters.Compile(`moduleId == 1`)
	require.NoError(t, err)

	props := []filters.Property{
		{SgID: 10, ModuleID: 1},
		{SgID: 11, ModuleID: 2},
		{SgID: 12, ModuleID: 1},
	}
	require.NoError(t, g.StopScoped(f, props))

	g.mu.Lock()
	stopMask := g.node0.StopMask
	startMask := g.node0.StartMask
	g.mu.Unlock()

	require.Equal(t, uint32(1<<0|1<<2), stopMask)
	require.Equal(t, uint32(1<<1), startMask)
}
