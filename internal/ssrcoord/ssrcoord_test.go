package ssrcoord

import (
	"testing"

	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/internal/shmem"
	"github.com/stretchr/testify/require"
)

type fakeGraphSet struct {
	graphs []*graphrt.Graph
}

func (f *fakeGraphSet) All() []*graphrt.Graph { return f.graphs }

type nopTransport struct{}

func (nopTransport) Send(uint64, graphrt.Opcode, []byte) error { return nil }

func TestMasterDownForcesErrorState(t *testing.T) {
	g := graphrt.New(1, 1, nopTransport{}, nil)
	set := &fakeGraphSet{graphs: []*graphrt.Graph{g}}
	sm := shmem.New()

	c, err := New(set, sm, nil)
	require.NoError(t, err)
	c.RegisterSubsystem(10, Master, 0)

	c.OnDown(10)
	require.Equal(t, graphrt.ErrorState, g.State())
	require.True(t, c.IsDown(10))
}

func TestSatelliteDownForcesErrorAllowCleanupAndRestartsMaster(t *testing.T) {
	g := graphrt.New(1, 1, nopTransport{}, nil)
	set := &fakeGraphSet{graphs: []*graphrt.Graph{g}}
	sm := shmem.New()

	var restarted uint32
	c, err := New(set, sm, func(masterSub uint32) { restarted = masterSub })
	require.NoError(t, err)
	c.RegisterSubsystem(20, Satellite, 10)

	c.OnDown(20)
	require.Equal(t, graphrt.ErrorAllowCleanup, g.State())
	require.EqualValues(t, 10, restarted)
}

func TestUpClearsDownState(t *testing.T) {
	sm := shmem.New()
	c, err := New(&fakeGraphSet{}, sm, nil)
	require.NoError(t, err)
	c.RegisterSubsystem(5, Master, 0)

	c.OnDown(5)
	require.True(t, c.IsDown(5))
	c.OnUp(5)
	require.False(t, c.IsDown(5))
}

func TestUnregisteredSubsystemIsNotSupported(t *testing.T) {
	sm := shmem.New()
	c, err := New(&fakeGraphSet{}, sm, nil)
	require.NoError(t, err)
	require.False(t, c.IsSupported(99))
}
