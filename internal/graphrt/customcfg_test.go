package graphrt

import (
	"testing"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/stretchr/testify/require"
)

func TestSetTaggedCustomConfigThenGet(t *testing.T) {
	g, _ := newOpenGraph(t)

	require.NoError(t, g.SetTaggedCustomConfig(7, []byte("hello")))

	// The fake transport echoes nil payload on reply, so the getter falls
	// back to what this handle last pushed.
	got, err := g.GetTaggedCustomConfig(7)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestGetCustomConfigRelaysSatelliteBytes(t *testing.T) {
	g, _ := newOpenGraph(t)
	got, err := g.GetCustomConfig()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSetTaggedCustomConfigPersistTracksSeparately(t *testing.T) {
	g, _ := newOpenGraph(t)
	require.NoError(t, g.SetTaggedCustomConfigPersist(3, []byte("persisted")))

	g.mu.Lock()
	got := g.customCfgPersist[3]
	g.mu.Unlock()
	require.Equal(t, []byte("persisted"), got)
}

func TestRegisterCustomEventRejectsDuplicate(t *testing.T) {
	g, _ := newOpenGraph(t)
	require.NoError(t, g.RegisterCustomEvent(1))

	err := g.RegisterCustomEvent(1)
	require.Error(t, err)
	require.Equal(t, acdberr.EALREADY, acdberr.CodeOf(err))
}
