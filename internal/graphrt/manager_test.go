package graphrt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerRegisterGetUnregister(t *testing.T) {
	m := NewManager()
	tr := &fakeTransport{}
	g := m.Register(tr, 1, nil)
	tr.g = g

	got, err := m.Get(g.Handle)
	require.NoError(t, err)
	require.Same(t, g, got)

	m.Unregister(g.Handle)
	_, err = m.Get(g.Handle)
	require.Error(t, err)
}

func TestManagerAll(t *testing.T) {
	m := NewManager()
	tr1, tr2 := &fakeTransport{}, &fakeTransport{}
	g1 := m.Register(tr1, 1, nil)
	tr1.g = g1
	g2 := m.Register(tr2, 2, nil)
	tr2.g = g2

	require.Len(t, m.All(), 2)
}
