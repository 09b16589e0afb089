package shmem

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundtrip(t *testing.T) {
	m := New()
	r, err := m.Alloc(4096, ReadWrite, 0, 0xF)
	require.NoError(t, err)
	require.Len(t, r.VirtPtr, 4096)

	require.NoError(t, m.Free(r.Handle))
	require.Error(t, m.Free(r.Handle))
}

func TestAllocRejectsZeroSize(t *testing.T) {
	m := New()
	_, err := m.Alloc(0, ReadWrite, 0, 0)
	require.Error(t, err)
}

func TestMapUnmap(t *testing.T) {
	m := New()
	r, err := m.Alloc(4096, ReadWrite, 0, 1)
	require.NoError(t, err)

	require.NoError(t, m.Map(r.Handle, 7))
	require.True(t, m.IsMapped(r.Handle, 7))

	require.NoError(t, m.Unmap(r.Handle, 7))
	require.False(t, m.IsMapped(r.Handle, 7))
}

func TestSSRBlocksMapUntilSignalUp(t *testing.T) {
	m := New()
	r, err := m.Alloc(4096, ReadWrite, 0, 1)
	require.NoError(t, err)

	m.SignalDown(3)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, m.Map(r.Handle, 3))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Map returned while subsystem still down")
	case <-time.After(50 * time.Millisecond):
	}

	m.SignalUp(3)
	wg.Wait()
	require.True(t, m.IsMapped(r.Handle, 3))
}

func TestSignalDownClearsExistingMappings(t *testing.T) {
	m := New()
	r, err := m.Alloc(4096, ReadWrite, 0, 1)
	require.NoError(t, err)
	require.NoError(t, m.Map(r.Handle, 9))
	require.True(t, m.IsMapped(r.Handle, 9))

	m.SignalDown(9)
	require.False(t, m.IsMapped(r.Handle, 9))
	m.SignalUp(9)
}
