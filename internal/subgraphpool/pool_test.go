package subgraphpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseOpensClosesOnce(t *testing.T) {
	p := New()
	opens, closes := 0, 0
	p.OnSgOpen = func(sgID uint32) error { opens++; return nil }
	p.OnSgClose = func(sgID uint32) error { closes++; return nil }

	_, err := p.Acquire(5)
	require.NoError(t, err)
	_, err = p.Acquire(5)
	require.NoError(t, err)
	require.Equal(t, 1, opens)
	require.Equal(t, 2, p.Refcount(5))

	require.NoError(t, p.Release(5))
	require.Equal(t, 0, closes)
	require.NoError(t, p.Release(5))
	require.Equal(t, 1, closes)
	require.Equal(t, 0, p.Refcount(5))
}

func TestReleaseUntrackedFails(t *testing.T) {
	p := New()
	require.Error(t, p.Release(99))
}

func TestAcquireConnOpensOnceAcrossSharers(t *testing.T) {
	p := New()
	opens := 0
	p.OnConnOpen = func(src, dst uint32) error { opens++; return nil }

	require.NoError(t, p.AcquireConn(1, 2))
	require.NoError(t, p.AcquireConn(1, 2))
	require.Equal(t, 1, opens)

	require.NoError(t, p.ReleaseConn(1, 2))
	require.NoError(t, p.ReleaseConn(1, 2))
	require.Error(t, p.ReleaseConn(1, 2))
}

func TestAttachDetachPersistCal(t *testing.T) {
	p := New()
	_, err := p.Acquire(10)
	require.NoError(t, err)

	require.NoError(t, p.AttachPersistCal(10, 1, []byte("blob")))
	require.NoError(t, p.DetachPersistCal(10, 1))

	err = p.AttachPersistCal(999, 1, []byte("x"))
	require.Error(t, err)
}

func TestCheckpointRestoreRoundtrip(t *testing.T) {
	p := New()
	_, err := p.Acquire(10)
	require.NoError(t, err)
	require.NoError(t, p.AttachPersistCal(10, 1, []byte("persisted-blob")))

	path := filepath.Join(t.TempDir(), "checkpoint.avro")
	require.NoError(t, p.Checkpoint(path))

	p2 := New()
	_, err = p2.Acquire(10)
	require.NoError(t, err)
	require.NoError(t, p2.Restore(path))

	p2.mu.Lock()
	blob := p2.sgs[10].cal[1]
	p2.mu.Unlock()
	require.Equal(t, "persisted-blob", string(blob))
}
