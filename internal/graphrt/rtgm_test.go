package graphrt

import (
	"testing"
	"time"

	"github.com/acdbrt/acdbrt/pkg/kv"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	acquired []uint32
	released []uint32
}

func (p *fakePool) Release(sgID uint32) error     { p.released = append(p.released, sgID); return nil }
func (p *fakePool) ReleaseConn(a, b uint32) error { return nil }
func (p *fakePool) Acquire(sgID uint32) error      { p.acquired = append(p.acquired, sgID); return nil }
func (p *fakePool) AcquireConn(a, b uint32) error  { return nil }

func TestComputeDelta(t *testing.T) {
	d := ComputeDelta(
		[]uint32{1, 2, 3}, []uint32{2, 3, 4},
		nil, nil,
		[]uint32{3}, // force reopen of 3 even though it's kept
	)
	require.ElementsMatch(t, []uint32{1, 3}, d.SgsToClose)
	require.ElementsMatch(t, []uint32{4, 3}, d.SgsToOpen)
}

func TestPrepareChangeThenChange(t *testing.T) {
	tr := &fakeTransport{}
	g := New(1, 1, tr, nil)
	tr.g = g
	g.timeouts = Timeouts{Open: time.Second, Close: time.Second, StartStop: time.Second, Default: time.Second}
	require.NoError(t, g.Open(kv.Vector{{Key: 1, Value: 1}}, nil, []uint32{1, 2}))

	pool := &fakePool{}
	d := ComputeDelta([]uint32{1, 2}, []uint32{2, 3}, nil, nil, nil)

	require.NoError(t, g.PrepareChange(pool, d))
	require.ElementsMatch(t, []uint32{1}, pool.released)

	require.NoError(t, g.Change(pool, d, kv.Vector{{Key: 1, Value: 2}}, nil, false, nil))
	require.ElementsMatch(t, []uint32{3}, pool.acquired)
}

func TestRTGMBlocksClientOpsUntilChangeCompletes(t *testing.T) {
	tr := &fakeTransport{}
	g := New(1, 1, tr, nil)
	tr.g = g
	g.timeouts = Timeouts{Open: time.Second, Close: time.Second, StartStop: time.Second, Default: time.Second}
	require.NoError(t, g.Open(nil, nil, nil))

	pool := &fakePool{}
	d := Delta{}
	require.NoError(t, g.PrepareChange(pool, d))

	started := make(chan struct{})
	go func() {
		g.beginClientOp()
		close(started)
		g.endClientOp()
	}()

	select {
	case <-started:
		t.Fatal("client op proceeded while RTGM in progress")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, g.Change(pool, d, nil, nil, false, nil))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("client op never unblocked after Change completed")
	}
}
