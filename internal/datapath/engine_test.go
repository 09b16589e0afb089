package datapath

import (
	"sync"
	"testing"
	"time"

	"github.com/acdbrt/acdbrt/internal/externmem"
	"github.com/stretchr/testify/require"
)

// fakeTransport echoes every SendData/SendEOS back through HandleDone/
// HandleEOS on a goroutine, simulating the dispatcher's asynchronous reply
// delivery.
type fakeTransport struct {
	mu   sync.Mutex
	eng  *Engine
	sent []uint32
	fail bool
}

func (f *fakeTransport) SendData(bufferIndex uint32, token uint32, dir Direction, payload []byte, metadata []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, bufferIndex)
	f.mu.Unlock()
	if f.fail {
		return nil
	}
	go func() {
		size := uint32(len(payload))
		f.eng.HandleDone(token, size, nil)
	}()
	return nil
}

func (f *fakeTransport) SendEOS(token uint32) error {
	go func() { f.eng.HandleEOS(Rendered, nil) }()
	return nil
}

func TestConfigureBlockingWriteRoundtrip(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 2, BuffSize: 4096, Mode: ModeBlocking}))

	for i := 0; i < 3; i++ {
		n, err := e.Write(make([]byte, 4096), false)
		require.NoError(t, err)
		require.EqualValues(t, 4096, n)
	}
}

func TestWriteZeroBuffsIsBadParam(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 0, Mode: ModeBlocking}))
	_, err := e.Write([]byte{1}, false)
	require.Error(t, err)
}

func TestWriteExternModeUnsupported(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 4, Mode: ModeExternMem}))
	_, err := e.Write([]byte{1}, false)
	require.Error(t, err)
}

func TestWriteEOSFlushesAndReportsRendered(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 2, Mode: ModeBlocking}))

	_, err := e.Write([]byte{1, 2, 3}, true)
	require.NoError(t, err)
	require.Equal(t, Rendered, e.LastEOSStatus())
}

func TestReadKickStartPushesAllBuffers(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Read, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 3, Mode: ModeShmem}))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.sent, 3)
}

func TestHandleDoneIgnoresLateDuplicate(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 1, Mode: ModeBlocking}))

	// No pending waiter registered for this token; HandleDone must return
	// without panicking or blocking.
	done := make(chan struct{})
	go func() {
		e.HandleDone(EncodeToken(0, 99), 0, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleDone on unknown token blocked")
	}
}

func TestCloseAbortsBlockedWrite(t *testing.T) {
	tr := &fakeTransport{fail: true}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 1, Mode: ModeBlocking}))

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Write([]byte{1}, false)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	e.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Write did not unblock after Close")
	}
}

func TestConfigureRejectsProvisionOnlyOutsidePushPull(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	err := e.Configure(Config{NumBuffs: 2, Mode: ModeBlocking, ProvisionOnly: true})
	require.Error(t, err)
}

func TestConfigureAllowsProvisionOnlyWithPushPull(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 2, Mode: ModePushPull, ProvisionOnly: true}))
}

func TestWriteExternRoundtripsThroughCache(t *testing.T) {
	var mapped []externmem.AllocKey
	cache := externmem.New(32,
		func(key externmem.AllocKey) (uintptr, error) {
			mapped = append(mapped, key)
			return uintptr(key.AllocHandle + 1), nil
		},
		func(externmem.AllocKey, uintptr) {},
	)

	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{Mode: ModeExternMem}))
	e.SetExternCache(cache)

	n, err := e.WriteExtern(externmem.AllocKey{AllocHandle: 7, Offset: 0}, false)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, mapped, 1)
}

func TestWriteExternWithoutCacheIsNoResource(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{Mode: ModeExternMem}))

	_, err := e.WriteExtern(externmem.AllocKey{AllocHandle: 1}, false)
	require.Error(t, err)
}

func TestWriteRejectsExternMemMode(t *testing.T) {
	tr := &fakeTransport{}
	e := NewEngine(Write, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{Mode: ModeExternMem}))

	_, err := e.Write([]byte{1}, false)
	require.Error(t, err)
}

func TestNonBlockingReadReturnsNoResourceWhenExhausted(t *testing.T) {
	tr := &fakeTransport{fail: true}
	e := NewEngine(Read, tr)
	tr.eng = e
	require.NoError(t, e.Configure(Config{NumBuffs: 1, Mode: ModeNonBlocking}))

	// Configure's read kick-start already pushed (and acquired) the only
	// buffer, so the set is exhausted before any client Read call.
	_, _, err := e.Read()
	require.Error(t, err)
}
