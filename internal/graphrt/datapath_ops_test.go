package graphrt

import (
	"sync"
	"testing"

	"github.com/acdbrt/acdbrt/internal/datapath"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/stretchr/testify/require"
)

// fakeEngineTransport echoes every SendData/SendEOS back asynchronously,
// mirroring a dispatcher-backed engine in production.
type fakeEngineTransport struct {
	mu  sync.Mutex
	eng *datapath.Engine
}

func (f *fakeEngineTransport) SendData(bufferIndex uint32, token uint32, dir datapath.Direction, payload []byte, metadata []byte) error {
	go func() {
		f.mu.Lock()
		eng := f.eng
		f.mu.Unlock()
		eng.HandleDone(token, uint32(len(payload)), nil)
	}()
	return nil
}

func (f *fakeEngineTransport) SendEOS(token uint32) error {
	go func() {
		f.mu.Lock()
		eng := f.eng
		f.mu.Unlock()
		eng.HandleEOS(datapath.Rendered, nil)
	}()
	return nil
}

func TestReadWriteWithoutEngineFails(t *testing.T) {
	g, _ := newOpenGraph(t)

	_, err := g.Write([]byte("x"), false)
	require.Error(t, err)
	require.Equal(t, acdberr.ENOTEXIST, acdberr.CodeOf(err))

	_, _, err = g.Read()
	require.Error(t, err)
	require.Equal(t, acdberr.ENOTEXIST, acdberr.CodeOf(err))
}

func TestConfigureWriteParamsThenWriteRoundtrip(t *testing.T) {
	g, _ := newOpenGraph(t)

	wt := &fakeEngineTransport{}
	writeEng := datapath.NewEngine(datapath.Write, wt)
	wt.eng = writeEng
	g.SetDataPaths(nil, writeEng)

	cfg := datapath.Config{NumBuffs: 2, BuffSize: 64, Mode: datapath.ModeBlocking}
	require.NoError(t, g.ConfigureWriteParams(cfg))
	// Reapplying the identical config is a no-op, not an error.
	require.NoError(t, g.ConfigureWriteParams(cfg))

	n, err := g.Write([]byte("hello"), true)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	status, err := g.Eos()
	require.NoError(t, err)
	require.Equal(t, datapath.Rendered, status)
}

func TestConfigureReadParamsThenRead(t *testing.T) {
	g, _ := newOpenGraph(t)

	rt := &fakeEngineTransport{}
	readEng := datapath.NewEngine(datapath.Read, rt)
	rt.eng = readEng
	g.SetDataPaths(readEng, nil)

	require.NoError(t, g.ConfigureReadParams(datapath.Config{NumBuffs: 2, BuffSize: 64, Mode: datapath.ModeBlocking}))

	_, _, err := g.Read()
	require.NoError(t, err)
}
