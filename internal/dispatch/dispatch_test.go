package dispatch

import (
	"sync"
	"testing"

	"github.com/acdbrt/acdbrt/internal/datapath"
	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/kv"
	"github.com/stretchr/testify/require"
)

// fakeBus is an in-process publish/subscribe fake standing in for a NATS
// server: Publish delivers synchronously to every handler subscribed on
// the exact subject, mirroring what the dispatcher sees from a real
// broker without requiring one in tests.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string][]func(data []byte)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]func(data []byte))}
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	hs := append([]func(data []byte){}, b.handlers[subject]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler func(data []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	return nil
}

func (b *fakeBus) Close() {}

func TestSendDeliversReplyToGraph(t *testing.T) {
	bus := newFakeBus()
	d := newDispatcher(bus)
	route := Route{DstDomain: 1, DstPort: 2, SrcPort: 3}

	g := graphrt.New(42, 1, d, nil)
	require.NoError(t, d.RegisterGraph(g, route))

	// Simulate the satellite: echo every command back as a successful
	// reply on the route's reply subject.
	require.NoError(t, bus.Subscribe(route.commandSubject(), func(data []byte) {
		pkt, err := Decode(data)
		require.NoError(t, err)
		pkt.IsReply = true
		pkt.Status = int32(acdberr.EOK)
		require.NoError(t, bus.Publish(route.replySubject(), Encode(pkt)))
	}))

	err := g.Open(kv.Vector{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, graphrt.Opened, g.State())
}

func TestSendDeliversAbortedStatus(t *testing.T) {
	bus := newFakeBus()
	d := newDispatcher(bus)
	route := Route{DstDomain: 1, DstPort: 2, SrcPort: 3}

	g := graphrt.New(7, 1, d, nil)
	require.NoError(t, d.RegisterGraph(g, route))

	require.NoError(t, bus.Subscribe(route.commandSubject(), func(data []byte) {
		pkt, _ := Decode(data)
		pkt.IsReply = true
		pkt.Status = int32(acdberr.EABORTED)
		require.NoError(t, bus.Publish(route.replySubject(), Encode(pkt)))
	}))

	err := g.Open(kv.Vector{}, nil, nil)
	require.Error(t, err)
	require.Equal(t, acdberr.EABORTED, acdberr.CodeOf(err))
}

func TestUnknownTokenReplyIsDroppedNotDelivered(t *testing.T) {
	bus := newFakeBus()
	d := newDispatcher(bus)
	route := Route{DstDomain: 1, DstPort: 2, SrcPort: 3}

	g := graphrt.New(9, 1, d, nil)
	require.NoError(t, d.RegisterGraph(g, route))

	// A reply with a token the dispatcher never issued (stale/duplicate)
	// must not reach the graph at all.
	stale := Packet{GraphHandle: 9, Kind: KindGraph, Opcode: uint32(graphrt.OpOpen), Token: 999, IsReply: true}
	require.NoError(t, bus.Publish(route.replySubject(), Encode(stale)))
	require.Equal(t, graphrt.Idle, g.State())
}

func TestSendToUnregisteredGraphFails(t *testing.T) {
	d := newDispatcher(newFakeBus())
	err := d.Send(123, graphrt.OpOpen, nil)
	require.Error(t, err)
	require.Equal(t, acdberr.EHANDLE, acdberr.CodeOf(err))
}

func TestEngineTransportRoundtrip(t *testing.T) {
	bus := newFakeBus()
	d := newDispatcher(bus)
	route := Route{DstDomain: 1, DstPort: 2, SrcPort: 3}

	var eng *datapath.Engine
	et := d.BindEngine(5, datapath.Write)
	eng = datapath.NewEngine(datapath.Write, et)
	require.NoError(t, d.RegisterEngine(5, datapath.Write, eng, route))

	require.NoError(t, bus.Subscribe(route.commandSubject(), func(data []byte) {
		pkt, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, KindData, pkt.Kind)
		pkt.IsReply = true
		pkt.Status = int32(acdberr.EOK)
		require.NoError(t, bus.Publish(route.replySubject(), Encode(pkt)))
	}))

	require.NoError(t, eng.Configure(datapath.Config{NumBuffs: 2, BuffSize: 64, Mode: datapath.ModeBlocking}))
	_, err := eng.Write([]byte("hello"), false)
	require.NoError(t, err)
}

func TestEngineReplyForUnregisteredEngineDropped(t *testing.T) {
	bus := newFakeBus()
	d := newDispatcher(bus)
	route := Route{DstDomain: 1, DstPort: 2, SrcPort: 3}
	d.mu.Lock()
	d.subscribed[route.replySubject()] = false
	d.mu.Unlock()
	require.NoError(t, d.ensureSubscribed(route))

	// No engine registered for graph 77; onReply must not panic.
	pkt := Packet{GraphHandle: 77, Kind: KindData, Token: datapath.EncodeToken(0, 1), IsReply: true}
	require.NoError(t, bus.Publish(route.replySubject(), Encode(pkt)))
}
