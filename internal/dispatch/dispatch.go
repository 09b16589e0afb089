// Package dispatch implements the packet/command dispatcher (C9, spec
// §4.9): it builds wire packets for graph control opcodes and datapath
// buffers, sends them over NATS request/reply subjects in place of the GPR
// point-to-point link, classifies replies into the EOK/ABORTED/
// SUBSYS_RESET/satellite-status taxonomy, and drops token-mismatched
// replies as late duplicates instead of waking a caller.
package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/acdbrt/acdbrt/internal/datapath"
	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/log"
)

const component = "DISPATCH"

var dispLog = log.Component(component)

// transport is the publish/subscribe primitive the dispatcher needs; the
// real implementation wraps pkg/nats.Client, tests use an in-process fake.
type transport interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) error
	Close()
}

// Route names the NATS subject a graph's satellite listens on and the
// subject the dispatcher itself subscribes to for that graph's replies.
type Route struct {
	DstDomain uint8
	DstPort   uint32
	SrcPort   uint32
}

func (r Route) commandSubject() string {
	return fmt.Sprintf("acdb.cmd.%d.%d", r.DstDomain, r.DstPort)
}

func (r Route) replySubject() string {
	return fmt.Sprintf("acdb.reply.%d", r.SrcPort)
}

// pendingCmd is what the dispatcher keeps for every graph control opcode
// in flight, so a reply that arrives with a stale or unknown token is
// recognized as a late duplicate and dropped instead of waking a caller
// whose group has since moved on to a different opcode (spec §4.9).
type pendingCmd struct {
	graphHandle uint64
	opcode      graphrt.Opcode
}

// engineKey identifies one of a graph's two datapath engines.
type engineKey struct {
	graphHandle uint64
	dir         datapath.Direction
}

// Dispatcher routes graph control opcodes and datapath buffers to
// satellites over NATS and demultiplexes their replies back to the
// graphrt.Graph / datapath.Engine that issued them.
type Dispatcher struct {
	tr transport

	mu     sync.Mutex
	routes map[uint64]Route // graph handle -> route
	graphs map[uint64]*graphrt.Graph
	engines map[engineKey]*datapath.Engine

	pendingMu sync.Mutex
	pending   map[uint32]pendingCmd // control-plane token -> in-flight command

	nextToken atomic.Uint32

	// subscribed tracks reply subjects already listened on, so registering
	// a second graph on the same src port doesn't double-subscribe.
	subscribed map[string]bool
}

func newDispatcher(tr transport) *Dispatcher {
	return &Dispatcher{
		tr:         tr,
		routes:     make(map[uint64]Route),
		graphs:     make(map[uint64]*graphrt.Graph),
		engines:    make(map[engineKey]*datapath.Engine),
		pending:    make(map[uint32]pendingCmd),
		subscribed: make(map[string]bool),
	}
}

// RegisterGraph binds g's control-plane traffic to route, subscribing to
// route's reply subject if this is the first graph using it.
func (d *Dispatcher) RegisterGraph(g *graphrt.Graph, route Route) error {
	d.mu.Lock()
	d.routes[g.Handle] = route
	d.graphs[g.Handle] = g
	d.mu.Unlock()
	return d.ensureSubscribed(route)
}

// RegisterEngine binds e (one of a graph's read or write datapath engines)
// to route for reply demultiplexing.
func (d *Dispatcher) RegisterEngine(graphHandle uint64, dir datapath.Direction, e *datapath.Engine, route Route) error {
	d.mu.Lock()
	d.engines[engineKey{graphHandle, dir}] = e
	d.mu.Unlock()
	return d.ensureSubscribed(route)
}

func (d *Dispatcher) ensureSubscribed(route Route) error {
	subj := route.replySubject()
	d.mu.Lock()
	if d.subscribed[subj] {
		d.mu.Unlock()
		return nil
	}
	d.subscribed[subj] = true
	d.mu.Unlock()

	return d.tr.Subscribe(subj, d.onReply)
}

// Close tears down the transport; in-flight commands are not retried.
func (d *Dispatcher) Close() {
	d.tr.Close()
}

// connChecker is implemented by transports that track an underlying link
// (natsTransport does, via pkg/nats.Client.IsConnected); fakes used in
// tests need not implement it.
type connChecker interface {
	IsConnected() bool
}

// IsConnected reports the transport's link state, defaulting to true when
// the transport has no notion of connectivity (in-process test fakes).
func (d *Dispatcher) IsConnected() bool {
	if cc, ok := d.tr.(connChecker); ok {
		return cc.IsConnected()
	}
	return true
}

// Send implements graphrt.Transport: it enqueues a graph control opcode
// and returns once the packet has been published, well before any reply
// arrives (spec §4.9's asynchronous dispatcher-callback model).
func (d *Dispatcher) Send(graphHandle uint64, opcode graphrt.Opcode, payload []byte) error {
	d.mu.Lock()
	route, ok := d.routes[graphHandle]
	d.mu.Unlock()
	if !ok {
		return acdberr.New(component, acdberr.EHANDLE)
	}

	token := d.nextToken.Add(1)
	d.pendingMu.Lock()
	d.pending[token] = pendingCmd{graphHandle: graphHandle, opcode: opcode}
	d.pendingMu.Unlock()

	pkt := Packet{
		GraphHandle: graphHandle,
		Kind:        KindGraph,
		Opcode:      uint32(opcode),
		Token:       token,
	}
	if err := d.tr.Publish(route.commandSubject(), Encode(pkt)); err != nil {
		d.pendingMu.Lock()
		delete(d.pending, token)
		d.pendingMu.Unlock()
		return err
	}
	return nil
}

// SendData implements datapath.Transport for one read or write buffer.
func (d *Dispatcher) SendData(graphHandle uint64, dir datapath.Direction, bufferIndex uint32, token uint32, payload []byte, metadata []byte) error {
	d.mu.Lock()
	route, ok := d.routes[graphHandle]
	d.mu.Unlock()
	if !ok {
		return acdberr.New(component, acdberr.EHANDLE)
	}

	pkt := Packet{
		GraphHandle: graphHandle,
		Kind:        KindData,
		Dir:         dir,
		Token:       token,
		Payload:     payload,
		Metadata:    metadata,
	}
	return d.tr.Publish(route.commandSubject(), Encode(pkt))
}

// SendEOS publishes an EOS packet for graphHandle/dir on the graph's command
// subject; EngineTransport below binds graphHandle/dir once so this method
// pair fits the per-engine interface datapath.Engine expects.
func (d *Dispatcher) SendEOS(graphHandle uint64, dir datapath.Direction, token uint32) error {
	d.mu.Lock()
	route, ok := d.routes[graphHandle]
	d.mu.Unlock()
	if !ok {
		return acdberr.New(component, acdberr.EHANDLE)
	}

	pkt := Packet{
		GraphHandle: graphHandle,
		Kind:        KindEOS,
		Dir:         dir,
		Token:       token,
	}
	return d.tr.Publish(route.commandSubject(), Encode(pkt))
}

// EngineTransport adapts one (graphHandle, dir) pair to datapath.Transport
// so each Engine can be handed a transport bound to its own identity
// without knowing about the shared Dispatcher underneath.
type EngineTransport struct {
	d           *Dispatcher
	graphHandle uint64
	dir         datapath.Direction
}

// BindEngine returns a datapath.Transport for graphHandle/dir; pass the
// result to datapath.NewEngine.
func (d *Dispatcher) BindEngine(graphHandle uint64, dir datapath.Direction) *EngineTransport {
	return &EngineTransport{d: d, graphHandle: graphHandle, dir: dir}
}

func (t *EngineTransport) SendData(bufferIndex uint32, token uint32, dir datapath.Direction, payload []byte, metadata []byte) error {
	return t.d.SendData(t.graphHandle, dir, bufferIndex, token, payload, metadata)
}

func (t *EngineTransport) SendEOS(token uint32) error {
	return t.d.SendEOS(t.graphHandle, t.dir, token)
}

// onReply is the transport's message callback, invoked on whatever
// goroutine the subscription delivers on (spec §5's "one or more
// dispatcher callback threads").
func (d *Dispatcher) onReply(data []byte) {
	pkt, err := Decode(data)
	if err != nil {
		dispLog.Warnf("malformed reply dropped: %v", err)
		return
	}
	if !pkt.IsReply {
		return
	}

	switch pkt.Kind {
	case KindGraph:
		d.handleGraphReply(pkt)
	case KindData:
		d.handleEngineReply(pkt, false)
	case KindEOS:
		d.handleEngineReply(pkt, true)
	}
}

func (d *Dispatcher) handleGraphReply(pkt Packet) {
	d.pendingMu.Lock()
	cmd, ok := d.pending[pkt.Token]
	if ok {
		delete(d.pending, pkt.Token)
	}
	d.pendingMu.Unlock()
	if !ok {
		dispLog.Warnf("late or duplicate graph reply token=%d dropped", pkt.Token)
		return
	}
	if cmd.graphHandle != pkt.GraphHandle || cmd.opcode != graphrt.Opcode(pkt.Opcode) {
		dispLog.Warnf("graph reply token=%d opcode/handle mismatch dropped", pkt.Token)
		return
	}

	d.mu.Lock()
	g, ok := d.graphs[pkt.GraphHandle]
	d.mu.Unlock()
	if !ok {
		return
	}
	g.HandleReply(cmd.opcode, pkt.Payload, classify(pkt.Status))
}

func (d *Dispatcher) handleEngineReply(pkt Packet, eos bool) {
	d.mu.Lock()
	e, ok := d.engines[engineKey{pkt.GraphHandle, pkt.Dir}]
	d.mu.Unlock()
	if !ok {
		dispLog.Warnf("reply for unregistered engine (graph=%d dir=%v) dropped", pkt.GraphHandle, pkt.Dir)
		return
	}

	if eos {
		status := datapath.Rendered
		if pkt.Status != int32(acdberr.EOK) {
			status = datapath.Dropped
		}
		e.HandleEOS(status, classify(pkt.Status))
		return
	}
	e.HandleDone(pkt.Token, uint32(len(pkt.Payload)), classify(pkt.Status))
}

// classify turns a wire status (an acdberr.Code, EOK meaning success) into
// the error graphrt/datapath callers see (spec §4.9's reply taxonomy).
func classify(status int32) error {
	code := acdberr.Code(status)
	if code == acdberr.EOK {
		return nil
	}
	return acdberr.New(component, code)
}

var (
	_ graphrt.Transport  = (*Dispatcher)(nil)
	_ datapath.Transport = (*EngineTransport)(nil)
)
