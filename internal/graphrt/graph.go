package graphrt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/acdbrt/acdbrt/internal/datapath"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/acdbmodel"
	"github.com/acdbrt/acdbrt/pkg/kv"
	"github.com/acdbrt/acdbrt/pkg/log"
)

var rtLog = log.Component(component)

// Opcode identifies one wire command a graph issues, used to pick the
// opcode's configured timeout and error-detection classification (spec
// §4.6 "Timeouts and classification").
type Opcode int

const (
	OpOpen Opcode = iota
	OpPrepare
	OpStart
	OpStop
	OpSuspend
	OpConfigRead
	OpConfigWrite
	OpSetCfg
	OpRegisterCfg
	OpFlush
	OpRegisterModuleEvents
	OpClose
	OpAddGraph
	OpChangeGraph
	OpRemoveGraph
	OpSetCal
	OpSetConfig
	OpCustomCfg
	OpCustomCfgPersist
	OpGetCustomCfg
	OpGetTaggedCustomCfg
	OpRegisterEvent
)

// Group returns which of the three signal groups (1, 2, or 3) owns opcode.
func (o Opcode) Group() int {
	switch o {
	case OpOpen, OpPrepare, OpStart, OpStop, OpSuspend, OpConfigRead, OpConfigWrite,
		OpAddGraph, OpChangeGraph, OpRemoveGraph:
		return 1
	case OpSetCfg, OpRegisterCfg, OpFlush, OpRegisterModuleEvents,
		OpSetCal, OpSetConfig, OpCustomCfg, OpCustomCfgPersist,
		OpGetCustomCfg, OpGetTaggedCustomCfg, OpRegisterEvent:
		return 2
	case OpClose:
		return 3
	default:
		return 1
	}
}

// Transport hands one opcode for a graph to the wire and returns without
// waiting for the reply; a nil error only means the packet was enqueued.
// The classified reply (spec §4.9's EOK/ABORTED/SUBSYS_RESET/TIMEOUT/
// satellite-status taxonomy) arrives later through Graph.HandleReply.
// graphrt depends only on this interface so it can be tested without a
// live dispatcher.
type Transport interface {
	Send(graphHandle uint64, opcode Opcode, payload []byte) error
}

// Timeouts holds the per-opcode reply wait durations; tests set short values.
type Timeouts struct {
	Open    time.Duration
	Close   time.Duration
	StartStop time.Duration
	Default time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Open:      5 * time.Second,
		Close:     5 * time.Second,
		StartStop: 2 * time.Second,
		Default:   500 * time.Millisecond,
	}
}

func (t Timeouts) For(op Opcode) time.Duration {
	switch op {
	case OpOpen:
		return t.Open
	case OpClose:
		return t.Close
	case OpStart, OpStop, OpSuspend:
		return t.StartStop
	default:
		return t.Default
	}
}

// ErrorSink receives the outcome of every graph command so the error-
// detection engine (C10) can update its rolling windows, and whether a
// timeout on OPEN/CLOSE should force an immediate restart (spec §4.6).
type ErrorSink interface {
	Observe(procHandle uint64, op Opcode, err error)
}

// Resolver is the subset of C2 the graph needs to turn a GKV into the
// subgraph/connection topology it must open, and to resolve calibration
// and tag-config blobs (spec §2 "C2 is invoked by C6 at open, change-graph,
// set-cal, set-tag, and get-tag operations").
type Resolver interface {
	GetGraph(gkv kv.Vector) (acdbmodel.GraphTopology, error)
	GetNonPersistCal(sgIDs []uint32, priorCKV, newCKV kv.Vector) ([]acdbmodel.CalRecord, error)
	GetPersistCalIDs(sgIDs []uint32, ckv kv.Vector) ([]acdbmodel.PersistCalRef, error)
	GetTagData(sgIDs []uint32, tagID uint32, tkv kv.Vector, dst []byte) (int, error)
}

// GraphNode is one of a graph handle's GKVs (spec §3 "a single client
// handle may host multiple independently swappable GKVs via
// add/change-graph"). Node 0 is the primary node created by Open; AddGraph
// creates additional ones.
type GraphNode struct {
	GKV, CKV    kv.Vector
	SgIDs       []uint32
	Connections []acdbmodel.SgConnection
	StopMask    uint32
	StartMask   uint32
}

// markStopped sets bit idx in StopMask and clears it from StartMask,
// structurally preserving spec §3's "cannot be in both masks" invariant.
func (n *GraphNode) markStopped(idx uint32) {
	n.StopMask |= 1 << idx
	n.StartMask &^= 1 << idx
}

// markStarted sets bit idx in StartMask and clears it from StopMask.
func (n *GraphNode) markStarted(idx uint32) {
	n.StartMask |= 1 << idx
	n.StopMask &^= 1 << idx
}

// Graph is one graph lifecycle state machine instance.
type Graph struct {
	mu    sync.Mutex
	state State

	Handle uint64
	node0  GraphNode // the primary gkv_node, created by Open

	extraNodes map[uint64]*GraphNode // add_graph'd nodes, keyed by synthetic id
	nextNodeID uint64

	resolver Resolver
	pool     SgPool

	readEngine, writeEngine *datapath.Engine
	readCfg, writeCfg       *datapath.Config

	customCfg        map[uint32][]byte
	customCfgPersist map[uint32][]byte
	registeredEvents map[uint32]bool

	groups [4]*Signal // index 1,2,3 used; 0 unused

	transport  Transport
	timeouts   Timeouts
	errSink    ErrorSink
	procHandle uint64

	// connActive is the process-wide satellite-link flag shared by every
	// graph (the runtime's rtc_conn_active). It is stored as a pointer
	// rather than copied by value: a disconnect that lands while Open is
	// still in flight is observed by the new graph too, since both read
	// the same word instead of a snapshot taken before Open started.
	connActive *atomic.Bool

	numRTGMInProg  int
	clientOpInProg bool
	cond           *sync.Cond
}

// New constructs an idle graph bound to transport for issuing commands.
func New(handle uint64, procHandle uint64, transport Transport, errSink ErrorSink) *Graph {
	g := &Graph{
		Handle:           handle,
		procHandle:       procHandle,
		state:            Idle,
		transport:        transport,
		timeouts:         DefaultTimeouts(),
		errSink:          errSink,
		groups:           [4]*Signal{nil, newSignal(), newSignal(), newSignal()},
		extraNodes:       make(map[uint64]*GraphNode),
		customCfg:        make(map[uint32][]byte),
		customCfgPersist: make(map[uint32][]byte),
		registeredEvents: make(map[uint32]bool),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// SetResolver binds the C2 resolver Open/AddGraph/ChangeGraph/SetCal/
// SetConfig use to turn a GKV into wire-ready topology and config blobs.
// A nil resolver (the default) makes Open fall back to caller-supplied
// sgIDs, matching the graph's pre-C2-wiring behavior.
func (g *Graph) SetResolver(r Resolver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolver = r
}

// SetPool binds the C5 subgraph pool Open/Close/AddGraph/RemoveGraph use
// to acquire and release sg/connection refcounts.
func (g *Graph) SetPool(p SgPool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pool = p
}

// SetConnActive binds flag as the graph's view of the satellite link's
// liveness. A nil flag (the default) makes ConnActive always report true,
// matching the graph's pre-wiring behavior in isolation tests.
func (g *Graph) SetConnActive(flag *atomic.Bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connActive = flag
}

// ConnActive reports whether the satellite link was active last time it
// was checked (spec's rtc_conn_active). Callers needing to fail fast on a
// dropped link (e.g. before issuing start/stop) check this rather than
// waiting for a timeout.
func (g *Graph) ConnActive() bool {
	g.mu.Lock()
	flag := g.connActive
	g.mu.Unlock()
	if flag == nil {
		return true
	}
	return flag.Load()
}

// GKV returns the primary node's GKV.
func (g *Graph) GKV() kv.Vector {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node0.GKV
}

// CKV returns the primary node's CKV.
func (g *Graph) CKV() kv.Vector {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node0.CKV
}

// SgIDs returns the primary node's subgraph ids.
func (g *Graph) SgIDs() []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node0.SgIDs
}

func (g *Graph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// beginClientOp blocks while an RTGM is in progress, then marks a client op
// in progress (spec §4.6 RTGM coordination).
func (g *Graph) beginClientOp() {
	g.mu.Lock()
	for g.numRTGMInProg > 0 {
		g.cond.Wait()
	}
	g.clientOpInProg = true
	g.mu.Unlock()
}

func (g *Graph) endClientOp() {
	g.mu.Lock()
	g.clientOpInProg = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// issue sends opcode through transport, serialized on op's signal group,
// classifies the result, and reports it to errSink. Close (group 3) is not
// gated by beginClientOp/RTGM coordination — it must remain usable even if
// a group-1 command is believed stuck.
//
// transport.Send only enqueues the packet; the reply arrives later via
// HandleReply (called from the dispatcher's callback thread), matching
// spec §5's "one or more dispatcher callback threads" concurrency model.
func (g *Graph) issue(op Opcode, payload []byte) error {
	_, err := g.issueReply(op, payload)
	return err
}

// issueReply is issue, but also returns whatever reply payload the
// satellite sent back (used by get_custom_config/get_tagged_custom_config).
func (g *Graph) issueReply(op Opcode, payload []byte) ([]byte, error) {
	if !g.ConnActive() {
		return nil, acdberr.New(component, acdberr.ESUBSYSRESET)
	}

	group := g.groups[op.Group()]
	if err := group.Acquire(); err != nil {
		return nil, err
	}

	if sendErr := g.transport.Send(g.Handle, op, payload); sendErr != nil {
		group.Complete(nil, sendErr)
	}

	reply, err := group.Wait(g.timeouts.For(op))
	if g.errSink != nil {
		g.errSink.Observe(g.procHandle, op, err)
	}
	return reply, err
}

// HandleReply delivers a dispatcher-classified reply (and any payload the
// satellite returned) for opcode, waking any caller blocked in issue's Wait.
func (g *Graph) HandleReply(opcode Opcode, payload []byte, err error) {
	g.groups[opcode.Group()].Complete(payload, err)
}

// Open issues OPEN for gkv (and optional ckv), transitioning Idle -> Opened.
// An OPEN timeout is always treated as fatal (spec §4.6): issue reports it
// to the bound ErrorSink (errdetect), which forces a restart on any
// OPEN/CLOSE timeout regardless of the rolling-window counts.
//
// When a resolver (C2) is bound, gkv is resolved to its sg/connection
// topology and sgIDs is ignored; sgIDs only matters when no resolver has
// been set (e.g. in tests exercising the state machine in isolation). When
// a pool (C5) is bound, Open acquires a refcount for every resolved
// subgraph and connection before issuing OPEN on the wire, and rolls the
// acquisitions back if any of them fails (spec §2 "C5 is invoked by C6 to
// share subgraphs and connections across co-resident graphs").
func (g *Graph) Open(gkv, ckv kv.Vector, sgIDs []uint32) error {
	g.mu.Lock()
	if !canTransition(g.state, "open") {
		g.mu.Unlock()
		return acdberr.New(component, acdberr.ENOTREADY)
	}
	resolver := g.resolver
	pool := g.pool
	g.mu.Unlock()

	var conns []acdbmodel.SgConnection
	if resolver != nil {
		topo, err := resolver.GetGraph(gkv)
		if err != nil {
			return err
		}
		sgIDs, conns = topo.SgIDs, topo.Connections
	}

	if pool != nil {
		if err := acquireTopology(pool, sgIDs, conns); err != nil {
			return err
		}
	}

	g.beginClientOp()
	defer g.endClientOp()

	if err := g.issue(OpOpen, nil); err != nil {
		if pool != nil {
			releaseTopology(pool, sgIDs, conns)
		}
		return err
	}

	g.mu.Lock()
	g.node0 = GraphNode{GKV: gkv, CKV: ckv, SgIDs: sgIDs, Connections: conns}
	g.state = Opened
	g.mu.Unlock()
	rtLog.Infof("graph %d opened", g.Handle)
	return nil
}

// acquireTopology acquires pool refcounts for every subgraph and
// connection, releasing whatever it already acquired if one fails partway
// through.
func acquireTopology(pool SgPool, sgIDs []uint32, conns []acdbmodel.SgConnection) error {
	acquiredSgs := make([]uint32, 0, len(sgIDs))
	acquiredConns := make([]acdbmodel.SgConnection, 0, len(conns))
	rollback := func() {
		for _, c := range acquiredConns {
			_ = pool.ReleaseConn(c.Src, c.Dst)
		}
		for _, sg := range acquiredSgs {
			_ = pool.Release(sg)
		}
	}
	for _, sg := range sgIDs {
		if err := pool.Acquire(sg); err != nil {
			rollback()
			return err
		}
		acquiredSgs = append(acquiredSgs, sg)
	}
	for _, c := range conns {
		if err := pool.AcquireConn(c.Src, c.Dst); err != nil {
			rollback()
			return err
		}
		acquiredConns = append(acquiredConns, c)
	}
	return nil
}

func releaseTopology(pool SgPool, sgIDs []uint32, conns []acdbmodel.SgConnection) {
	for _, c := range conns {
		_ = pool.ReleaseConn(c.Src, c.Dst)
	}
	for _, sg := range sgIDs {
		_ = pool.Release(sg)
	}
}

func (g *Graph) Prepare() error {
	g.beginClientOp()
	defer g.endClientOp()
	if err := g.requireAndIssue("prepare", Prepared, OpPrepare, nil); err != nil {
		return err
	}
	return nil
}

func (g *Graph) Start() error {
	g.beginClientOp()
	defer g.endClientOp()
	if err := g.requireAndIssue("start", Started, OpStart, nil); err != nil {
		return err
	}
	g.mu.Lock()
	for idx := range g.node0.SgIDs {
		g.node0.markStarted(uint32(idx))
	}
	g.mu.Unlock()
	return nil
}

func (g *Graph) Stop(filterPayload []byte) error {
	g.beginClientOp()
	defer g.endClientOp()
	return g.requireAndIssue("stop", Stopped, OpStop, filterPayload)
}

func (g *Graph) Suspend() error {
	g.beginClientOp()
	defer g.endClientOp()
	return g.requireAndIssue("suspend", Suspended, OpSuspend, nil)
}

func (g *Graph) Flush() error {
	g.beginClientOp()
	defer g.endClientOp()
	g.mu.Lock()
	cur := g.state
	g.mu.Unlock()
	return g.issueAndReport(OpFlush, nil, cur)
}

// Close issues CLOSE unconditionally, bypassing RTGM/client-op gating
// (spec §4.6 Group 3 "always permitted"), then releases every sg/connection
// refcount this graph (across all of its gkv_nodes) still holds.
func (g *Graph) Close() error {
	err := g.issue(OpClose, nil)

	g.mu.Lock()
	g.state = Closed
	pool := g.pool
	node0 := g.node0
	extra := g.extraNodes
	g.extraNodes = make(map[uint64]*GraphNode)
	if g.readEngine != nil {
		g.readEngine.Close()
	}
	if g.writeEngine != nil {
		g.writeEngine.Close()
	}
	g.mu.Unlock()

	if pool != nil {
		releaseTopology(pool, node0.SgIDs, node0.Connections)
		for _, n := range extra {
			releaseTopology(pool, n.SgIDs, n.Connections)
		}
	}

	for _, grp := range g.groups {
		if grp != nil {
			grp.SignalClose()
		}
	}
	rtLog.Infof("graph %d closed", g.Handle)
	return err
}

func (g *Graph) requireAndIssue(op string, next State, opcode Opcode, payload []byte) error {
	g.mu.Lock()
	if !canTransition(g.state, op) {
		g.mu.Unlock()
		return acdberr.New(component, acdberr.ENOTREADY)
	}
	g.mu.Unlock()

	if err := g.issue(opcode, payload); err != nil {
		return err
	}
	g.mu.Lock()
	g.state = next
	g.mu.Unlock()
	return nil
}

func (g *Graph) issueAndReport(opcode Opcode, payload []byte, stateAfter State) error {
	if err := g.issue(opcode, payload); err != nil {
		return err
	}
	g.mu.Lock()
	g.state = stateAfter
	g.mu.Unlock()
	return nil
}

// SignalSSR propagates a subsystem reset onto every signal group, used by
// the SSR coordinator (C11) when a subsystem this graph depends on goes
// down.
func (g *Graph) SignalSSR() {
	for _, grp := range g.groups {
		if grp != nil {
			grp.SignalSSR()
		}
	}
}

// ForceErrorState moves the graph directly to s (ErrorState or
// ErrorAllowCleanup), used by the SSR coordinator's DOWN callback.
func (g *Graph) ForceErrorState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}
