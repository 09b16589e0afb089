// Package runtime composes C1 through C12 into one process-wide context:
// it owns the registry, graph manager, dispatcher, shared-memory manager,
// subgraph pool, external-memory cache, error-detection engine and SSR
// coordinator, and brokers the client-facing open()/close() handle
// lifecycle on top of them (spec §9's process-wide wiring).
package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/acdbrt/acdbrt/internal/config"
	"github.com/acdbrt/acdbrt/internal/datapath"
	"github.com/acdbrt/acdbrt/internal/dispatch"
	"github.com/acdbrt/acdbrt/internal/errdetect"
	"github.com/acdbrt/acdbrt/internal/externmem"
	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/internal/registry"
	"github.com/acdbrt/acdbrt/internal/shmem"
	"github.com/acdbrt/acdbrt/internal/ssrcoord"
	"github.com/acdbrt/acdbrt/internal/subgraphpool"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/kv"
	"github.com/acdbrt/acdbrt/pkg/log"
	acdbnats "github.com/acdbrt/acdbrt/pkg/nats"
)

var rtLog = log.Component(component)

// Runtime is the fully wired process context a daemon main() builds once
// at startup.
type Runtime struct {
	cfg config.Config

	Registry   *registry.Registry
	Manager    *graphrt.Manager
	Dispatcher *dispatch.Dispatcher
	Shmem      *shmem.Manager
	Pool       *subgraphpool.Pool
	ExternMem  *externmem.Cache
	ErrDetect  *errdetect.Engine
	SSR        *ssrcoord.Coordinator

	resolvers *resolverCache
	sgPool    *sgPoolAdapter
	tokens    *tokenIssuer

	// connActive is the shared rtc_conn_active flag: every open graph
	// holds this same pointer (graphrt.Graph.SetConnActive), so a
	// disconnect observed here is visible to a graph whose Open is still
	// in flight, not just to graphs opened afterward.
	connActive   atomic.Bool
	stopConnPoll chan struct{}
}

// New builds every C1-C12 component and wires them together per cfg. It
// starts the goroutine that tracks the dispatcher's link state, but not SSR
// liveness polling or the admin HTTP server; callers start those explicitly
// once New succeeds.
func New(cfg config.Config) (*Runtime, error) {
	reg, err := registry.Open(cfg.Registry.DBPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: open registry: %w", err)
	}

	rt := &Runtime{
		cfg:      cfg,
		Registry: reg,
		Manager:  graphrt.NewManager(),
		Shmem:    shmem.New(),
		Pool:     subgraphpool.New(),
		tokens:   newTokenIssuer(cfg.ClientAuth.SigningKey),
	}
	rt.resolvers = newResolverCache(reg)
	rt.sgPool = newSgPoolAdapter(rt.Pool)
	rt.ExternMem = newExternCache(cfg.ExternCache.Capacity, rt.Shmem)
	rt.ErrDetect = errdetect.New(rt.restartMaster)

	ssr, err := ssrcoord.New(rt.Manager, rt.Shmem, rt.restartMasterSub)
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("runtime: start ssr coordinator: %w", err)
	}
	rt.SSR = ssr

	dp, err := dispatch.Connect(acdbnats.Options{
		Address:       cfg.Dispatcher.NATSAddress,
		Username:      cfg.Dispatcher.NATSUsername,
		Password:      cfg.Dispatcher.NATSPassword,
		CredsFilePath: cfg.Dispatcher.NATSCredsFile,
	})
	if err != nil {
		reg.Close()
		return nil, fmt.Errorf("runtime: connect dispatcher: %w", err)
	}
	rt.Dispatcher = dp
	rt.connActive.Store(dp.IsConnected())
	rt.stopConnPoll = make(chan struct{})
	go rt.pollConnActive()

	return rt, nil
}

// pollConnActive keeps connActive in sync with the dispatcher's NATS link,
// stopping when Close signals stopConnPoll.
func (rt *Runtime) pollConnActive() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			was := rt.connActive.Load()
			now := rt.Dispatcher.IsConnected()
			rt.connActive.Store(now)
			if was && !now {
				rtLog.Warnf("satellite link down")
			} else if !was && now {
				rtLog.Infof("satellite link restored")
			}
		case <-rt.stopConnPoll:
			return
		}
	}
}

// restartMaster is errdetect's RestartFunc: today it only
// logs, since process-level restart is owned by whatever supervises the
// daemon (systemd, in the teacher's deployment model).
func (rt *Runtime) restartMaster(procHandle uint64, reason string) {
	rtLog.Warnf("master proc %d scheduled for restart: %s", procHandle, reason)
}

// restartMasterSub is ssrcoord's RestartFunc: a servreg-initiated restart
// names the owning master subsystem, not a proc handle, so it gets its own
// log line rather than being funneled through restartMaster.
func (rt *Runtime) restartMasterSub(masterSub uint32) {
	rtLog.Warnf("master subsystem %d scheduled for restart by ssr coordinator", masterSub)
}

// OpenResult is what OpenGraph hands back to a client: the numeric handle
// used on every subsequent call, plus the signed token binding it to the
// opening process and GKV.
type OpenResult struct {
	Handle uint64
	Token  string
}

// OpenGraph brokers a client's open(): it registers a new graph with the
// manager, resolves gkv's topology via the owning database's resolver,
// issues OPEN on the wire, and mints the handle token the client must
// present on every later call.
func (rt *Runtime) OpenGraph(dbHandle registry.Handle, route dispatch.Route, procHandle uint64, gkv, ckv kv.Vector, sgIDs []uint32) (OpenResult, error) {
	res, err := rt.resolvers.Get(dbHandle)
	if err != nil {
		return OpenResult{}, err
	}

	g := rt.Manager.Register(rt.Dispatcher, procHandle, rt.ErrDetect)
	g.SetResolver(res)
	g.SetPool(rt.sgPool)
	g.SetConnActive(&rt.connActive)

	if err := rt.Dispatcher.RegisterGraph(g, route); err != nil {
		rt.Manager.Unregister(g.Handle)
		return OpenResult{}, err
	}

	if err := g.Open(gkv, ckv, sgIDs); err != nil {
		rt.Manager.Unregister(g.Handle)
		return OpenResult{}, err
	}

	readEng := datapath.NewEngine(datapath.Read, rt.Dispatcher.BindEngine(g.Handle, datapath.Read))
	readEng.SetExternCache(rt.ExternMem)
	if err := rt.Dispatcher.RegisterEngine(g.Handle, datapath.Read, readEng, route); err != nil {
		rt.Manager.Unregister(g.Handle)
		return OpenResult{}, err
	}

	writeEng := datapath.NewEngine(datapath.Write, rt.Dispatcher.BindEngine(g.Handle, datapath.Write))
	writeEng.SetExternCache(rt.ExternMem)
	if err := rt.Dispatcher.RegisterEngine(g.Handle, datapath.Write, writeEng, route); err != nil {
		rt.Manager.Unregister(g.Handle)
		return OpenResult{}, err
	}

	g.SetDataPaths(readEng, writeEng)

	token, err := rt.tokens.Issue(g.Handle, procHandle, gkv)
	if err != nil {
		return OpenResult{}, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return OpenResult{Handle: g.Handle, Token: token}, nil
}

// AuthorizeGraph verifies token against handle before a client's
// ioctl/read/write touches the graph, returning the graph on success.
func (rt *Runtime) AuthorizeGraph(handle uint64, token string, procHandle uint64) (*graphrt.Graph, error) {
	g, err := rt.Manager.Get(handle)
	if err != nil {
		return nil, err
	}
	if err := rt.tokens.Verify(token, handle, procHandle, g.GKV()); err != nil {
		return nil, err
	}
	return g, nil
}

// CloseGraph closes and unregisters handle. Its database's cached resolver
// stays cached.
func (rt *Runtime) CloseGraph(handle uint64) error {
	g, err := rt.Manager.Get(handle)
	if err != nil {
		return err
	}
	if err := g.Close(); err != nil {
		return err
	}
	rt.Manager.Unregister(handle)
	return nil
}

// StartLivenessPolling begins the SSR coordinator's periodic liveness
// sweep, stopping when ctx is cancelled.
func (rt *Runtime) StartLivenessPolling(ctx context.Context, probe func(sub uint32) bool) error {
	return rt.SSR.StartLivenessPolling(ctx, rt.cfg.Timeouts.DefaultTimeout(), probe)
}

// Close stops the link-state poll, closes the dispatcher, then closes the
// registry. Cached resolvers and the SSR coordinator are not released here.
func (rt *Runtime) Close() error {
	if rt.stopConnPoll != nil {
		close(rt.stopConnPoll)
	}
	if rt.Dispatcher != nil {
		rt.Dispatcher.Close()
	}
	return rt.Registry.Close()
}
