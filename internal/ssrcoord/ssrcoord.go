// Package ssrcoord implements the subsystem-restart coordinator (C11, spec
// §4.11): per-master bitmasks of subsystem state, servreg-style domain
// listeners, and fan-out of DOWN/UP events to affected graphs and the
// shared-memory manager.
package ssrcoord

import (
	"context"
	"sync"
	"time"

	"github.com/acdbrt/acdbrt/internal/graphrt"
	"github.com/acdbrt/acdbrt/internal/shmem"
	"github.com/acdbrt/acdbrt/pkg/log"
	"github.com/go-co-op/gocron/v2"
)

var ssrLog = log.Component("SSRCOORD")

// Kind distinguishes a master subsystem (its DOWN always forces ERROR) from
// a dynamic satellite (its DOWN forces ERROR_ALLOW_CLEANUP and, for the
// master-owned satellite, a servreg-initiated master restart).
type Kind int

const (
	Master Kind = iota
	Satellite
)

// GraphSet is the subset of graphrt.Manager the coordinator needs to fan
// out SSR events to every graph that depends on a subsystem.
type GraphSet interface {
	All() []*graphrt.Graph
}

// RestartFunc restarts the master that owns a dynamic satellite (spec
// §4.11 "a DOWN on the satellite triggers a servreg-initiated restart of
// the master").
type RestartFunc func(masterSub uint32)

// Coordinator tracks per-subsystem supported/state flags and drives SSR
// fan-out.
type Coordinator struct {
	mu             sync.Mutex
	supportedFlags map[uint32]bool
	stateDown      map[uint32]bool
	kinds          map[uint32]Kind
	ownerMaster    map[uint32]uint32 // satellite sub -> owning master sub

	graphs  GraphSet
	shmem   *shmem.Manager
	restart RestartFunc

	scheduler gocron.Scheduler
}

// New builds a coordinator fanning SSR events out to graphs and shmem.
func New(graphs GraphSet, sm *shmem.Manager, restart RestartFunc) (*Coordinator, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		supportedFlags: make(map[uint32]bool),
		stateDown:      make(map[uint32]bool),
		kinds:          make(map[uint32]Kind),
		ownerMaster:    make(map[uint32]uint32),
		graphs:         graphs,
		shmem:          sm,
		restart:        restart,
		scheduler:      sched,
	}, nil
}

// RegisterSubsystem declares subsystem sub as supported, of kind, with
// ownerMaster set when kind is Satellite (the master subsystem ID this
// satellite reports to on DOWN).
func (c *Coordinator) RegisterSubsystem(sub uint32, kind Kind, ownerMaster uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supportedFlags[sub] = true
	c.kinds[sub] = kind
	if kind == Satellite {
		c.ownerMaster[sub] = ownerMaster
	}
}

// IsSupported reports whether sub was registered.
func (c *Coordinator) IsSupported(sub uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supportedFlags[sub]
}

// IsDown reports the current state flag for sub.
func (c *Coordinator) IsDown(sub uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateDown[sub]
}

// OnDown is the servreg callback for subsystem sub going down. It updates
// state, signals SSR on every graph's signal groups, and forces the graph
// into the state the subsystem's kind dictates (spec §4.11).
func (c *Coordinator) OnDown(sub uint32) {
	c.mu.Lock()
	c.stateDown[sub] = true
	kind := c.kinds[sub]
	owner, hasOwner := c.ownerMaster[sub]
	c.mu.Unlock()

	ssrLog.Warnf("subsystem %d down", sub)

	if c.shmem != nil {
		c.shmem.SignalDown(sub)
	}

	target := graphrt.ErrorAllowCleanup
	if kind == Master {
		target = graphrt.ErrorState
	}

	if c.graphs != nil {
		for _, g := range c.graphs.All() {
			g.SignalSSR()
			g.ForceErrorState(target)
		}
	}

	if kind == Satellite && hasOwner && c.restart != nil {
		c.restart(owner)
	}
}

// OnUp is the servreg callback for subsystem sub coming back up. It clears
// the state flag and lets shmem.Manager unblock any pending Map/Unmap
// calls. It does not re-map shmem regions or reload bootup modules, and
// schedules nothing for the subsystem's next graph open.
func (c *Coordinator) OnUp(sub uint32) {
	c.mu.Lock()
	c.stateDown[sub] = false
	c.mu.Unlock()

	ssrLog.Infof("subsystem %d up", sub)
	if c.shmem != nil {
		c.shmem.SignalUp(sub)
	}
}

// StartLivenessPolling schedules a periodic liveness sweep every interval,
// calling probe(sub) for each registered subsystem and routing the result
// through OnDown/OnUp. This stands in for servreg's own notification
// thread in deployments where polling is the only available signal.
func (c *Coordinator) StartLivenessPolling(ctx context.Context, interval time.Duration, probe func(sub uint32) (alive bool)) error {
	_, err := c.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			c.mu.Lock()
			subs := make([]uint32, 0, len(c.supportedFlags))
			for s := range c.supportedFlags {
				subs = append(subs, s)
			}
			c.mu.Unlock()

			for _, sub := range subs {
				alive := probe(sub)
				wasDown := c.IsDown(sub)
				if alive && wasDown {
					c.OnUp(sub)
				} else if !alive && !wasDown {
					c.OnDown(sub)
				}
			}
		}),
	)
	if err != nil {
		return err
	}
	c.scheduler.Start()
	go func() {
		<-ctx.Done()
		c.scheduler.Shutdown()
	}()
	return nil
}
