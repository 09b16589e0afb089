// Package shmem implements the shared-memory manager (C4, spec §4.4):
// anonymous mmap allocations handed to satellite subsystems, and the SSR
// bookkeeping that blocks map/unmap against a downed subsystem until it
// comes back up.
package shmem

import (
	"sync"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/log"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const component = "SHMEM"

var shmemLog = log.Component(component)

// Flags mirrors spec §4.4's alloc flags bitmask.
type Flags uint32

const (
	DedicatedPage Flags = 1 << iota
	Uncached
	ReadOnly
	ReadWrite
)

// Handle identifies one allocation.
type Handle uuid.UUID

// Region is one shared-memory allocation.
type Region struct {
	Handle   Handle
	VirtPtr  []byte
	Size     uint32
	Flags    Flags
	Platform uint32
	ProcMask uint32
	extern   bool
	// mappedTo is the set of subsystem IDs this region is currently mapped
	// into. A subsystem going down clears its bit without freeing the
	// region; Manager.Remap restores it once the subsystem comes back.
	mappedTo map[uint32]bool
}

// Manager owns every live shared-memory region and the per-subsystem SSR
// signal on which map/unmap calls targeting a downed subsystem wait until
// SignalUp (spec §4.4 "SSR rule"). Waiting calls are not aborted with
// SUBSYS_RESET.
type Manager struct {
	mu       sync.Mutex
	regions  map[Handle]*Region
	ssrCond  *sync.Cond
	ssrDown  map[uint32]bool // subsystem id -> down
}

func New() *Manager {
	m := &Manager{regions: make(map[Handle]*Region), ssrDown: make(map[uint32]bool)}
	m.ssrCond = sync.NewCond(&m.mu)
	return m
}

// Alloc creates a new anonymous mmap'd region of size bytes.
func (m *Manager) Alloc(size uint32, flags Flags, platform uint32, procMask uint32) (*Region, error) {
	if size == 0 {
		return nil, acdberr.New(component, acdberr.EBADPARAM)
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if flags&ReadOnly != 0 {
		prot = unix.PROT_READ
	}
	buf, err := unix.Mmap(-1, 0, int(size), prot, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.ENOMEMORY, err)
	}

	r := &Region{
		Handle:   Handle(uuid.New()),
		VirtPtr:  buf,
		Size:     size,
		Flags:    flags,
		Platform: platform,
		ProcMask: procMask,
		mappedTo: make(map[uint32]bool),
	}

	m.mu.Lock()
	m.regions[r.Handle] = r
	m.mu.Unlock()

	shmemLog.Debugf("alloc handle=%s size=%d flags=%x", r.Handle, size, flags)
	return r, nil
}

// MapExtern registers a client-owned allocation (identified by externHandle,
// already resident in the satellite's address space) under a local handle
// so the rest of the runtime can treat it like an Alloc'd region.
func (m *Manager) MapExtern(externHandle Handle, size uint32, proc uint32) (*Region, error) {
	r := &Region{
		Handle:   Handle(uuid.New()),
		Size:     size,
		ProcMask: proc,
		extern:   true,
		mappedTo: make(map[uint32]bool),
	}
	m.mu.Lock()
	m.regions[r.Handle] = r
	m.mu.Unlock()
	_ = externHandle
	return r, nil
}

// Unmap releases handle's mapping into subsystem sub, blocking while sub is
// down (spec §4.4) so a caller never observes success against a subsystem
// mid-reset.
func (m *Manager) Unmap(handle Handle, sub uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[handle]
	if !ok {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	if err := m.waitNotDownLocked(sub); err != nil {
		return err
	}
	delete(r.mappedTo, sub)
	return nil
}

// Free releases handle's backing memory entirely.
func (m *Manager) Free(handle Handle) error {
	m.mu.Lock()
	r, ok := m.regions[handle]
	if ok {
		delete(m.regions, handle)
	}
	m.mu.Unlock()

	if !ok {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	if r.extern || r.VirtPtr == nil {
		return nil
	}
	if err := unix.Munmap(r.VirtPtr); err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return nil
}

// Map marks handle as mapped into subsystem sub, blocking while sub is down
// per spec §4.4's "until re-map, map operations to S block" — it returns
// once SignalUp(sub) wakes it.
func (m *Manager) Map(handle Handle, sub uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[handle]
	if !ok {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	if err := m.waitNotDownLocked(sub); err != nil {
		return err
	}
	r.mappedTo[sub] = true
	return nil
}

// waitNotDownLocked blocks the caller (m.mu held) while sub is marked down,
// per spec §4.4 "until re-map, map operations to S block".
func (m *Manager) waitNotDownLocked(sub uint32) error {
	for m.ssrDown[sub] {
		m.ssrCond.Wait()
	}
	return nil
}

// SignalDown marks sub as down and drops sub from every region's mapped
// set, so each region needs a re-map after SignalUp. Map/Unmap calls
// against sub wait until SignalUp; none is aborted with SUBSYS_RESET.
func (m *Manager) SignalDown(sub uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ssrDown[sub] = true
	for _, r := range m.regions {
		delete(r.mappedTo, sub)
	}
	shmemLog.Warnf("subsystem %d down, regions unmapped", sub)
}

// SignalUp clears sub's down flag and wakes any blocked Map/Unmap callers;
// it does not itself re-map anything — the caller (graphrt) is responsible
// for re-mapping each pre-allocated region to sub before issuing further
// commands against it, per spec §4.4.
func (m *Manager) SignalUp(sub uint32) {
	m.mu.Lock()
	m.ssrDown[sub] = false
	m.mu.Unlock()
	m.ssrCond.Broadcast()
	shmemLog.Infof("subsystem %d up", sub)
}

// IsMapped reports whether handle is currently mapped into sub.
func (m *Manager) IsMapped(handle Handle, sub uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[handle]
	if !ok {
		return false
	}
	return r.mappedTo[sub]
}
