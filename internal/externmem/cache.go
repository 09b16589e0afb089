// Package externmem implements the external-memory cache (C8, spec §4.8):
// a fixed-slot LRU mapping of client-supplied allocations
// (alloc_handle, offset) to shmem mappings, refcounted by in-flight
// sends and evicted only when idle.
//
// The locking discipline is adapted from pkg/lrucache's doubly-linked-list
// cache: a global lock serializes slot assignment and eviction, while a
// per-entry lock guards the refcount, so buf_done holds the global lock
// only for the slot lookup and updates the refcount under the entry lock.
package externmem

import (
	"sync"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

const component = "EXTERNMEM"

// rolloverThreshold triggers a normalization sweep of every entry's
// last-used age before the monotonic counter can wrap (spec §4.8 "an
// age-counter rollover triggers a normalization sweep").
const rolloverThreshold = 1 << 62

// AllocKey identifies one client-provided external allocation.
type AllocKey struct {
	AllocHandle uint64
	Offset      uint64
}

// MapFunc maps key into shmem and returns its base pointer. Called with no
// cache lock held, so it may block on a real mmap/SSR-gated map call.
type MapFunc func(key AllocKey) (uintptr, error)

// UnmapFunc releases a previously mapped entry. Called with no cache lock
// held, after the entry has already been logically evicted (spec §4.8
// "Unmap happens outside the global lock once the entry has been
// logically invalidated").
type UnmapFunc func(key AllocKey, ptr uintptr)

type entry struct {
	mu          sync.Mutex // protects numInFlight only (spec's "per-entry lock")
	key         AllocKey
	slot        uint32
	shmemPtr    uintptr
	numInFlight int

	ready  bool // false while the winning GetEntry call is still mapping
	failed bool
	lastUsed uint64

	next, prev *entry
}

// Cache is the fixed-capacity external-memory mapping table.
type Cache struct {
	mu       sync.Mutex
	cond     *sync.Cond
	numSlots uint32
	bySlot   []*entry
	byKey    map[AllocKey]*entry
	head, tail *entry // head = most recently used
	age      uint64

	mapFn   MapFunc
	unmapFn UnmapFunc
}

// New builds a cache with numSlots mapping slots.
func New(numSlots uint32, mapFn MapFunc, unmapFn UnmapFunc) *Cache {
	c := &Cache{
		numSlots: numSlots,
		bySlot:   make([]*entry, numSlots),
		byKey:    make(map[AllocKey]*entry),
		mapFn:    mapFn,
		unmapFn:  unmapFn,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// GetEntry maps key if not already mapped and returns its slot and shmem
// pointer, incrementing its in-flight refcount. Concurrent callers for the
// same key observe a single mapping: the first caller performs the map,
// later callers wait for it and then just bump the refcount (spec §4.8
// "the first winner registers the mapping, losers observe and increment
// refcount").
func (c *Cache) GetEntry(key AllocKey) (slot uint32, shmemPtr uintptr, err error) {
	c.mu.Lock()
	if e, ok := c.byKey[key]; ok {
		for !e.ready {
			c.cond.Wait()
		}
		if e.failed {
			c.mu.Unlock()
			return 0, 0, acdberr.New(component, acdberr.EFAILED)
		}
		e.mu.Lock()
		e.numInFlight++
		e.mu.Unlock()
		c.touchLocked(e)
		slot, shmemPtr = e.slot, e.shmemPtr
		c.mu.Unlock()
		return slot, shmemPtr, nil
	}

	freeSlot, reused, ok := c.reserveSlotLocked()
	if !ok {
		c.mu.Unlock()
		return 0, 0, acdberr.New(component, acdberr.ENORESOURCE)
	}

	e := &entry{key: key, slot: freeSlot, numInFlight: 1}
	c.byKey[key] = e
	c.bySlot[freeSlot] = e
	c.insertFrontLocked(e)
	c.bumpAgeLocked(e)
	c.mu.Unlock()

	if reused != nil && c.unmapFn != nil {
		c.unmapFn(reused.key, reused.shmemPtr)
	}

	ptr, mapErr := c.mapFn(key)

	c.mu.Lock()
	if mapErr != nil {
		e.failed = true
		e.ready = true
		c.unlinkLocked(e)
		delete(c.byKey, key)
		c.bySlot[freeSlot] = nil
		c.cond.Broadcast()
		c.mu.Unlock()
		return 0, 0, mapErr
	}
	e.shmemPtr = ptr
	e.ready = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return freeSlot, ptr, nil
}

// BufDone decrements the in-flight refcount for the entry mapped at slot,
// making it an eviction candidate once it reaches zero. It returns the
// allocation key so the caller can correlate the completion.
func (c *Cache) BufDone(slot uint32) (AllocKey, error) {
	c.mu.Lock()
	if slot >= c.numSlots || c.bySlot[slot] == nil {
		c.mu.Unlock()
		return AllocKey{}, acdberr.New(component, acdberr.ENOTEXIST)
	}
	e := c.bySlot[slot]
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.numInFlight == 0 {
		return AllocKey{}, acdberr.New(component, acdberr.EALREADY)
	}
	e.numInFlight--
	return e.key, nil
}

// reserveSlotLocked picks a free slot, evicting the least-recently-used
// idle entry if the cache is full. Returns ok=false (NORESOURCE to the
// caller) when every slot is in flight.
func (c *Cache) reserveSlotLocked() (slot uint32, reused *entry, ok bool) {
	if uint32(len(c.byKey)) < c.numSlots {
		for i := uint32(0); i < c.numSlots; i++ {
			if c.bySlot[i] == nil {
				return i, nil, true
			}
		}
	}

	victim := c.evictionCandidateLocked()
	if victim == nil {
		return 0, nil, false
	}
	c.unlinkLocked(victim)
	delete(c.byKey, victim.key)
	c.bySlot[victim.slot] = nil
	return victim.slot, victim, true
}

// evictionCandidateLocked returns the least-recently-used entry with
// num_in_flight == 0, or nil if every entry is in flight (spec §4.8
// "Only entries with num_in_flight == 0 are candidates").
func (c *Cache) evictionCandidateLocked() *entry {
	for e := c.tail; e != nil; e = e.prev {
		e.mu.Lock()
		inFlight := e.numInFlight
		e.mu.Unlock()
		if inFlight == 0 {
			return e
		}
	}
	return nil
}

func (c *Cache) touchLocked(e *entry) {
	if e != c.head {
		c.unlinkLocked(e)
		c.insertFrontLocked(e)
	}
	c.bumpAgeLocked(e)
}

func (c *Cache) bumpAgeLocked(e *entry) {
	c.age++
	e.lastUsed = c.age
	if c.age >= rolloverThreshold {
		c.normalizeAgesLocked()
	}
}

// normalizeAgesLocked rebases every entry's last-used age to the smallest
// observed value, keeping relative recency order intact while resetting
// the monotonic counter well below its rollover point.
func (c *Cache) normalizeAgesLocked() {
	if c.tail == nil {
		c.age = 0
		return
	}
	base := c.tail.lastUsed
	for e := c.head; e != nil; e = e.next {
		e.lastUsed -= base
	}
	c.age -= base
}

func (c *Cache) insertFrontLocked(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) unlinkLocked(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.next, e.prev = nil, nil
}

// InFlight reports the entry at slot's current refcount, for tests and
// admin introspection.
func (c *Cache) InFlight(slot uint32) int {
	c.mu.Lock()
	e := c.bySlot[slot]
	c.mu.Unlock()
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numInFlight
}
