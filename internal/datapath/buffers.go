package datapath

import (
	"sync"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

// BufferSet tracks up to 64 buffers' in-use state with a bitmask and a
// round-robin cursor (spec §4.7 "bitmask of up to num_buffs bits and a
// round-robin curr_buff_index"). Non-extern modes share one BufferSet per
// direction.
type BufferSet struct {
	mu        sync.Mutex
	numBuffs  uint32
	used      uint64 // bit i set => buffer i in use
	currIndex uint32
	cond      *sync.Cond
	closed    bool
}

func NewBufferSet(numBuffs uint32) *BufferSet {
	if numBuffs > 64 {
		numBuffs = 64
	}
	b := &BufferSet{numBuffs: numBuffs}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Acquire returns the next free buffer index in round-robin order. In
// NON_BLOCKING mode (block=false) it returns NORESOURCE immediately when
// none are free; in BLOCKING/SHMEM mode it waits.
func (b *BufferSet) Acquire(block bool) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.closed {
			return 0, acdberr.New(component, acdberr.EABORTED)
		}
		idx, ok := b.findFreeLocked()
		if ok {
			b.used |= 1 << idx
			b.currIndex = (idx + 1) % b.numBuffs
			return idx, nil
		}
		if !block {
			return 0, acdberr.New(component, acdberr.ENORESOURCE)
		}
		b.cond.Wait()
	}
}

func (b *BufferSet) findFreeLocked() (uint32, bool) {
	for i := uint32(0); i < b.numBuffs; i++ {
		idx := (b.currIndex + i) % b.numBuffs
		if b.used&(1<<idx) == 0 {
			return idx, true
		}
	}
	return 0, false
}

// Release marks bufferIndex free (spec §4.7 "released only on
// READ_BUFF_DONE/WRITE_BUFF_DONE with its token matching the buffer
// index"). It rejects a release for an index already free, which would
// otherwise silently mask a duplicate-done bug upstream.
func (b *BufferSet) Release(bufferIndex uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bufferIndex >= b.numBuffs {
		return acdberr.New(component, acdberr.EBADPARAM)
	}
	if b.used&(1<<bufferIndex) == 0 {
		return acdberr.New(component, acdberr.EALREADY)
	}
	b.used &^= 1 << bufferIndex
	b.cond.Broadcast()
	return nil
}

// Close aborts any blocked Acquire with EABORTED, used on graph close.
func (b *BufferSet) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// InUse reports how many buffers are currently marked used, for tests and
// admin introspection.
func (b *BufferSet) InUse() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := uint32(0); i < b.numBuffs; i++ {
		if b.used&(1<<i) != 0 {
			n++
		}
	}
	return n
}
