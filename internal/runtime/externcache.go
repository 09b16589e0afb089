package runtime

import (
	"sync"

	"github.com/acdbrt/acdbrt/internal/externmem"
	"github.com/acdbrt/acdbrt/internal/shmem"
)

// externMemSize is the fixed region size MapExtern registers per client
// allocation; the satellite's own mmap already sized the real backing
// memory, the runtime side only needs a handle to gate SSR against.
const externMemSize = 4096

// newExternCache wires C8's LRU slot table to C4: mapping a client
// allocation pulls it under shmem's SSR-aware bookkeeping, and eviction
// releases that bookkeeping.
func newExternCache(capacity uint32, sm *shmem.Manager) *externmem.Cache {
	var mu sync.Mutex
	handles := make(map[externmem.AllocKey]shmem.Handle)

	mapFn := func(key externmem.AllocKey) (uintptr, error) {
		r, err := sm.MapExtern(shmem.Handle{}, externMemSize, 0)
		if err != nil {
			return 0, err
		}
		mu.Lock()
		handles[key] = r.Handle
		mu.Unlock()
		return uintptr(key.AllocHandle), nil
	}

	unmapFn := func(key externmem.AllocKey, _ uintptr) {
		mu.Lock()
		h, ok := handles[key]
		delete(handles, key)
		mu.Unlock()
		if ok {
			sm.Free(h)
		}
	}

	return externmem.New(capacity, mapFn, unmapFn)
}
