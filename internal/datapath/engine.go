package datapath

import (
	"sync"
	"sync/atomic"

	"github.com/acdbrt/acdbrt/internal/externmem"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/log"
)

var dpLog = log.Component(component)

// RenderStatus reports the fate of an EOS packet (spec §4.7 "surfaced to
// the client with a render-status code").
type RenderStatus int

const (
	Rendered RenderStatus = iota
	Dropped
)

// Config is the read or write configuration applied by configure_*_params.
//
// ProvisionOnly mirrors GSL_DATAPATH_SETUP_SPF_PROVISION_ONLY: it asks the
// engine to reserve buffers on the satellite without driving them through
// the client Read/Write path, which only makes sense when the satellite
// itself pulls and pushes buffers (PUSH_PULL mode).
type Config struct {
	NumBuffs        uint32
	BuffSize        uint32
	Mode            Mode
	MaxMetadataSize uint32
	ProvisionOnly   bool
}

// Transport is the wire primitive the engine uses to push a data or EOS
// packet to the satellite, mirroring graphrt.Transport's fire-and-forget
// contract: Send only enqueues, the completion (consumed/produced size or
// error) is delivered later via HandleDone/HandleEOS from the dispatcher's
// callback thread.
type Transport interface {
	SendData(bufferIndex uint32, token uint32, dir Direction, payload []byte, metadata []byte) error
	SendEOS(token uint32) error
}

// doneWaiter is what a blocked Read/Write call waits on for its completion.
type doneWaiter struct {
	done chan struct{}
	size uint32
	err  error
}

// Engine is one read or write data path bound to a single direction and
// configuration (spec §4.7). A graph with both read and write streams owns
// two Engines.
type Engine struct {
	mu  sync.Mutex
	dir Direction
	cfg Config

	bufs     *BufferSet
	metadata *MetadataQueue

	transport Transport
	debugTok  atomic.Uint32

	pending map[uint32]*doneWaiter // keyed by buffer index

	eosPending  *doneWaiter
	eosStatus   RenderStatus
	externCache ExternCache

	closed bool
}

// ExternCache is the subset of C8's LRU cache the engine needs for
// EXTERN_MEM mode (spec §4.7 "engine maps on demand via LRU cache (C8)").
// *externmem.Cache satisfies this directly.
type ExternCache interface {
	GetEntry(key externmem.AllocKey) (slot uint32, shmemPtr uintptr, err error)
	BufDone(slot uint32) (externmem.AllocKey, error)
}

// SetExternCache binds the C8 cache an EXTERN_MEM-mode engine maps client
// allocations through. A nil cache (the default) makes WriteExtern fail
// with ENORESOURCE rather than panic.
func (e *Engine) SetExternCache(c ExternCache) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.externCache = c
}

// NewEngine builds an unconfigured engine; Configure must be called before
// Read/Write.
func NewEngine(dir Direction, transport Transport) *Engine {
	return &Engine{
		dir:       dir,
		transport: transport,
		pending:   make(map[uint32]*doneWaiter),
	}
}

// Configure applies cfg, (re)allocating the buffer bitmask and metadata
// queue for non-extern modes. For read engines this also performs the
// "read kick-start": pushing every allocated buffer to the DSP so replies
// can flow without waiting on a client Read call (spec §4.7).
func (e *Engine) Configure(cfg Config) error {
	if cfg.ProvisionOnly && cfg.Mode != ModePushPull {
		return acdberr.New(component, acdberr.EUNSUPPORTED)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bufs != nil {
		e.bufs.Close()
	}
	e.cfg = cfg
	if cfg.Mode != ModeExternMem {
		e.bufs = NewBufferSet(cfg.NumBuffs)
	} else {
		e.bufs = nil
	}
	if cfg.MaxMetadataSize > 0 {
		e.metadata = NewMetadataQueue(cfg.NumBuffs)
	} else {
		e.metadata = nil
	}
	e.closed = false

	if e.dir == Read && cfg.Mode != ModeExternMem && cfg.Mode != ModePushPull {
		for i := uint32(0); i < cfg.NumBuffs; i++ {
			idx, err := e.bufs.Acquire(false)
			if err != nil {
				break
			}
			tok := EncodeToken(idx, e.debugTok.Add(1))
			w := &doneWaiter{done: make(chan struct{})}
			e.pending[idx] = w
			if err := e.transport.SendData(idx, tok, Read, nil, nil); err != nil {
				dpLog.Warnf("read kick-start buffer %d: %v", idx, err)
				delete(e.pending, idx)
				e.bufs.Release(idx)
				continue
			}
			// The kick-start push has no client blocked on it; once the DSP
			// fills the buffer the completion just frees it for the next
			// round-robin Acquire rather than waking anyone.
			go func(bufs *BufferSet, idx uint32, w *doneWaiter) {
				<-w.done
				bufs.Release(idx)
			}(e.bufs, idx, w)
		}
	}
	return nil
}

// Write submits payload for transmission, blocking or failing immediately
// per the configured mode (spec §4.7's SHMEM/BLOCKING/NON_BLOCKING table).
// eos marks the buffer as carrying end-of-stream; the engine issues a
// dedicated EOS packet once this write's completion is observed.
// EXTERN_MEM mode rejects this path with EUNSUPPORTED: a client in that
// mode supplies its own allocation and must call WriteExtern instead.
func (e *Engine) Write(payload []byte, eos bool) (consumed uint32, err error) {
	e.mu.Lock()
	if e.cfg.NumBuffs == 0 {
		e.mu.Unlock()
		return 0, acdberr.New(component, acdberr.EBADPARAM)
	}
	if e.cfg.Mode == ModeExternMem {
		e.mu.Unlock()
		return 0, acdberr.New(component, acdberr.EUNSUPPORTED)
	}
	bufs := e.bufs
	e.mu.Unlock()

	block := e.cfg.Mode != ModeNonBlocking
	idx, err := bufs.Acquire(block)
	if err != nil {
		return 0, err
	}

	tok := EncodeToken(idx, e.debugTok.Add(1))
	w := &doneWaiter{done: make(chan struct{})}

	e.mu.Lock()
	e.pending[idx] = w
	var metaBlob []byte
	if e.metadata != nil {
		e.metadata.Push(MetadataEntry{BufferIndex: idx, Flags: 0, EOS: eos})
		metaBlob, _ = EncodeMetadata(MetadataEntry{BufferIndex: idx, EOS: eos})
	}
	e.mu.Unlock()

	if sendErr := e.transport.SendData(idx, tok, Write, payload, metaBlob); sendErr != nil {
		e.mu.Lock()
		delete(e.pending, idx)
		e.mu.Unlock()
		bufs.Release(idx)
		return 0, sendErr
	}

	<-w.done
	bufs.Release(idx)
	if w.err != nil {
		return 0, w.err
	}

	if eos {
		if err := e.flushEOS(); err != nil {
			return w.size, err
		}
	}
	return w.size, nil
}

// WriteExtern submits a client-managed external allocation (EXTERN_MEM
// mode only): the engine maps key on demand through its C8 cache, sends
// the mapped slot to the satellite, and releases the cache entry's
// in-flight refcount once the completion arrives (spec §4.7 "engine maps
// on demand via LRU cache (C8)"; spec's worked example has a 33rd
// distinct alloc_handle against a 32-slot cache return ENORESOURCE, which
// is C8's own eviction bookkeeping surfacing through GetEntry here).
func (e *Engine) WriteExtern(key externmem.AllocKey, eos bool) (consumed uint32, err error) {
	e.mu.Lock()
	if e.cfg.Mode != ModeExternMem {
		e.mu.Unlock()
		return 0, acdberr.New(component, acdberr.EBADPARAM)
	}
	cache := e.externCache
	e.mu.Unlock()
	if cache == nil {
		return 0, acdberr.New(component, acdberr.ENORESOURCE)
	}

	slot, _, err := cache.GetEntry(key)
	if err != nil {
		return 0, err
	}
	defer cache.BufDone(slot)

	tok := EncodeToken(slot, e.debugTok.Add(1))
	w := &doneWaiter{done: make(chan struct{})}
	e.mu.Lock()
	e.pending[slot] = w
	e.mu.Unlock()

	if sendErr := e.transport.SendData(slot, tok, Write, nil, nil); sendErr != nil {
		e.mu.Lock()
		delete(e.pending, slot)
		e.mu.Unlock()
		return 0, sendErr
	}

	<-w.done
	if w.err != nil {
		return 0, w.err
	}
	if eos {
		if err := e.flushEOS(); err != nil {
			return w.size, err
		}
	}
	return w.size, nil
}

// flushEOS issues the dedicated EOS packet and blocks for its render
// status, surfaced to the caller via LastEOSStatus.
func (e *Engine) flushEOS() error {
	tok := EncodeToken(0, e.debugTok.Add(1))
	w := &doneWaiter{done: make(chan struct{})}
	e.mu.Lock()
	e.eosPending = w
	e.mu.Unlock()

	if err := e.transport.SendEOS(tok); err != nil {
		e.mu.Lock()
		e.eosPending = nil
		e.mu.Unlock()
		return err
	}
	<-w.done
	return w.err
}

// LastEOSStatus reports RENDERED or DROPPED for the most recent EOS
// (spec §4.7).
func (e *Engine) LastEOSStatus() RenderStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eosStatus
}

// Read acquires the next available buffer carrying previously-pushed data,
// blocking or failing immediately depending on mode.
func (e *Engine) Read() (data []byte, meta MetadataEntry, err error) {
	e.mu.Lock()
	if e.cfg.NumBuffs == 0 {
		e.mu.Unlock()
		return nil, MetadataEntry{}, acdberr.New(component, acdberr.EBADPARAM)
	}
	bufs := e.bufs
	e.mu.Unlock()

	block := e.cfg.Mode != ModeNonBlocking
	idx, err := bufs.Acquire(block)
	if err != nil {
		return nil, MetadataEntry{}, err
	}

	tok := EncodeToken(idx, e.debugTok.Add(1))
	w := &doneWaiter{done: make(chan struct{})}
	e.mu.Lock()
	e.pending[idx] = w
	e.mu.Unlock()

	if sendErr := e.transport.SendData(idx, tok, Read, nil, nil); sendErr != nil {
		e.mu.Lock()
		delete(e.pending, idx)
		e.mu.Unlock()
		bufs.Release(idx)
		return nil, MetadataEntry{}, sendErr
	}

	<-w.done
	bufs.Release(idx)
	if w.err != nil {
		return nil, MetadataEntry{}, w.err
	}

	var m MetadataEntry
	if e.metadata != nil {
		if got, ok := e.metadata.Pop(); ok {
			m = got
		}
	}
	return nil, m, nil
}

// HandleDone delivers a READ_BUFF_DONE/WRITE_BUFF_DONE completion, matching
// the buffer index extracted from token against the pending waiter. A
// mismatched or already-completed token is a late duplicate and is dropped
// without signaling (spec §4.9 treats token mismatches this way).
func (e *Engine) HandleDone(token uint32, size uint32, err error) {
	idx := DecodeBufferIndex(token)
	e.mu.Lock()
	w, ok := e.pending[idx]
	if ok {
		delete(e.pending, idx)
	}
	e.mu.Unlock()
	if !ok {
		dpLog.Warnf("late or duplicate completion for buffer %d", idx)
		return
	}
	w.size, w.err = size, err
	close(w.done)
}

// HandleEOS delivers the EOS packet's render-status completion.
func (e *Engine) HandleEOS(status RenderStatus, err error) {
	e.mu.Lock()
	w := e.eosPending
	e.eosPending = nil
	e.eosStatus = status
	e.mu.Unlock()
	if w == nil {
		return
	}
	w.err = err
	close(w.done)
}

// Close aborts any blocked Read/Write and releases the buffer set.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.bufs != nil {
		e.bufs.Close()
	}
	for idx, w := range e.pending {
		w.err = acdberr.New(component, acdberr.EABORTED)
		close(w.done)
		delete(e.pending, idx)
	}
	if e.eosPending != nil {
		e.eosPending.err = acdberr.New(component, acdberr.EABORTED)
		close(e.eosPending.done)
		e.eosPending = nil
	}
}
