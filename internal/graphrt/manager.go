package graphrt

import (
	"sync"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

// Manager owns the process-wide graph handle list (spec §5's
// graph_hdl_lock), the outermost lock in the runtime's acquisition order.
type Manager struct {
	mu     sync.RWMutex
	graphs map[uint64]*Graph
	nextID uint64
}

func NewManager() *Manager {
	return &Manager{graphs: make(map[uint64]*Graph)}
}

// Register allocates a new handle for g and adds it to the handle list.
func (m *Manager) Register(transport Transport, procHandle uint64, errSink ErrorSink) *Graph {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	g := New(m.nextID, procHandle, transport, errSink)
	m.graphs[g.Handle] = g
	return g
}

// Get returns the graph for handle.
func (m *Manager) Get(handle uint64) (*Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[handle]
	if !ok {
		return nil, acdberr.New(component, acdberr.EHANDLE)
	}
	return g, nil
}

// Unregister removes handle from the handle list after it has been closed.
func (m *Manager) Unregister(handle uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.graphs, handle)
}

// All returns every currently-registered graph, used by the SSR coordinator
// to broadcast a subsystem-down signal across affected graphs.
func (m *Manager) All() []*Graph {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Graph, 0, len(m.graphs))
	for _, g := range m.graphs {
		out = append(out, g)
	}
	return out
}
