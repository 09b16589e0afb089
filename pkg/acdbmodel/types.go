// Package acdbmodel holds the data types shared between the key-vector
// resolver (C2), the subgraph pool (C5), and the graph state machine (C6) —
// the decoded, in-memory shapes that spec §3/§4.2 describe, as opposed to
// the raw chunked bytes in pkg/acdbfile.
package acdbmodel

// ModuleInstance is a (module_id, module_instance_id) pair; instance IDs
// are unique within one graph (spec §3).
type ModuleInstance struct {
	ModuleID uint32
	IID      uint32
}

// SgConnection is an ordered subgraph-to-subgraph edge with opaque payload.
type SgConnection struct {
	Src     uint32
	Dst     uint32
	Payload []byte
}

// GraphTopology is the get_graph query result: the ordered subgraph list and
// connection list a GKV resolves to.
type GraphTopology struct {
	SgIDs       []uint32
	Connections []SgConnection
}

// CalRecord is one non-persistent calibration record, spec §4.2's
// "{iid, pid, size, errcode, payload[size]}".
type CalRecord struct {
	IID     uint32
	PID     uint32
	ErrCode uint32
	Payload []byte
}

// PersistCalRef names a persistent-cal blob and the module instances it
// applies to, spec §4.2's get_persist_cal_ids result.
type PersistCalRef struct {
	CalID uint32
	IIDs  []uint32
}

// TaggedModule is one module instance resolved for a tag, grouped by the
// processor domain it executes on.
type TaggedModule struct {
	ModuleInstance
	ProcID uint32
}
