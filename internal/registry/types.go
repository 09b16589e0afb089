// Package registry implements the database registry (C3, spec §4.3): the
// catalog of loaded ACDB databases, their on-disk paths, and the cross-
// database GUID ledger that keeps shared-subgraph imports/exports honest.
package registry

import "github.com/google/uuid"

const component = "REGISTRY"

// PathType names one of the three path kinds a file set carries.
type PathType string

const (
	PathWorkspace   PathType = "workspace"
	PathACDB        PathType = "acdb"
	PathWritableDir PathType = "writable_dir"
)

// Handle identifies one registered database across its lifetime. Zero is
// never issued by add and so is safe as a "no handle" sentinel.
type Handle int64

// FileSet is one registered database's paths by type, spec §4.3's
// "{handle, [paths by type]}".
type FileSet struct {
	Handle Handle
	Paths  map[PathType]string
}

// SharedSubgraphRef names one subgraph a database imports or exports,
// along with the GUID the owning database assigned it. The registry does
// not resolve these itself — callers (the component opening the database
// through C1/C2) pass them to Add so C3 stays decoupled from the chunk
// format.
type SharedSubgraphRef struct {
	SgID uint32
	GUID uuid.UUID
}
