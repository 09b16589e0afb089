package registry

import (
	"database/sql"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/log"
	"github.com/jmoiron/sqlx"
)

var regLog = log.Component(component)

// Registry is the database registry (C3, spec §4.3): the catalog of loaded
// ACDB databases and the cross-database shared-subgraph GUID ledger.
//
// A single mutex guards add/remove; reads through an already-returned handle
// are lock-free, matching spec §4.3's concurrency contract — callers must
// not dereference a handle after Remove returns.
type Registry struct {
	mu sync.Mutex
	db *sqlx.DB
}

// Open creates or opens the registry's metadata store at dsn, applying any
// pending migrations.
func Open(dsn string) (*Registry, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Add registers a new database's file set, validating its shared-subgraph
// imports/exports against every already-registered database (spec §4.3
// "validation on add"). A GUID mismatch rolls back the add and returns
// *ErrGUIDMismatch.
func (r *Registry) Add(paths map[PathType]string, imports, exports []SharedSubgraphRef) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Beginx()
	if err != nil {
		return 0, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := checkGUIDConsistency(tx, "import", imports); err != nil {
		return 0, err
	}
	if err := checkGUIDConsistency(tx, "export", exports); err != nil {
		return 0, err
	}

	res, err := tx.Exec(
		`INSERT INTO file_sets (workspace, acdb, writable_dir) VALUES (?, ?, ?)`,
		nullable(paths[PathWorkspace]), nullable(paths[PathACDB]), nullable(paths[PathWritableDir]),
	)
	if err != nil {
		return 0, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	handle := Handle(id)

	if err := insertGUIDRefs(tx, handle, "import", imports); err != nil {
		return 0, err
	}
	if err := insertGUIDRefs(tx, handle, "export", exports); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	committed = true

	regLog.Infof("added file set handle=%d workspace=%s acdb=%s", handle, paths[PathWorkspace], paths[PathACDB])
	return handle, nil
}

// Remove drops handle's registration. Callers are responsible for ensuring
// no outstanding reference to handle survives this call (spec §4.3).
func (r *Registry) Remove(handle Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`DELETE FROM file_sets WHERE handle = ?`, int64(handle))
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	if n == 0 {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	regLog.Infof("removed file set handle=%d", handle)
	return nil
}

// SetWritablePath updates handle's writable-directory path, used once a
// satellite's per-database scratch directory is provisioned after add.
func (r *Registry) SetWritablePath(handle Handle, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`UPDATE file_sets SET writable_dir = ? WHERE handle = ?`, path, int64(handle))
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	if n == 0 {
		return acdberr.New(component, acdberr.ENOTEXIST)
	}
	return nil
}

// GetFile reads length bytes at offset from handle's path of the given
// type. Reads do not take the registry lock: once a handle is returned by
// Add, its paths are immutable except for SetWritablePath, and this method
// re-reads the row fresh each call.
func (r *Registry) GetFile(handle Handle, pathType PathType, offset int64, length int) ([]byte, error) {
	var column string
	switch pathType {
	case PathWorkspace:
		column = "workspace"
	case PathACDB:
		column = "acdb"
	case PathWritableDir:
		column = "writable_dir"
	default:
		return nil, acdberr.New(component, acdberr.EBADPARAM)
	}

	var path sql.NullString
	query := `SELECT ` + column + ` FROM file_sets WHERE handle = ?`
	if err := r.db.Get(&path, query, int64(handle)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, acdberr.New(component, acdberr.ENOTEXIST)
		}
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	if !path.Valid {
		return nil, acdberr.New(component, acdberr.ENOTEXIST)
	}

	f, err := os.Open(path.String)
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return buf[:n], nil
}

// GetAllFileSets returns every registered file set matching f, ordered by
// handle (spec §4.3 get_all_file_sets).
func (r *Registry) GetAllFileSets(f Filter) ([]FileSet, error) {
	return listFileSets(r.db, f)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
