package registry

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrGUIDMismatch is returned when a newly-added database's shared-subgraph
// GUID disagrees with one already recorded for the same sg_id, as an import
// or an export, in another registered database (spec §4.3 validation on
// add). Direction is the new database's direction for the ref.
type ErrGUIDMismatch struct {
	SgID      uint32
	Direction string
	Existing  uuid.UUID
	New       uuid.UUID
}

func (e *ErrGUIDMismatch) Error() string {
	return fmt.Sprintf("registry: sg_id %d %s GUID mismatch: existing %s, new %s",
		e.SgID, e.Direction, e.Existing, e.New)
}

// checkGUIDConsistency verifies that imports/exports do not contradict any
// GUID already on file for the same sg_id in a different file set, whether
// that file set imports or exports it. It must run inside the same
// transaction as the insert it guards.
func checkGUIDConsistency(tx *sqlx.Tx, direction string, refs []SharedSubgraphRef) error {
	for _, ref := range refs {
		var existing string
		err := tx.Get(&existing,
			`SELECT guid FROM shared_subgraph_refs WHERE sg_id = ? LIMIT 1`,
			ref.SgID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return acdberr.Wrap(component, acdberr.EFAILED, err)
		}
		existingGUID, err := uuid.Parse(existing)
		if err != nil {
			return acdberr.Wrap(component, acdberr.EFAILED, err)
		}
		if existingGUID != ref.GUID {
			return &ErrGUIDMismatch{
				SgID:      ref.SgID,
				Direction: direction,
				Existing:  existingGUID,
				New:       ref.GUID,
			}
		}
	}
	return nil
}

func insertGUIDRefs(tx *sqlx.Tx, handle Handle, direction string, refs []SharedSubgraphRef) error {
	for _, ref := range refs {
		if _, err := tx.Exec(
			`INSERT INTO shared_subgraph_refs (handle, sg_id, guid, direction) VALUES (?, ?, ?, ?)`,
			int64(handle), ref.SgID, ref.GUID.String(), direction,
		); err != nil {
			return acdberr.Wrap(component, acdberr.EFAILED, err)
		}
	}
	return nil
}
