package registry

import (
	"github.com/Masterminds/squirrel"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/jmoiron/sqlx"
)

// Filter narrows get_all_file_sets to the subset of registered databases
// matching the given criteria; zero values are wildcards.
type Filter struct {
	WorkspacePrefix string
	SgID            uint32 // 0 means "don't filter by shared-subgraph membership"
}

func listFileSets(db *sqlx.DB, f Filter) ([]FileSet, error) {
	qb := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question).
		Select("handle", "workspace", "acdb", "writable_dir").
		From("file_sets").
		OrderBy("handle ASC")

	if f.WorkspacePrefix != "" {
		qb = qb.Where(squirrel.Like{"workspace": f.WorkspacePrefix + "%"})
	}
	if f.SgID != 0 {
		qb = qb.Where(squirrel.Expr(
			"handle IN (SELECT handle FROM shared_subgraph_refs WHERE sg_id = ?)", f.SgID))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	var rows []struct {
		Handle      int64   `db:"handle"`
		Workspace   *string `db:"workspace"`
		ACDB        *string `db:"acdb"`
		WritableDir *string `db:"writable_dir"`
	}
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	out := make([]FileSet, 0, len(rows))
	for _, row := range rows {
		paths := make(map[PathType]string, 3)
		if row.Workspace != nil {
			paths[PathWorkspace] = *row.Workspace
		}
		if row.ACDB != nil {
			paths[PathACDB] = *row.ACDB
		}
		if row.WritableDir != nil {
			paths[PathWritableDir] = *row.WritableDir
		}
		out = append(out, FileSet{Handle: Handle(row.Handle), Paths: paths})
	}
	return out, nil
}
