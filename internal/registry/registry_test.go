package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "registry.db")
	r, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestAddAndGetAllFileSets(t *testing.T) {
	r := newTestRegistry(t)

	handle, err := r.Add(map[PathType]string{
		PathWorkspace: "/db/ws.bin",
		PathACDB:      "/db/acdb.bin",
	}, nil, nil)
	require.NoError(t, err)
	require.NotZero(t, handle)

	sets, err := r.GetAllFileSets(Filter{})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Equal(t, handle, sets[0].Handle)
	require.Equal(t, "/db/ws.bin", sets[0].Paths[PathWorkspace])
	require.Equal(t, "/db/acdb.bin", sets[0].Paths[PathACDB])
}

func TestAddRejectsGUIDMismatch(t *testing.T) {
	r := newTestRegistry(t)

	sgGUID := uuid.New()
	_, err := r.Add(map[PathType]string{PathACDB: "/db/a.bin"}, nil,
		[]SharedSubgraphRef{{SgID: 5, GUID: sgGUID}})
	require.NoError(t, err)

	_, err = r.Add(map[PathType]string{PathACDB: "/db/b.bin"},
		[]SharedSubgraphRef{{SgID: 5, GUID: uuid.New()}}, nil)
	require.Error(t, err)
	var mismatch *ErrGUIDMismatch
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, uint32(5), mismatch.SgID)
}

func TestAddAcceptsConsistentGUID(t *testing.T) {
	r := newTestRegistry(t)

	sgGUID := uuid.New()
	_, err := r.Add(map[PathType]string{PathACDB: "/db/a.bin"}, nil,
		[]SharedSubgraphRef{{SgID: 5, GUID: sgGUID}})
	require.NoError(t, err)

	_, err = r.Add(map[PathType]string{PathACDB: "/db/b.bin"},
		[]SharedSubgraphRef{{SgID: 5, GUID: sgGUID}}, nil)
	require.NoError(t, err)
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t)
	handle, err := r.Add(map[PathType]string{PathACDB: "/db/a.bin"}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Remove(handle))

	sets, err := r.GetAllFileSets(Filter{})
	require.NoError(t, err)
	require.Empty(t, sets)

	err = r.Remove(handle)
	require.Error(t, err)
}

func TestSetWritablePath(t *testing.T) {
	r := newTestRegistry(t)
	handle, err := r.Add(map[PathType]string{PathACDB: "/db/a.bin"}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.SetWritablePath(handle, "/scratch/db-a"))

	sets, err := r.GetAllFileSets(Filter{})
	require.NoError(t, err)
	require.Equal(t, "/scratch/db-a", sets[0].Paths[PathWritableDir])
}

func TestGetFile(t *testing.T) {
	r := newTestRegistry(t)

	tmp := filepath.Join(t.TempDir(), "acdb.bin")
	require.NoError(t, os.WriteFile(tmp, []byte("0123456789"), 0o644))

	handle, err := r.Add(map[PathType]string{PathACDB: tmp}, nil, nil)
	require.NoError(t, err)

	data, err := r.GetFile(handle, PathACDB, 3, 4)
	require.NoError(t, err)
	require.Equal(t, "3456", string(data))
}

func TestGetFileUnknownHandle(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetFile(999, PathACDB, 0, 1)
	require.Error(t, err)
}

func TestFilterBySgID(t *testing.T) {
	r := newTestRegistry(t)

	h1, err := r.Add(map[PathType]string{PathACDB: "/db/a.bin"}, nil,
		[]SharedSubgraphRef{{SgID: 7, GUID: uuid.New()}})
	require.NoError(t, err)
	_, err = r.Add(map[PathType]string{PathACDB: "/db/b.bin"}, nil, nil)
	require.NoError(t, err)

	sets, err := r.GetAllFileSets(Filter{SgID: 7})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Equal(t, h1, sets[0].Handle)
}
