package acdbfile

import (
	"testing"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/stretchr/testify/require"
)

func buildFixture(t *testing.T) *File {
	t.Helper()
	data, err := NewBuilder(1, 0, 0, FileTypeACDB).
		PutChunk(1, []byte("hello-chunk-one")).
		PutChunk(2, []byte{}).
		PutChunk(3, []byte("another-payload")).
		Build()
	require.NoError(t, err)

	f, err := OpenBytes(data)
	require.NoError(t, err)
	return f
}

func TestLocateAndBorrow(t *testing.T) {
	f := buildFixture(t)

	off, size, err := f.Locate(1)
	require.NoError(t, err)
	require.EqualValues(t, 15, size)

	payload, err := f.Borrow(off, size)
	require.NoError(t, err)
	require.Equal(t, "hello-chunk-one", string(payload))
}

func TestLocateNotFound(t *testing.T) {
	f := buildFixture(t)
	_, _, err := f.Locate(999)
	require.Error(t, err)
	require.Equal(t, acdberr.ENOTEXIST, acdberr.CodeOf(err))
}

func TestLocateEmptyChunkIsNotExist(t *testing.T) {
	f := buildFixture(t)
	_, _, err := f.Locate(2)
	require.Error(t, err)
	require.Equal(t, acdberr.ENOTEXIST, acdberr.CodeOf(err))
}

func TestBorrowOutOfBounds(t *testing.T) {
	f := buildFixture(t)
	_, err := f.Borrow(0, uint32(len(f.data)+1))
	require.Error(t, err)
	require.Equal(t, acdberr.EBADPARAM, acdberr.CodeOf(err))
}

func TestCursorReadAdvancesAndBounds(t *testing.T) {
	f := buildFixture(t)
	cur, err := f.NewCursor(3)
	require.NoError(t, err)

	buf := make([]byte, 7)
	require.NoError(t, cur.Read(buf))
	require.Equal(t, "another", string(buf))
	require.EqualValues(t, 8, cur.Remaining())

	rest := make([]byte, 20)
	err = cur.Read(rest)
	require.Error(t, err)
	require.Equal(t, acdberr.EBADPARAM, acdberr.CodeOf(err))
}

func TestChunkIDsPreservesInsertionOrder(t *testing.T) {
	f := buildFixture(t)
	require.Equal(t, []uint32{1, 2, 3}, f.ChunkIDs())
}

func TestDuplicateChunkIDRejected(t *testing.T) {
	_, err := NewBuilder(1, 0, 0, FileTypeACDB).
		PutChunk(5, []byte("a")).
		PutChunk(5, []byte("b")).
		Build()
	require.Error(t, err)
}
