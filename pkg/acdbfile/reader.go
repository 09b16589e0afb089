package acdbfile

import (
	"encoding/binary"
	"os"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"golang.org/x/sys/unix"
)

const component = "ACDBFILE"

// File is a memory-mapped, chunk-indexed ACDB file (spec §4.1). Clients
// never address below the header; all reads are bounds-checked against the
// mapped region's length.
type File struct {
	Header Header
	Path   string

	data    []byte // the full mapped (or in-memory) region
	mmapped bool
	chunks  map[uint32]chunkEntry
	order   []uint32 // chunk IDs in directory order
}

// Open memory-maps path read-only and parses its header + chunk directory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.ENOTEXIST, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	size := int(st.Size())
	if size < HeaderSize {
		return nil, acdberr.New(component, acdberr.EFAILED)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	file, err := parse(data, path, true)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	return file, nil
}

// OpenBytes parses an already-in-memory ACDB byte buffer (e.g. a delta file
// staged by the host, or a test fixture) without mmap.
func OpenBytes(data []byte) (*File, error) {
	return parse(data, "", false)
}

func parse(data []byte, path string, mmapped bool) (*File, error) {
	hdr, err := unmarshalHeader(data)
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	if len(data) < HeaderSize+4 {
		return nil, acdberr.New(component, acdberr.EFAILED)
	}
	count := binary.LittleEndian.Uint32(data[HeaderSize : HeaderSize+4])
	dirStart := HeaderSize + 4
	dirEnd := dirStart + int(count)*ChunkEntrySize
	if dirEnd > len(data) {
		return nil, acdberr.New(component, acdberr.EFAILED)
	}

	chunks := make(map[uint32]chunkEntry, count)
	order := make([]uint32, 0, count)
	for i := 0; i < int(count); i++ {
		off := dirStart + i*ChunkEntrySize
		ce := unmarshalChunkEntry(data[off : off+ChunkEntrySize])
		if _, dup := chunks[ce.ID]; dup {
			return nil, acdberr.New(component, acdberr.EFAILED) // duplicate chunk id
		}
		end := uint64(ce.Offset) + uint64(ce.Size)
		if end > uint64(len(data)) {
			return nil, acdberr.New(component, acdberr.EFAILED) // chunk exceeds file size
		}
		chunks[ce.ID] = ce
		order = append(order, ce.ID)
	}

	return &File{
		Header:  hdr,
		Path:    path,
		data:    data,
		mmapped: mmapped,
		chunks:  chunks,
		order:   order,
	}, nil
}

// Close releases the mmap backing this file, if any.
func (f *File) Close() error {
	if f.mmapped && f.data != nil {
		err := unix.Munmap(f.data)
		f.data = nil
		return err
	}
	return nil
}

// Locate returns the (offset, size) of chunkID within the file, or
// acdberr.ENOTEXIST when the chunk is absent or empty.
func (f *File) Locate(chunkID uint32) (offset, size uint32, err error) {
	ce, ok := f.chunks[chunkID]
	if !ok {
		return 0, 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	if ce.Size == 0 {
		return ce.Offset, 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return ce.Offset, ce.Size, nil
}

// ChunkIDs returns every chunk ID in directory (insertion) order.
func (f *File) ChunkIDs() []uint32 {
	out := make([]uint32, len(f.order))
	copy(out, f.order)
	return out
}

// Borrow returns a slice view (no copy) of size bytes at offset, failing
// with EBADPARAM if the range exceeds the mapped region.
func (f *File) Borrow(offset, size uint32) ([]byte, error) {
	end := uint64(offset) + uint64(size)
	if end > uint64(len(f.data)) {
		return nil, acdberr.New(component, acdberr.EBADPARAM)
	}
	return f.data[offset:end], nil
}

// CopyAt copies len(dst) bytes starting at offset into dst, failing with
// EBADPARAM if the range exceeds the mapped region.
func (f *File) CopyAt(offset uint32, dst []byte) error {
	src, err := f.Borrow(offset, uint32(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// Cursor is a forward-only, bounds-checked reader over a chunk's payload.
type Cursor struct {
	file *File
	base uint32
	size uint32
	pos  uint32
}

// NewCursor returns a Cursor scoped to chunkID's payload.
func (f *File) NewCursor(chunkID uint32) (*Cursor, error) {
	off, size, err := f.Locate(chunkID)
	if err != nil {
		return nil, err
	}
	return &Cursor{file: f, base: off, size: size}, nil
}

// Read copies len(dst) bytes from the cursor's current position, advancing
// it. Returns OUT_OF_BOUNDS (EBADPARAM) without advancing or panicking if
// the read would exceed the chunk.
func (c *Cursor) Read(dst []byte) error {
	need := uint64(len(dst))
	if uint64(c.pos)+need > uint64(c.size) {
		return acdberr.New(component, acdberr.EBADPARAM)
	}
	if err := c.file.CopyAt(c.base+c.pos, dst); err != nil {
		return err
	}
	c.pos += uint32(len(dst))
	return nil
}

// Remaining reports how many bytes are left unread in the cursor's chunk.
func (c *Cursor) Remaining() uint32 { return c.size - c.pos }

// Peek borrows (no copy, no advance) size bytes at the cursor's current
// position.
func (c *Cursor) Peek(size uint32) ([]byte, error) {
	if uint64(c.pos)+uint64(size) > uint64(c.size) {
		return nil, acdberr.New(component, acdberr.EBADPARAM)
	}
	return c.file.Borrow(c.base+c.pos, size)
}
