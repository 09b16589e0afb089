package acdbfile

// Builder assembles an in-memory ACDB-format byte buffer, used by tools that
// write delta files and by tests that need a fixture without touching disk.
type Builder struct {
	header Header
	chunks []namedChunk
}

type namedChunk struct {
	id      uint32
	payload []byte
}

// NewBuilder starts a builder for a file of the given type/version.
func NewBuilder(major, minor, revision uint16, fileType FileType) *Builder {
	return &Builder{header: Header{Magic: Magic, Major: major, Minor: minor, Revision: revision, FileType: fileType}}
}

// PutChunk registers a chunk payload under id. Chunk IDs must be unique;
// Build returns an error otherwise to catch the same database-build mistake
// the reader rejects at parse time.
func (b *Builder) PutChunk(id uint32, payload []byte) *Builder {
	b.chunks = append(b.chunks, namedChunk{id: id, payload: payload})
	return b
}

// Build serializes the header, chunk directory, and payloads in the same
// layout Open/OpenBytes expect.
func (b *Builder) Build() ([]byte, error) {
	dirSize := 4 + len(b.chunks)*ChunkEntrySize
	payloadStart := uint32(HeaderSize + dirSize)

	entries := make([]chunkEntry, 0, len(b.chunks))
	seen := make(map[uint32]struct{}, len(b.chunks))
	offset := payloadStart
	for _, c := range b.chunks {
		if _, dup := seen[c.id]; dup {
			return nil, duplicateChunkErr(c.id)
		}
		seen[c.id] = struct{}{}
		entries = append(entries, chunkEntry{ID: c.id, Offset: offset, Size: uint32(len(c.payload))})
		offset += uint32(len(c.payload))
	}

	out := make([]byte, offset)
	copy(out[0:HeaderSize], b.header.marshal())

	countBuf := out[HeaderSize : HeaderSize+4]
	putUint32(countBuf, uint32(len(entries)))

	pos := HeaderSize + 4
	for _, e := range entries {
		copy(out[pos:pos+ChunkEntrySize], marshalChunkEntry(e))
		pos += ChunkEntrySize
	}

	for i, c := range b.chunks {
		e := entries[i]
		copy(out[e.Offset:e.Offset+e.Size], c.payload)
	}

	return out, nil
}

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

type dupChunkError struct{ id uint32 }

func (e *dupChunkError) Error() string { return "acdbfile: duplicate chunk id in builder" }

func duplicateChunkErr(id uint32) error { return &dupChunkError{id: id} }
