// Package acdbfile implements the on-disk chunked ACDB file format and a
// bounds-checked reader over it (spec §4.1, §6 "ACDB file format").
//
// Layout (little-endian):
//
//	Header   {magic, major, minor, revision, fileType}
//	uint32   chunk count
//	[]Chunk  {id uint32, offset uint32, size uint32}  (directory)
//	...      chunk payloads, self-describing, chunk-scoped
package acdbfile

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies an ACDB (or ACDB-format delta) file.
const Magic uint32 = 0x42444341 // "ACDB" little-endian

// FileType distinguishes a full ACDB file from a workspace overlay.
type FileType uint16

const (
	FileTypeACDB FileType = iota
	FileTypeWorkspace
	FileTypeDelta
)

// HeaderSize is the fixed byte size of Header on disk.
const HeaderSize = 4 + 2 + 2 + 2 + 2

// Header is the fixed-layout file header.
type Header struct {
	Magic    uint32
	Major    uint16
	Minor    uint16
	Revision uint16
	FileType FileType
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Major)
	binary.LittleEndian.PutUint16(buf[6:8], h.Minor)
	binary.LittleEndian.PutUint16(buf[8:10], h.Revision)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(h.FileType))
	return buf
}

func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("acdbfile: header truncated")
	}
	h := Header{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		Major:    binary.LittleEndian.Uint16(buf[4:6]),
		Minor:    binary.LittleEndian.Uint16(buf[6:8]),
		Revision: binary.LittleEndian.Uint16(buf[8:10]),
		FileType: FileType(binary.LittleEndian.Uint16(buf[10:12])),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("acdbfile: bad magic %#x", h.Magic)
	}
	return h, nil
}

// ChunkEntrySize is the fixed byte size of one directory entry.
const ChunkEntrySize = 4 + 4 + 4

// chunkEntry is one (id, offset, size) directory row.
type chunkEntry struct {
	ID     uint32
	Offset uint32
	Size   uint32
}

func marshalChunkEntry(c chunkEntry) []byte {
	buf := make([]byte, ChunkEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], c.ID)
	binary.LittleEndian.PutUint32(buf[4:8], c.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], c.Size)
	return buf
}

func unmarshalChunkEntry(buf []byte) chunkEntry {
	return chunkEntry{
		ID:     binary.LittleEndian.Uint32(buf[0:4]),
		Offset: binary.LittleEndian.Uint32(buf[4:8]),
		Size:   binary.LittleEndian.Uint32(buf[8:12]),
	}
}
