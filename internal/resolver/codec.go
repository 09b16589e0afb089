package resolver

import (
	"encoding/binary"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/acdbmodel"
)

// Chunk IDs for the logical tables this resolver understands. A real ACDB
// file may carry additional chunks (bootup config, platform info, …) that
// this layer never addresses — spec §4.2 treats subgraph/module payloads as
// opaque, so only the directory shape matters here.
const (
	ChunkGraphTable          uint32 = 0x0001
	ChunkSubgraphDataTable   uint32 = 0x0002
	ChunkNonPersistCalTable  uint32 = 0x0003
	ChunkPersistCalIDTable   uint32 = 0x0004
	ChunkPersistCalBlobTable uint32 = 0x0005
	ChunkTaggedModulesTable  uint32 = 0x0006
	ChunkTagDataTable        uint32 = 0x0007
	ChunkGraphAliasTable     uint32 = 0x0008
	ChunkDriverDataTable     uint32 = 0x0009
)

// EncodeGraphTopology/DecodeGraphTopology (de)serialize a GraphTopology as
// the opaque payload of a ChunkGraphTable row.
func EncodeGraphTopology(t acdbmodel.GraphTopology) []byte {
	buf := make([]byte, 0, 4+len(t.SgIDs)*4+4+len(t.Connections)*16)
	buf = appendUint32(buf, uint32(len(t.SgIDs)))
	for _, id := range t.SgIDs {
		buf = appendUint32(buf, id)
	}
	buf = appendUint32(buf, uint32(len(t.Connections)))
	for _, c := range t.Connections {
		buf = appendUint32(buf, c.Src)
		buf = appendUint32(buf, c.Dst)
		buf = appendUint32(buf, uint32(len(c.Payload)))
		buf = append(buf, c.Payload...)
	}
	return buf
}

func DecodeGraphTopology(payload []byte) (acdbmodel.GraphTopology, error) {
	var t acdbmodel.GraphTopology
	pos := 0
	u32, ok := readUint32(payload, &pos)
	if !ok {
		return t, acdberr.New(component, acdberr.EFAILED)
	}
	t.SgIDs = make([]uint32, u32)
	for i := range t.SgIDs {
		v, ok := readUint32(payload, &pos)
		if !ok {
			return t, acdberr.New(component, acdberr.EFAILED)
		}
		t.SgIDs[i] = v
	}
	connCount, ok := readUint32(payload, &pos)
	if !ok {
		return t, acdberr.New(component, acdberr.EFAILED)
	}
	t.Connections = make([]acdbmodel.SgConnection, connCount)
	for i := range t.Connections {
		src, ok1 := readUint32(payload, &pos)
		dst, ok2 := readUint32(payload, &pos)
		size, ok3 := readUint32(payload, &pos)
		if !ok1 || !ok2 || !ok3 || pos+int(size) > len(payload) {
			return t, acdberr.New(component, acdberr.EFAILED)
		}
		data := make([]byte, size)
		copy(data, payload[pos:pos+int(size)])
		pos += int(size)
		t.Connections[i] = acdbmodel.SgConnection{Src: src, Dst: dst, Payload: data}
	}
	return t, nil
}

// EncodeCalRecords/DecodeCalRecords (de)serialize a []CalRecord.
func EncodeCalRecords(recs []acdbmodel.CalRecord) []byte {
	buf := make([]byte, 0, 4+len(recs)*16)
	buf = appendUint32(buf, uint32(len(recs)))
	for _, r := range recs {
		buf = appendUint32(buf, r.IID)
		buf = appendUint32(buf, r.PID)
		buf = appendUint32(buf, r.ErrCode)
		buf = appendUint32(buf, uint32(len(r.Payload)))
		buf = append(buf, r.Payload...)
	}
	return buf
}

func DecodeCalRecords(payload []byte) ([]acdbmodel.CalRecord, error) {
	pos := 0
	count, ok := readUint32(payload, &pos)
	if !ok {
		return nil, acdberr.New(component, acdberr.EFAILED)
	}
	out := make([]acdbmodel.CalRecord, count)
	for i := range out {
		iid, ok1 := readUint32(payload, &pos)
		pid, ok2 := readUint32(payload, &pos)
		errc, ok3 := readUint32(payload, &pos)
		size, ok4 := readUint32(payload, &pos)
		if !ok1 || !ok2 || !ok3 || !ok4 || pos+int(size) > len(payload) {
			return nil, acdberr.New(component, acdberr.EFAILED)
		}
		data := make([]byte, size)
		copy(data, payload[pos:pos+int(size)])
		pos += int(size)
		out[i] = acdbmodel.CalRecord{IID: iid, PID: pid, ErrCode: errc, Payload: data}
	}
	return out, nil
}

// EncodePersistCalRef/DecodePersistCalRef (de)serialize one (cal_id, iid[]).
func EncodePersistCalRef(ref acdbmodel.PersistCalRef) []byte {
	buf := make([]byte, 0, 8+len(ref.IIDs)*4)
	buf = appendUint32(buf, ref.CalID)
	buf = appendUint32(buf, uint32(len(ref.IIDs)))
	for _, iid := range ref.IIDs {
		buf = appendUint32(buf, iid)
	}
	return buf
}

func DecodePersistCalRef(payload []byte) (acdbmodel.PersistCalRef, error) {
	var ref acdbmodel.PersistCalRef
	pos := 0
	calID, ok := readUint32(payload, &pos)
	if !ok {
		return ref, acdberr.New(component, acdberr.EFAILED)
	}
	count, ok := readUint32(payload, &pos)
	if !ok {
		return ref, acdberr.New(component, acdberr.EFAILED)
	}
	iids := make([]uint32, count)
	for i := range iids {
		v, ok := readUint32(payload, &pos)
		if !ok {
			return ref, acdberr.New(component, acdberr.EFAILED)
		}
		iids[i] = v
	}
	ref.CalID = calID
	ref.IIDs = iids
	return ref, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readUint32(buf []byte, pos *int) (uint32, bool) {
	if *pos+4 > len(buf) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(buf[*pos : *pos+4])
	*pos += 4
	return v, true
}
