// Package resolver implements the key-vector resolver (C2, spec §4.2): it
// turns GKV/CKV/TKV lookups against a loaded ACDB file into subgraph lists,
// calibration blobs, tag data, and driver data.
package resolver

import (
	"encoding/binary"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/kv"
)

const component = "RESOLVER"

// Synthetic key IDs the resolver reserves on top of a row's real KV pairs to
// fold sg_id/tag_id/cal_id/proc_id/module_id scoping into the same generic
// kv.Table matching engine used for GKV/CKV/TKV. The real key-ID space for
// ACDB module parameters is defined by the platform and is disjoint from
// this reserved range in every database this runtime has loaded.
const (
	keySgID      uint32 = 0xFFFF0001
	keyTagID     uint32 = 0xFFFF0002
	keyCalID     uint32 = 0xFFFF0003
	keyProcID    uint32 = 0xFFFF0004
	keyModuleID  uint32 = 0xFFFF0005
	keyReserveLo uint32 = 0xFFFF0000
)

// genericTable is a chunk decoded into rows of (key vector -> opaque bytes).
// Every logical ACDB table (graph, cal, tag, alias, driver-data) is encoded
// this way on disk; callers interpret the opaque payload.
type genericTable = kv.Table[[]byte]

// decodeGenericTable parses a chunk payload of the form:
//
//	u32 rowCount
//	rowCount * { u16 keyCount, keyCount*(u32 key, u32 value), u32 dataLen, dataLen bytes }
func decodeGenericTable(payload []byte) (*genericTable, error) {
	t := &genericTable{}
	pos := 0
	need := func(n int) error {
		if pos+n > len(payload) {
			return acdberr.New(component, acdberr.EFAILED)
		}
		return nil
	}

	if err := need(4); err != nil {
		return nil, err
	}
	rowCount := binary.LittleEndian.Uint32(payload[pos : pos+4])
	pos += 4

	for i := uint32(0); i < rowCount; i++ {
		if err := need(2); err != nil {
			return nil, err
		}
		keyCount := binary.LittleEndian.Uint16(payload[pos : pos+2])
		pos += 2

		keys := make(kv.Vector, keyCount)
		for k := 0; k < int(keyCount); k++ {
			if err := need(8); err != nil {
				return nil, err
			}
			keys[k] = kv.KV{
				Key:   binary.LittleEndian.Uint32(payload[pos : pos+4]),
				Value: binary.LittleEndian.Uint32(payload[pos+4 : pos+8]),
			}
			pos += 8
		}

		if err := need(4); err != nil {
			return nil, err
		}
		dataLen := binary.LittleEndian.Uint32(payload[pos : pos+4])
		pos += 4
		if err := need(int(dataLen)); err != nil {
			return nil, err
		}
		data := make([]byte, dataLen)
		copy(data, payload[pos:pos+int(dataLen)])
		pos += int(dataLen)

		t.Rows = append(t.Rows, kv.Row[[]byte]{Keys: keys, Data: data})
	}

	return t, nil
}

// encodeGenericTable is decodeGenericTable's inverse, used to build fixture
// chunks in tests.
func encodeGenericTable(rows []kv.Row[[]byte]) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(rows)))
	for _, row := range rows {
		var kc [2]byte
		binary.LittleEndian.PutUint16(kc[:], uint16(len(row.Keys)))
		buf = append(buf, kc[:]...)
		for _, k := range row.Keys {
			buf = appendUint32(buf, k.Key)
			buf = appendUint32(buf, k.Value)
		}
		buf = appendUint32(buf, uint32(len(row.Data)))
		buf = append(buf, row.Data...)
	}
	return buf
}

func withKey(v kv.Vector, key, value uint32) kv.Vector {
	out := make(kv.Vector, 0, len(v)+1)
	out = append(out, kv.KV{Key: key, Value: value})
	out = append(out, v...)
	return out
}

// writeSized implements the two-call NEEDMORE idiom (spec §4.2 "Ordering
// within outputs" / §9 "two-call size negotiation"): a nil dst reports the
// required size; a too-small dst reports ENEEDMORE with the size still
// filled in; otherwise payload is copied and its length returned.
func writeSized(dst *[]byte, payload []byte) (int, error) {
	if dst == nil || *dst == nil {
		return len(payload), acdberr.New(component, acdberr.ENEEDMORE)
	}
	if len(*dst) < len(payload) {
		return len(payload), acdberr.New(component, acdberr.ENEEDMORE)
	}
	n := copy(*dst, payload)
	return n, nil
}
