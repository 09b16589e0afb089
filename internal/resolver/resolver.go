package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/acdbfile"
	"github.com/acdbrt/acdbrt/pkg/acdbmodel"
	"github.com/acdbrt/acdbrt/pkg/kv"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Resolver answers the get_graph/get_*_cal/get_tag*/get_driver_data family
// of queries (spec §4.2) against one loaded ACDB file's decoded tables.
type Resolver struct {
	graph         *genericTable
	subgraphData  *genericTable
	nonPersistCal *genericTable
	persistCalIDs *genericTable
	persistCal    *genericTable
	taggedModules *genericTable
	tagData       *genericTable
	graphAlias    *genericTable
	driverData    *genericTable

	cache *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	data  []byte
	found bool
}

// optionalChunk loads chunkID if present, tolerating its absence (not every
// database carries every table).
func optionalChunk(f *acdbfile.File, chunkID uint32) (*genericTable, error) {
	off, size, err := f.Locate(chunkID)
	if err != nil {
		if acdberr.CodeOf(err) == acdberr.ENOTEXIST {
			return &genericTable{}, nil
		}
		return nil, err
	}
	payload, err := f.Borrow(off, size)
	if err != nil {
		return nil, err
	}
	return decodeGenericTable(payload)
}

// Load decodes every resolver-owned table out of f.
func Load(f *acdbfile.File) (*Resolver, error) {
	r := &Resolver{}
	var err error
	for _, pair := range []struct {
		id  uint32
		tbl **genericTable
	}{
		{ChunkGraphTable, &r.graph},
		{ChunkSubgraphDataTable, &r.subgraphData},
		{ChunkNonPersistCalTable, &r.nonPersistCal},
		{ChunkPersistCalIDTable, &r.persistCalIDs},
		{ChunkPersistCalBlobTable, &r.persistCal},
		{ChunkTaggedModulesTable, &r.taggedModules},
		{ChunkTagDataTable, &r.tagData},
		{ChunkGraphAliasTable, &r.graphAlias},
		{ChunkDriverDataTable, &r.driverData},
	} {
		*pair.tbl, err = optionalChunk(f, pair.id)
		if err != nil {
			return nil, err
		}
	}

	r.cache, _ = lru.New[string, cacheEntry](1024)
	return r, nil
}

func cacheKey(table string, v kv.Vector) string {
	var sb strings.Builder
	sb.WriteString(table)
	// Canonicalize by sorting a copy so two equal-as-multisets vectors hash
	// the same regardless of caller-supplied order.
	sorted := append(kv.Vector(nil), v...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Key != sorted[j].Key {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].Value < sorted[j].Value
	})
	for _, kvp := range sorted {
		fmt.Fprintf(&sb, "|%d:%d", kvp.Key, kvp.Value)
	}
	return sb.String()
}

func (r *Resolver) bestCached(table string, t *genericTable, query kv.Vector) ([]byte, bool, error) {
	key := cacheKey(table, query)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.data, v.found, nil
		}
	}
	data, found, err := t.Best(query)
	if err != nil {
		return nil, false, err
	}
	if r.cache != nil {
		r.cache.Add(key, cacheEntry{data: data, found: found})
	}
	return data, found, nil
}

// GetGraph resolves a GKV to its subgraph list and connections.
func (r *Resolver) GetGraph(gkv kv.Vector) (acdbmodel.GraphTopology, error) {
	data, found, err := r.bestCached("graph", r.graph, gkv)
	if err != nil {
		return acdbmodel.GraphTopology{}, err
	}
	if !found {
		return acdbmodel.GraphTopology{}, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return DecodeGraphTopology(data)
}

// GetSubgraphData returns the concatenated opaque container+module-connection
// payload for sgIDs under gkv, in sgIDs order. dst==nil or too-small reports
// ENEEDMORE with the required size (spec §9 "two-call size negotiation").
func (r *Resolver) GetSubgraphData(sgIDs []uint32, gkv kv.Vector, dst []byte) (int, error) {
	var all []byte
	for _, sg := range sgIDs {
		q := withKey(gkv, keySgID, sg)
		data, found, err := r.bestCached("subgraphdata", r.subgraphData, q)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, acdberr.New(component, acdberr.ENOTEXIST)
		}
		all = append(all, data...)
	}
	return writeSized(&dst, all)
}

// GetNonPersistCal returns calibration records for sgIDs under newCKV,
// ordered ascending (iid,pid) so identical CKVs over the same sg set yield
// byte-identical results (spec §4.2 "Ordering within outputs"). priorCKV is
// accepted for API symmetry with the source but does not change the result:
// this runtime always returns the full blob set for newCKV rather than a
// delta, matching get_nonpersist_cal's "replace wholesale" usage in C6.
func (r *Resolver) GetNonPersistCal(sgIDs []uint32, priorCKV, newCKV kv.Vector) ([]acdbmodel.CalRecord, error) {
	_ = priorCKV
	var all []acdbmodel.CalRecord
	for _, sg := range sgIDs {
		q := withKey(newCKV, keySgID, sg)
		data, found, err := r.bestCached("nonpersistcal", r.nonPersistCal, q)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		recs, err := DecodeCalRecords(data)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].IID != all[j].IID {
			return all[i].IID < all[j].IID
		}
		return all[i].PID < all[j].PID
	})
	return all, nil
}

// GetPersistCalIDs returns the (cal_id, iid[]) pairs for sgIDs under ckv.
func (r *Resolver) GetPersistCalIDs(sgIDs []uint32, ckv kv.Vector) ([]acdbmodel.PersistCalRef, error) {
	var all []acdbmodel.PersistCalRef
	for _, sg := range sgIDs {
		q := withKey(ckv, keySgID, sg)
		rows := r.persistCalIDs.All(q)
		for _, row := range rows {
			ref, err := DecodePersistCalRef(row.Data)
			if err != nil {
				return nil, err
			}
			all = append(all, ref)
		}
	}
	return all, nil
}

// GetPersistCal returns the persistent calibration blob for (calID, procID).
func (r *Resolver) GetPersistCal(calID, procID uint32, dst []byte) (int, error) {
	q := kv.Vector{{Key: keyCalID, Value: calID}, {Key: keyProcID, Value: procID}}
	data, found, err := r.bestCached("persistcal", r.persistCal, q)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return writeSized(&dst, data)
}

// GetTaggedModules returns module instances resolved for tagID across
// sgIDs, restricted to procID when procID != 0.
func (r *Resolver) GetTaggedModules(sgIDs []uint32, tagID uint32, procID uint32) ([]acdbmodel.TaggedModule, error) {
	var all []acdbmodel.TaggedModule
	for _, sg := range sgIDs {
		q := kv.Vector{{Key: keySgID, Value: sg}, {Key: keyTagID, Value: tagID}}
		rows := r.taggedModules.All(q)
		for _, row := range rows {
			tm, err := decodeTaggedModule(row.Data)
			if err != nil {
				return nil, err
			}
			if procID != 0 && tm.ProcID != procID {
				continue
			}
			all = append(all, tm)
		}
	}
	return all, nil
}

func decodeTaggedModule(payload []byte) (acdbmodel.TaggedModule, error) {
	pos := 0
	mid, ok1 := readUint32(payload, &pos)
	iid, ok2 := readUint32(payload, &pos)
	proc, ok3 := readUint32(payload, &pos)
	if !ok1 || !ok2 || !ok3 {
		return acdbmodel.TaggedModule{}, acdberr.New(component, acdberr.EFAILED)
	}
	return acdbmodel.TaggedModule{ModuleInstance: acdbmodel.ModuleInstance{ModuleID: mid, IID: iid}, ProcID: proc}, nil
}

// EncodeTaggedModule serializes one tagged-module row's opaque payload, used
// by database builders/tests.
func EncodeTaggedModule(tm acdbmodel.TaggedModule) []byte {
	buf := make([]byte, 0, 12)
	buf = appendUint32(buf, tm.ModuleID)
	buf = appendUint32(buf, tm.IID)
	buf = appendUint32(buf, tm.ProcID)
	return buf
}

// GetTagData returns the tag-scoped parameter payload for sgIDs/tagID/tkv.
func (r *Resolver) GetTagData(sgIDs []uint32, tagID uint32, tkv kv.Vector, dst []byte) (int, error) {
	var all []byte
	for _, sg := range sgIDs {
		q := withKey(withKey(tkv, keyTagID, tagID), keySgID, sg)
		data, found, err := r.bestCached("tagdata", r.tagData, q)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		all = append(all, data...)
	}
	if len(all) == 0 {
		return 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return writeSized(&dst, all)
}

// GetGraphAlias returns the ≤255-byte human-readable alias for gkv.
func (r *Resolver) GetGraphAlias(gkv kv.Vector) (string, error) {
	data, found, err := r.bestCached("alias", r.graphAlias, gkv)
	if err != nil {
		return "", err
	}
	if !found {
		return "", acdberr.New(component, acdberr.ENOTEXIST)
	}
	if len(data) > 255 {
		return "", acdberr.New(component, acdberr.EFAILED)
	}
	return string(data), nil
}

// GetSupportedGKVs returns every GKV in the graph table whose key set
// includes keyIDSubset, in database insertion order.
func (r *Resolver) GetSupportedGKVs(keyIDSubset []uint32) []kv.Vector {
	var out []kv.Vector
	for _, row := range r.graph.Rows {
		if row.Keys.HasKeySubset(keyIDSubset) {
			out = append(out, row.Keys)
		}
	}
	return out
}

// GetDriverData returns the driver-scoped payload for moduleID under kvVec.
func (r *Resolver) GetDriverData(moduleID uint32, kvVec kv.Vector, dst []byte) (int, error) {
	q := withKey(kvVec, keyModuleID, moduleID)
	data, found, err := r.bestCached("driverdata", r.driverData, q)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, acdberr.New(component, acdberr.ENOTEXIST)
	}
	return writeSized(&dst, data)
}
