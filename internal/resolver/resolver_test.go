package resolver

import (
	"testing"

	"github.com/acdbrt/acdbrt/pkg/acdbfile"
	"github.com/acdbrt/acdbrt/pkg/acdbmodel"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/acdbrt/acdbrt/pkg/kv"
	"github.com/stretchr/testify/require"
)

const (
	testGKey  uint32 = 10
	testCKey  uint32 = 11
	testTKey  uint32 = 12
	testSg1   uint32 = 100
	testSg2   uint32 = 101
	testTagID uint32 = 200
)

func buildResolverFixture(t *testing.T) *Resolver {
	t.Helper()

	gkv := kv.Vector{{Key: testGKey, Value: 1}}
	topo := acdbmodel.GraphTopology{
		SgIDs: []uint32{testSg1, testSg2},
		Connections: []acdbmodel.SgConnection{
			{Src: testSg1, Dst: testSg2, Payload: []byte("edge")},
		},
	}
	graphTable := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: gkv, Data: EncodeGraphTopology(topo)},
	})

	sgData := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: withKey(gkv, keySgID, testSg1), Data: []byte("sg1-data")},
		{Keys: withKey(gkv, keySgID, testSg2), Data: []byte("sg2-data")},
	})

	ckv := kv.Vector{{Key: testCKey, Value: 5}}
	cal := EncodeCalRecords([]acdbmodel.CalRecord{
		{IID: 2, PID: 1, ErrCode: 0, Payload: []byte("b")},
		{IID: 1, PID: 1, ErrCode: 0, Payload: []byte("a")},
	})
	nonPersist := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: withKey(ckv, keySgID, testSg1), Data: cal},
	})

	persistIDs := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: withKey(ckv, keySgID, testSg1), Data: EncodePersistCalRef(acdbmodel.PersistCalRef{CalID: 42, IIDs: []uint32{1, 2}})},
	})

	persistBlob := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: kv.Vector{{Key: keyCalID, Value: 42}, {Key: keyProcID, Value: 0}}, Data: []byte("persisted-blob")},
	})

	tagged := encodeGenericTable([]kv.Row[[]byte]{
		{
			Keys: kv.Vector{{Key: keySgID, Value: testSg1}, {Key: keyTagID, Value: testTagID}},
			Data: EncodeTaggedModule(acdbmodel.TaggedModule{ModuleInstance: acdbmodel.ModuleInstance{ModuleID: 7, IID: 1}, ProcID: 0}),
		},
	})

	tkv := kv.Vector{{Key: testTKey, Value: 3}}
	tagData := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: withKey(withKey(tkv, keyTagID, testTagID), keySgID, testSg1), Data: []byte("tag-payload")},
	})

	alias := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: gkv, Data: []byte("default-voice-call")},
	})

	driverData := encodeGenericTable([]kv.Row[[]byte]{
		{Keys: withKey(kv.Vector{{Key: 99, Value: 1}}, keyModuleID, 7), Data: []byte("driver-blob")},
	})

	builder := acdbfile.NewBuilder(1, 0, 0, acdbfile.FileTypeACDB).
		PutChunk(ChunkGraphTable, graphTable).
		PutChunk(ChunkSubgraphDataTable, sgData).
		PutChunk(ChunkNonPersistCalTable, nonPersist).
		PutChunk(ChunkPersistCalIDTable, persistIDs).
		PutChunk(ChunkPersistCalBlobTable, persistBlob).
		PutChunk(ChunkTaggedModulesTable, tagged).
		PutChunk(ChunkTagDataTable, tagData).
		PutChunk(ChunkGraphAliasTable, alias).
		PutChunk(ChunkDriverDataTable, driverData)

	data, err := builder.Build()
	require.NoError(t, err)

	f, err := acdbfile.OpenBytes(data)
	require.NoError(t, err)

	r, err := Load(f)
	require.NoError(t, err)
	return r
}

func TestGetGraph(t *testing.T) {
	r := buildResolverFixture(t)
	topo, err := r.GetGraph(kv.Vector{{Key: testGKey, Value: 1}})
	require.NoError(t, err)
	require.Equal(t, []uint32{testSg1, testSg2}, topo.SgIDs)
	require.Len(t, topo.Connections, 1)
	require.Equal(t, "edge", string(topo.Connections[0].Payload))
}

func TestGetGraphNotFound(t *testing.T) {
	r := buildResolverFixture(t)
	_, err := r.GetGraph(kv.Vector{{Key: testGKey, Value: 999}})
	require.Equal(t, acdberr.ENOTEXIST, acdberr.CodeOf(err))
}

func TestGetSubgraphDataNeedMoreThenSucceeds(t *testing.T) {
	r := buildResolverFixture(t)
	gkv := kv.Vector{{Key: testGKey, Value: 1}}

	n, err := r.GetSubgraphData([]uint32{testSg1, testSg2}, gkv, nil)
	require.Equal(t, acdberr.ENEEDMORE, acdberr.CodeOf(err))
	require.Equal(t, len("sg1-data")+len("sg2-data"), n)

	buf := make([]byte, n)
	n2, err := r.GetSubgraphData([]uint32{testSg1, testSg2}, gkv, buf)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	require.Equal(t, "sg1-datasg2-data", string(buf))
}

func TestGetNonPersistCalOrdersByIIDThenPID(t *testing.T) {
	r := buildResolverFixture(t)
	ckv := kv.Vector{{Key: testCKey, Value: 5}}
	recs, err := r.GetNonPersistCal([]uint32{testSg1}, nil, ckv)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint32(1), recs[0].IID)
	require.Equal(t, uint32(2), recs[1].IID)
}

func TestGetPersistCalIDs(t *testing.T) {
	r := buildResolverFixture(t)
	ckv := kv.Vector{{Key: testCKey, Value: 5}}
	refs, err := r.GetPersistCalIDs([]uint32{testSg1}, ckv)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, uint32(42), refs[0].CalID)
	require.Equal(t, []uint32{1, 2}, refs[0].IIDs)
}

func TestGetPersistCal(t *testing.T) {
	r := buildResolverFixture(t)
	buf := make([]byte, len("persisted-blob"))
	n, err := r.GetPersistCal(42, 0, buf)
	require.NoError(t, err)
	require.Equal(t, "persisted-blob", string(buf[:n]))
}

func TestGetTaggedModules(t *testing.T) {
	r := buildResolverFixture(t)
	mods, err := r.GetTaggedModules([]uint32{testSg1}, testTagID, 0)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	require.Equal(t, uint32(7), mods[0].ModuleID)
}

func TestGetTaggedModulesFiltersByProcID(t *testing.T) {
	r := buildResolverFixture(t)
	mods, err := r.GetTaggedModules([]uint32{testSg1}, testTagID, 999)
	require.NoError(t, err)
	require.Empty(t, mods)
}

func TestGetTagData(t *testing.T) {
	r := buildResolverFixture(t)
	tkv := kv.Vector{{Key: testTKey, Value: 3}}
	buf := make([]byte, len("tag-payload"))
	n, err := r.GetTagData([]uint32{testSg1}, testTagID, tkv, buf)
	require.NoError(t, err)
	require.Equal(t, "tag-payload", string(buf[:n]))
}

func TestGetGraphAlias(t *testing.T) {
	r := buildResolverFixture(t)
	alias, err := r.GetGraphAlias(kv.Vector{{Key: testGKey, Value: 1}})
	require.NoError(t, err)
	require.Equal(t, "default-voice-call", alias)
}

func TestGetSupportedGKVs(t *testing.T) {
	r := buildResolverFixture(t)
	gkvs := r.GetSupportedGKVs([]uint32{testGKey})
	require.Len(t, gkvs, 1)
}

func TestGetSupportedGKVsNoMatch(t *testing.T) {
	r := buildResolverFixture(t)
	gkvs := r.GetSupportedGKVs([]uint32{9999})
	require.Empty(t, gkvs)
}

func TestGetDriverData(t *testing.T) {
	r := buildResolverFixture(t)
	buf := make([]byte, len("driver-blob"))
	n, err := r.GetDriverData(7, kv.Vector{{Key: 99, Value: 1}}, buf)
	require.NoError(t, err)
	require.Equal(t, "driver-blob", string(buf[:n]))
}

func TestGetDriverDataNotFound(t *testing.T) {
	r := buildResolverFixture(t)
	_, err := r.GetDriverData(7, kv.Vector{{Key: 99, Value: 2}}, make([]byte, 32))
	require.Equal(t, acdberr.ENOTEXIST, acdberr.CodeOf(err))
}
