package subgraphpool

import (
	"os"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/linkedin/goavro/v2"
)

// checkpointSchema describes one persistent-cal checkpoint record: the
// (sg_id, proc_id) it applies to and its opaque blob, so a restarted
// registry can rehydrate attached persistent-cal state without re-querying
// the resolver.
const checkpointSchema = `{
  "type": "record",
  "name": "PersistCalCheckpoint",
  "fields": [
    {"name": "sg_id", "type": "long"},
    {"name": "proc_id", "type": "long"},
    {"name": "blob", "type": "bytes"}
  ]
}`

// Checkpoint snapshots every attached persistent-cal blob across the pool
// to an Avro-encoded file at path.
func (p *Pool) Checkpoint(path string) error {
	codec, err := goavro.NewCodec(checkpointSchema)
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	p.mu.Lock()
	records := make([]map[string]interface{}, 0)
	for sgID, e := range p.sgs {
		for procID, blob := range e.cal {
			records = append(records, map[string]interface{}{
				"sg_id":   int64(sgID),
				"proc_id": int64(procID),
				"blob":    blob,
			})
		}
	}
	p.mu.Unlock()

	var out []byte
	for _, rec := range records {
		binary, err := codec.BinaryFromNative(nil, rec)
		if err != nil {
			return acdberr.Wrap(component, acdberr.EFAILED, err)
		}
		out = append(out, binary...)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	poolLog.Infof("checkpointed %d persistent-cal records to %s", len(records), path)
	return nil
}

// Restore rehydrates persistent-cal attachments from a checkpoint written by
// Checkpoint. It attaches blobs for sg_ids already present in the pool and
// silently skips entries for subgraphs not yet acquired — the caller
// re-attaches those lazily once the owning graph opens them.
func (p *Pool) Restore(path string) error {
	codec, err := goavro.NewCodec(checkpointSchema)
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	for len(data) > 0 {
		native, rest, err := codec.NativeFromBinary(data)
		if err != nil {
			return acdberr.Wrap(component, acdberr.EFAILED, err)
		}
		data = rest

		rec := native.(map[string]interface{})
		sgID := uint32(rec["sg_id"].(int64))
		procID := uint32(rec["proc_id"].(int64))
		blob := rec["blob"].([]byte)

		p.mu.Lock()
		if e, ok := p.sgs[sgID]; ok {
			e.cal[procID] = blob
		}
		p.mu.Unlock()
	}
	return nil
}
