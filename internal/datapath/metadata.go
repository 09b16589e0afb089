package datapath

import (
	"sync"
	"time"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

// MetadataEntry is one in-flight metadata record correlated by FIFO order
// with its data completion (spec §4.7 "Metadata completion is correlated by
// FIFO order with data completion").
type MetadataEntry struct {
	BufferIndex uint32
	Timestamp   int64
	Flags       uint32
	EOS         bool
}

// MetadataQueue is the circular queue of metadata shmem buffers, sized
// 2×num_buffs per spec §4.7. Entries are encoded with line-protocol so the
// wire payload is self-describing for out-of-band inspection tools.
type MetadataQueue struct {
	mu      sync.Mutex
	entries []MetadataEntry
	cap     int
}

func NewMetadataQueue(numBuffs uint32) *MetadataQueue {
	return &MetadataQueue{cap: int(numBuffs) * 2}
}

// Push enqueues e, evicting the oldest entry if the queue is at capacity —
// the data path only needs in-flight correlation, not unbounded history.
func (q *MetadataQueue) Push(e MetadataEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.cap && q.cap > 0 {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, e)
}

// Pop dequeues the oldest entry, correlating it with the next data
// completion in FIFO order.
func (q *MetadataQueue) Pop() (MetadataEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return MetadataEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// EncodeMetadata serializes e as a single line-protocol line. Engine.Write
// sends the result in-band as the packet's Metadata field; no check against
// a GPR packet size is made and there is no out-of-band shmem path.
func EncodeMetadata(e MetadataEntry) ([]byte, error) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	enc.StartLine("buf")
	enc.AddTag("eos", boolTag(e.EOS))
	enc.AddField("index", lineprotocol.MustNewValue(int64(e.BufferIndex)))
	enc.AddField("flags", lineprotocol.MustNewValue(int64(e.Flags)))
	enc.EndLine(timeFromUnixNano(e.Timestamp))
	if err := enc.Err(); err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return enc.Bytes(), nil
}

// DecodeMetadata parses one line-protocol-encoded metadata record produced
// by EncodeMetadata.
func DecodeMetadata(data []byte) (MetadataEntry, error) {
	dec := lineprotocol.NewDecoderWithBytes(data)
	if !dec.Next() {
		return MetadataEntry{}, acdberr.New(component, acdberr.EIODATA)
	}
	if _, err := dec.Measurement(); err != nil {
		return MetadataEntry{}, acdberr.Wrap(component, acdberr.EFAILED, err)
	}

	var e MetadataEntry
	for {
		key, val, err := dec.NextTag()
		if err != nil {
			return MetadataEntry{}, acdberr.Wrap(component, acdberr.EFAILED, err)
		}
		if key == nil {
			break
		}
		if string(key) == "eos" {
			e.EOS = string(val) == "1"
		}
	}
	for {
		key, val, err := dec.NextField()
		if err != nil {
			return MetadataEntry{}, acdberr.Wrap(component, acdberr.EFAILED, err)
		}
		if key == nil {
			break
		}
		iv := val.IntV()
		switch string(key) {
		case "index":
			e.BufferIndex = uint32(iv)
		case "flags":
			e.Flags = uint32(iv)
		}
	}
	ts, err := dec.Time(lineprotocol.Nanosecond, timeFromUnixNano(0))
	if err == nil {
		e.Timestamp = ts.UnixNano()
	}
	return e, nil
}

// timeFromUnixNano converts a stored int64 nanosecond timestamp to a
// time.Time, used both to stamp encoded lines and as the decoder's default
// when a line carries no explicit timestamp.
func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns)
}

func boolTag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
