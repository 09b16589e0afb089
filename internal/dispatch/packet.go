package dispatch

import (
	"encoding/binary"

	"github.com/acdbrt/acdbrt/internal/datapath"
	"github.com/acdbrt/acdbrt/pkg/acdberr"
)

// Kind tells a receiver which engine a packet's token/opcode belongs to:
// a graph control command, a data buffer, or an end-of-stream marker.
type Kind uint8

const (
	KindGraph Kind = iota
	KindData
	KindEOS
)

// Packet is the wire shape C9 exchanges with a satellite: the graph handle,
// kind and direction plus the opcode/token/status header spec §4.9
// describes, carried here over NATS request/reply subjects instead of the
// GPR point-to-point link. The src/dst ports are not packet fields; they
// select the NATS subjects (see Route).
type Packet struct {
	GraphHandle uint64
	Kind        Kind
	Dir         datapath.Direction
	Opcode      uint32
	Token       uint32
	IsReply     bool
	Status      int32 // acdberr.Code on a reply; EOK (0) means success
	Payload     []byte
	Metadata    []byte
}

func Encode(p Packet) []byte {
	buf := make([]byte, 0, 24+len(p.Payload)+len(p.Metadata))
	buf = appendUint64(buf, p.GraphHandle)
	buf = append(buf, byte(p.Kind), byte(p.Dir), boolByte(p.IsReply), 0)
	buf = appendUint32(buf, p.Opcode)
	buf = appendUint32(buf, p.Token)
	buf = appendUint32(buf, uint32(p.Status))
	buf = appendUint32(buf, uint32(len(p.Payload)))
	buf = append(buf, p.Payload...)
	buf = appendUint32(buf, uint32(len(p.Metadata)))
	buf = append(buf, p.Metadata...)
	return buf
}

func Decode(data []byte) (Packet, error) {
	var p Packet
	pos := 0
	handle, ok := readUint64(data, &pos)
	if !ok || pos+4 > len(data) {
		return p, acdberr.New(component, acdberr.EFAILED)
	}
	p.GraphHandle = handle
	p.Kind = Kind(data[pos])
	p.Dir = datapath.Direction(data[pos+1])
	p.IsReply = data[pos+2] != 0
	pos += 4

	opcode, ok := readUint32(data, &pos)
	if !ok {
		return p, acdberr.New(component, acdberr.EFAILED)
	}
	p.Opcode = opcode

	token, ok := readUint32(data, &pos)
	if !ok {
		return p, acdberr.New(component, acdberr.EFAILED)
	}
	p.Token = token

	status, ok := readUint32(data, &pos)
	if !ok {
		return p, acdberr.New(component, acdberr.EFAILED)
	}
	p.Status = int32(status)

	payloadLen, ok := readUint32(data, &pos)
	if !ok || pos+int(payloadLen) > len(data) {
		return p, acdberr.New(component, acdberr.EFAILED)
	}
	p.Payload = append([]byte(nil), data[pos:pos+int(payloadLen)]...)
	pos += int(payloadLen)

	metaLen, ok := readUint32(data, &pos)
	if !ok || pos+int(metaLen) > len(data) {
		return p, acdberr.New(component, acdberr.EFAILED)
	}
	p.Metadata = append([]byte(nil), data[pos:pos+int(metaLen)]...)
	return p, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
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

func readUint64(buf []byte, pos *int) (uint64, bool) {
	if *pos+8 > len(buf) {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(buf[*pos : *pos+8])
	*pos += 8
	return v, true
}
