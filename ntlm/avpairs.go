// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import "encoding/binary"

// AvId identifies the kind of value carried by an AV_PAIR, MS-NLMP 2.2.2.1.
type AvId uint16

const (
	MsvAvEOL             AvId = 0
	MsvAvNbComputerName  AvId = 1
	MsvAvNbDomainName    AvId = 2
	MsvAvDnsComputerName AvId = 3
	MsvAvDnsDomainName   AvId = 4
	MsvAvDnsTreeName     AvId = 5
	MsvAvFlags           AvId = 6
	MsvAvTimestamp       AvId = 7
	MsvAvSingleHost      AvId = 8
	MsvAvTargetName      AvId = 9
	MsvChannelBindings   AvId = 10
)

// AvPair is one (id, value) entry of a TargetInfo AV-pair stream.
type AvPair struct {
	AvId  AvId
	AvLen uint16
	Value []byte
}

// AvPairs is an ordered TargetInfo AV-pair stream, always implicitly
// terminated by MsvAvEOL.
type AvPairs struct {
	pairs []*AvPair
}

// NewAvPairs parses a TargetInfo payload, stopping at EOL. It rejects any
// AV-pair whose declared length would overrun buf.
func NewAvPairs(buf []byte) (*AvPairs, error) {
	out := &AvPairs{}
	off := 0
	for {
		if off+4 > len(buf) {
			if off == 0 {
				return out, nil
			}
			return nil, newError(DecodeOverlongAv, "av-pair header truncated")
		}
		id := AvId(binary.LittleEndian.Uint16(buf[off : off+2]))
		length := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		off += 4

		if id == MsvAvEOL {
			break
		}
		if off+int(length) > len(buf) {
			return nil, newError(DecodeOverlongAv, "av-pair value overruns target-info buffer")
		}
		value := make([]byte, length)
		copy(value, buf[off:off+int(length)])
		off += int(length)

		out.pairs = append(out.pairs, &AvPair{AvId: id, AvLen: length, Value: value})
	}
	return out, nil
}

// AddAvPair appends a pair. Order is preserved; EOL is added only by Bytes.
func (a *AvPairs) AddAvPair(id AvId, value []byte) {
	a.pairs = append(a.pairs, &AvPair{AvId: id, AvLen: uint16(len(value)), Value: value})
}

// Find returns the first pair with the given id, or nil.
func (a *AvPairs) Find(id AvId) *AvPair {
	for _, p := range a.pairs {
		if p.AvId == id {
			return p
		}
	}
	return nil
}

// orderedIds is the canonical emission order for the pairs we generate
// ourselves; pairs of a kind not in this list (received from a peer and
// round-tripped) are emitted in their original relative order afterward.
var orderedIds = []AvId{
	MsvAvNbDomainName,
	MsvAvNbComputerName,
	MsvAvDnsDomainName,
	MsvAvDnsComputerName,
	MsvAvDnsTreeName,
	MsvAvTimestamp,
	MsvAvFlags,
	MsvAvSingleHost,
	MsvChannelBindings,
	MsvAvTargetName,
}

// Bytes encodes the AV-pair stream, emitting pairs in the canonical order
// and terminating with EOL.
func (a *AvPairs) Bytes() []byte {
	var out []byte
	emitted := make(map[*AvPair]bool)

	emit := func(p *AvPair) {
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(p.AvId))
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(p.Value)))
		out = append(out, hdr...)
		out = append(out, p.Value...)
		emitted[p] = true
	}

	for _, id := range orderedIds {
		for _, p := range a.pairs {
			if p.AvId == id && !emitted[p] {
				emit(p)
			}
		}
	}
	for _, p := range a.pairs {
		if !emitted[p] {
			emit(p)
		}
	}

	out = append(out, 0, 0, 0, 0) // MsvAvEOL, length 0
	return out
}
