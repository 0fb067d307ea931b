// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import "encoding/binary"

// PayloadStruct is an MS-NLMP "security buffer": a 16-bit length, a 16-bit
// maxlen (always equal to length for NTLM), and a 32-bit offset from the
// start of the message, followed later in the payload area by the actual
// bytes.
type PayloadStruct struct {
	Len    uint16
	MaxLen uint16
	Offset uint32
	Payload []byte
}

// CreateBytePayload wraps raw bytes in a PayloadStruct ready for encoding.
// The Offset is filled in by the message encoder once the full layout is
// known.
func CreateBytePayload(b []byte) (*PayloadStruct, error) {
	return &PayloadStruct{
		Len:     uint16(len(b)),
		MaxLen:  uint16(len(b)),
		Payload: b,
	}, nil
}

// CreateStringPayload encodes s as UTF-16LE and wraps it in a PayloadStruct.
// NTLM always carries DomainName/UserName/Workstation in Unicode in this
// implementation: the message encoders write payload bytes as given, and no
// OEM conversion is done when NEGOTIATE_UNICODE is clear.
func CreateStringPayload(s string) (*PayloadStruct, error) {
	return CreateBytePayload(utf16FromString(s))
}

// String decodes this payload's bytes as UTF-16LE.
func (p *PayloadStruct) String() string {
	if p == nil {
		return ""
	}
	return utf16ToString(p.Payload)
}

// readSecurityBuffer parses length/maxlen/offset at off in buf and returns
// the referenced payload bytes, validating that the slice lies within buf
// and does not overlap the fixed-size header that precedes off.
func readSecurityBuffer(buf []byte, off int, headerEnd int) (*PayloadStruct, error) {
	if off+8 > len(buf) {
		return nil, newError(DecodeTruncated, "security buffer descriptor truncated")
	}
	length := binary.LittleEndian.Uint16(buf[off : off+2])
	maxLen := binary.LittleEndian.Uint16(buf[off+2 : off+4])
	offset := binary.LittleEndian.Uint32(buf[off+4 : off+8])

	if length == 0 {
		return &PayloadStruct{Len: length, MaxLen: maxLen, Offset: offset, Payload: []byte{}}, nil
	}

	start := int(offset)
	end := start + int(length)
	if start < headerEnd {
		return nil, newError(DecodeBadOffset, "security buffer overlaps fixed header")
	}
	if start > len(buf) || end > len(buf) || end < start {
		return nil, newError(DecodeBadOffset, "security buffer points outside the message")
	}
	return &PayloadStruct{Len: length, MaxLen: maxLen, Offset: offset, Payload: buf[start:end]}, nil
}

// writeSecurityBuffer writes the length/maxlen/offset descriptor for p at
// off in buf, recording the offset it was placed at.
func writeSecurityBuffer(buf []byte, off int, p *PayloadStruct, payloadOffset int) {
	p.Offset = uint32(payloadOffset)
	binary.LittleEndian.PutUint16(buf[off:off+2], p.Len)
	binary.LittleEndian.PutUint16(buf[off+2:off+4], p.MaxLen)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], p.Offset)
}
