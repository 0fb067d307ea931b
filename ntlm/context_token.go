// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import "encoding/binary"

// contextTokenVersion is bumped if the exported layout ever changes.
const contextTokenVersion = 1

// ContextToken is the serializable form of an established session: enough
// state to resume sign/seal on another process without re-running the
// negotiate/challenge/authenticate exchange.
type ContextToken struct {
	Version uint32

	NegotiateFlags uint32

	ExportedSessionKey []byte

	ClientSigningKey []byte
	ServerSigningKey []byte
	ClientSealingKey []byte
	ServerSealingKey []byte

	SendSeq uint32
	RecvSeq uint32

	SendBytesSealed uint64
	RecvBytesSealed uint64

	ClientHandle *RC4State
	ServerHandle *RC4State

	ChannelBindingsHash []byte
}

// ExportContextToken captures everything needed to later resume sign/seal
// on n without holding the user's password or replaying the handshake.
func ExportContextToken(n *SessionData) *ContextToken {
	clone := func(st *RC4State) *RC4State {
		if st == nil {
			return nil
		}
		c := *st
		return &c
	}
	ct := &ContextToken{
		Version:             contextTokenVersion,
		NegotiateFlags:      n.NegotiateFlags,
		ExportedSessionKey:  append([]byte{}, n.exportedSessionKey...),
		ClientSigningKey:    append([]byte{}, n.ClientSigningKey...),
		ServerSigningKey:    append([]byte{}, n.ServerSigningKey...),
		ClientSealingKey:    append([]byte{}, n.ClientSealingKey...),
		ServerSealingKey:    append([]byte{}, n.ServerSealingKey...),
		SendSeq:             n.sendSeq,
		RecvSeq:             n.recvSeq,
		SendBytesSealed:     n.sendBytesSealed,
		RecvBytesSealed:     n.recvBytesSealed,
		ClientHandle:        clone(n.clientHandle),
		ServerHandle:        clone(n.serverHandle),
		ChannelBindingsHash: append([]byte{}, n.channelBindings...),
	}
	return ct
}

// ImportContextToken restores a ContextToken's state onto n, which must
// already have its NegotiateFlags-independent fields (user info, mode)
// configured by the caller if it intends to keep negotiating; this is meant
// for sessions that only need Seal/Unseal/Sign/VerifySignature going
// forward.
func ImportContextToken(n *SessionData, ct *ContextToken) error {
	if ct.Version != contextTokenVersion {
		return newErrorf(ConfigError, "unsupported context token version %d", ct.Version)
	}
	n.NegotiateFlags = ct.NegotiateFlags
	n.exportedSessionKey = ct.ExportedSessionKey
	n.ClientSigningKey = ct.ClientSigningKey
	n.ServerSigningKey = ct.ServerSigningKey
	n.ClientSealingKey = ct.ClientSealingKey
	n.ServerSealingKey = ct.ServerSealingKey
	n.sendSeq = ct.SendSeq
	n.recvSeq = ct.RecvSeq
	n.sendBytesSealed = ct.SendBytesSealed
	n.recvBytesSealed = ct.RecvBytesSealed
	n.clientHandle = ct.ClientHandle
	n.serverHandle = ct.ServerHandle
	n.channelBindings = ct.ChannelBindingsHash
	return nil
}

// Marshal encodes the token as: version(4) | flags(4) | ExportedSessionKey
// (len-prefixed) | four sign/seal keys (each len-prefixed) | SendSeq(4) |
// RecvSeq(4) | SendBytesSealed(8) | RecvBytesSealed(8) | client RC4 state
// (258, present flag prefixed) | server RC4 state (258, present flag
// prefixed) | ChannelBindingsHash (len-prefixed).
func (ct *ContextToken) Marshal() []byte {
	var out []byte
	u32 := make([]byte, 4)

	binary.LittleEndian.PutUint32(u32, ct.Version)
	out = append(out, u32...)
	binary.LittleEndian.PutUint32(u32, ct.NegotiateFlags)
	out = append(out, u32...)

	out = appendLenPrefixed(out, ct.ExportedSessionKey)
	out = appendLenPrefixed(out, ct.ClientSigningKey)
	out = appendLenPrefixed(out, ct.ServerSigningKey)
	out = appendLenPrefixed(out, ct.ClientSealingKey)
	out = appendLenPrefixed(out, ct.ServerSealingKey)

	binary.LittleEndian.PutUint32(u32, ct.SendSeq)
	out = append(out, u32...)
	binary.LittleEndian.PutUint32(u32, ct.RecvSeq)
	out = append(out, u32...)

	u64 := make([]byte, 8)
	binary.LittleEndian.PutUint64(u64, ct.SendBytesSealed)
	out = append(out, u64...)
	binary.LittleEndian.PutUint64(u64, ct.RecvBytesSealed)
	out = append(out, u64...)

	out = appendRC4State(out, ct.ClientHandle)
	out = appendRC4State(out, ct.ServerHandle)

	out = appendLenPrefixed(out, ct.ChannelBindingsHash)
	return out
}

// UnmarshalContextToken decodes a token produced by Marshal.
func UnmarshalContextToken(b []byte) (*ContextToken, error) {
	ct := &ContextToken{}
	off := 0

	readU32 := func() (uint32, error) {
		if off+4 > len(b) {
			return 0, newError(DecodeTruncated, "context token truncated")
		}
		v := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if off+8 > len(b) {
			return 0, newError(DecodeTruncated, "context token truncated")
		}
		v := binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		if off+int(n) > len(b) {
			return nil, newError(DecodeTruncated, "context token truncated")
		}
		v := b[off : off+int(n)]
		off += int(n)
		return append([]byte{}, v...), nil
	}
	readRC4 := func() (*RC4State, error) {
		present, err := readU32()
		if err != nil {
			return nil, err
		}
		if present == 0 {
			return nil, nil
		}
		if off+258 > len(b) {
			return nil, newError(DecodeTruncated, "context token rc4 state truncated")
		}
		st, err := UnmarshalRC4State(b[off : off+258])
		if err != nil {
			return nil, err
		}
		off += 258
		return st, nil
	}

	var err error
	if ct.Version, err = readU32(); err != nil {
		return nil, err
	}
	if ct.NegotiateFlags, err = readU32(); err != nil {
		return nil, err
	}
	if ct.ExportedSessionKey, err = readBytes(); err != nil {
		return nil, err
	}
	if ct.ClientSigningKey, err = readBytes(); err != nil {
		return nil, err
	}
	if ct.ServerSigningKey, err = readBytes(); err != nil {
		return nil, err
	}
	if ct.ClientSealingKey, err = readBytes(); err != nil {
		return nil, err
	}
	if ct.ServerSealingKey, err = readBytes(); err != nil {
		return nil, err
	}
	if ct.SendSeq, err = readU32(); err != nil {
		return nil, err
	}
	if ct.RecvSeq, err = readU32(); err != nil {
		return nil, err
	}
	if ct.SendBytesSealed, err = readU64(); err != nil {
		return nil, err
	}
	if ct.RecvBytesSealed, err = readU64(); err != nil {
		return nil, err
	}
	if ct.ClientHandle, err = readRC4(); err != nil {
		return nil, err
	}
	if ct.ServerHandle, err = readRC4(); err != nil {
		return nil, err
	}
	if ct.ChannelBindingsHash, err = readBytes(); err != nil {
		return nil, err
	}
	return ct, nil
}

func appendLenPrefixed(out []byte, b []byte) []byte {
	l := make([]byte, 4)
	binary.LittleEndian.PutUint32(l, uint32(len(b)))
	out = append(out, l...)
	return append(out, b...)
}

func appendRC4State(out []byte, st *RC4State) []byte {
	present := make([]byte, 4)
	if st == nil {
		return append(out, present...)
	}
	binary.LittleEndian.PutUint32(present, 1)
	out = append(out, present...)
	return append(out, st.Marshal()...)
}
