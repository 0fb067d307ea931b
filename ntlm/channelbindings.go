// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import "encoding/binary"

// ChannelBindings is the subset of a gss_channel_bindings_struct NTLM
// actually serializes: the two addresses and the application data. Address
// types are carried as given by the caller; NTLM treats them opaquely.
type ChannelBindings struct {
	InitiatorAddrType uint32
	InitiatorAddress  []byte
	AcceptorAddrType  uint32
	AcceptorAddress   []byte
	ApplicationData   []byte
}

// Marshal serializes the struct in the wire order MS-NLMP 3.1.5.1 (via
// [MS-SICE]/RFC 2744) specifies before hashing it with MD5.
func (cb *ChannelBindings) Marshal() []byte {
	var out []byte
	out = appendUint32LenPrefixed(out, cb.InitiatorAddrType, cb.InitiatorAddress)
	out = appendUint32LenPrefixed(out, cb.AcceptorAddrType, cb.AcceptorAddress)

	appLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(appLen, uint32(len(cb.ApplicationData)))
	out = append(out, appLen...)
	out = append(out, cb.ApplicationData...)
	return out
}

func appendUint32LenPrefixed(out []byte, addrType uint32, address []byte) []byte {
	t := make([]byte, 4)
	binary.LittleEndian.PutUint32(t, addrType)
	out = append(out, t...)

	l := make([]byte, 4)
	binary.LittleEndian.PutUint32(l, uint32(len(address)))
	out = append(out, l...)
	return append(out, address...)
}

// Hash returns the 16-byte MD5 digest placed in the ChannelBindings AV-pair.
func (cb *ChannelBindings) Hash() []byte {
	return md5(cb.Marshal())
}
