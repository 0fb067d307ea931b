// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

// RC4State is a from-scratch RC4 keystream generator. The standard
// library's crypto/rc4.Cipher does the same arithmetic but keeps its S-box
// and indices unexported, so it cannot be serialized into an exported
// context token: the 256-byte permutation and the two stream indices need
// to survive export and import intact.
type RC4State struct {
	s    [256]byte
	i, j byte
}

// NewRC4State performs the standard RC4 key-scheduling algorithm (KSA).
func NewRC4State(key []byte) (*RC4State, error) {
	if len(key) == 0 || len(key) > 256 {
		return nil, newError(CryptoInternal, "invalid rc4 key length")
	}
	st := &RC4State{}
	for i := 0; i < 256; i++ {
		st.s[i] = byte(i)
	}
	var j byte
	for i := 0; i < 256; i++ {
		j = j + st.s[i] + key[i%len(key)]
		st.s[i], st.s[j] = st.s[j], st.s[i]
	}
	return st, nil
}

// XORKeyStream runs the RC4 pseudo-random generation algorithm (PRGA) over
// src into dst, advancing the stream state.
func (st *RC4State) XORKeyStream(dst, src []byte) {
	i, j := st.i, st.j
	for k := 0; k < len(src); k++ {
		i++
		j += st.s[i]
		st.s[i], st.s[j] = st.s[j], st.s[i]
		dst[k] = src[k] ^ st.s[st.s[i]+st.s[j]]
	}
	st.i, st.j = i, j
}

// Marshal serializes the permutation and the two stream indices: 256 bytes
// of S-box followed by the i and j bytes, so the exported context token can
// resume the keystream exactly.
func (st *RC4State) Marshal() []byte {
	out := make([]byte, 258)
	copy(out[0:256], st.s[:])
	out[256] = st.i
	out[257] = st.j
	return out
}

// UnmarshalRC4State reconstructs an RC4State from bytes produced by Marshal.
func UnmarshalRC4State(b []byte) (*RC4State, error) {
	if len(b) != 258 {
		return nil, newError(DecodeTruncated, "rc4 state must be 258 bytes")
	}
	st := &RC4State{}
	copy(st.s[:], b[0:256])
	st.i = b[256]
	st.j = b[257]
	return st, nil
}
