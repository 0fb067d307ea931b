// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	desP "crypto/des"
	"crypto/hmac"
	cryptoMd5 "crypto/md5"
	cryptoRand "crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"hash/crc32"
	"strings"
	"unicode/utf16"

	md4P "golang.org/x/crypto/md4"
)

// md4 hashes data with MD4. Not in the standard library; MS-NLMP uses it for
// NTOWFv1 and SessionBaseKeyV1.
func md4(data []byte) []byte {
	h := md4P.New()
	h.Write(data)
	return h.Sum(nil)
}

// md5 hashes data with MD5.
func md5(data []byte) []byte {
	sum := cryptoMd5.Sum(data)
	return sum[:]
}

// hmacMd5 computes HMAC-MD5(key, data).
func hmacMd5(key, data []byte) []byte {
	mac := hmac.New(cryptoMd5.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// des encrypts an 8-byte block with a 7-byte key, expanding it to the
// 8-byte DES key format (odd-parity bit inserted per byte, per MS-NLMP).
func des(key7, block8 []byte) ([]byte, error) {
	c, err := desP.NewCipher(expandDesKey(key7))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8)
	c.Encrypt(out, block8)
	return out, nil
}

// expandDesKey turns a 7-byte key into the classic 8-byte DES key by
// inserting a parity bit after every 7 bits. DES's key schedule (PC-1)
// discards the low bit of every byte, so the parity value itself never
// affects the ciphertext -- we still set it for readability against other
// NTLM implementations.
func expandDesKey(key7 []byte) []byte {
	k := make([]byte, 7)
	copy(k, key7)

	key := make([]byte, 8)
	key[0] = k[0] >> 1
	key[1] = ((k[0] & 0x01) << 6) | (k[1] >> 2)
	key[2] = ((k[1] & 0x03) << 5) | (k[2] >> 3)
	key[3] = ((k[2] & 0x07) << 4) | (k[3] >> 4)
	key[4] = ((k[3] & 0x0F) << 3) | (k[4] >> 5)
	key[5] = ((k[4] & 0x1F) << 2) | (k[5] >> 6)
	key[6] = ((k[5] & 0x3F) << 1) | (k[6] >> 7)
	key[7] = k[6] & 0x7F

	for i := range key {
		key[i] <<= 1
		key[i] = setOddParity(key[i])
	}
	return key
}

func setOddParity(b byte) byte {
	parity := byte(0)
	for i := 1; i < 8; i++ {
		parity ^= (b >> uint(i)) & 1
	}
	return (b & 0xFE) | (1 - parity)
}

// desL implements the NTLM DESL construction: pad the 16-byte key to 21
// bytes with zeros, split into three 7-byte sub-keys, DES-encrypt the
// 8-byte block with each, and concatenate the three 8-byte outputs.
func desL(key16, block8 []byte) ([]byte, error) {
	key21 := zeroPaddedBytes(key16, 0, 21)

	var out []byte
	for _, sub := range [][]byte{key21[0:7], key21[7:14], key21[14:21]} {
		enc, err := des(sub, block8)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

// rc4Init creates an RC4 stream cipher state seeded with key.
func rc4Init(key []byte) (*RC4State, error) {
	return NewRC4State(key)
}

// rc4K runs data through RC4 keyed with key, returning the result. Used
// both to encrypt the ExportedSessionKey (RC4(KXKEY, ESK)) and to decrypt
// it on the acceptor side, since RC4 is its own inverse.
func rc4K(key, data []byte) ([]byte, error) {
	c, err := rc4Init(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// reinitSealingKey rekeys the RC4 state for connectionless (datagram) mode:
// new_key = MD5(sealingKey || seqNum_LE).
func reinitSealingKey(sealingKey []byte, sequenceNumber int) (*RC4State, error) {
	seq := make([]byte, 4)
	binary.LittleEndian.PutUint32(seq, uint32(sequenceNumber))
	newKey := md5(concat(sealingKey, seq))
	return rc4Init(newKey)
}

// concat appends all of bs into a single new byte slice.
func concat(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

// zeroBytes returns a zero-filled slice of length n.
func zeroBytes(n int) []byte {
	return make([]byte, n)
}

// zeroPaddedBytes returns length bytes of b starting at start, truncated or
// zero-padded on the right to exactly length bytes.
func zeroPaddedBytes(b []byte, start, length int) []byte {
	out := make([]byte, length)
	if start < len(b) {
		copy(out, b[start:])
	}
	return out
}

// randomBytes returns n cryptographically random bytes.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := cryptoRand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// crc32IEEE computes the IEEE CRC32 of data as 4 little-endian bytes.
func crc32IEEE(data []byte) []byte {
	sum := crc32.ChecksumIEEE(data)
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, sum)
	return out
}

// utf16FromString converts a UTF-8 Go string to UTF-16LE bytes, no BOM.
func utf16FromString(s string) []byte {
	runes := utf16.Encode([]rune(s))
	out := make([]byte, len(runes)*2)
	for i, r := range runes {
		binary.LittleEndian.PutUint16(out[i*2:], r)
	}
	return out
}

// utf16ToString converts UTF-16LE bytes (no BOM) to a Go string.
func utf16ToString(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}

// upperUtf16LE uppercases a UTF-16LE byte string using simple Unicode
// uppercasing (no locale), matching MS-NLMP's UPPER() operation.
func upperUtf16LE(b []byte) []byte {
	return utf16FromString(strings.ToUpper(utf16ToString(b)))
}

// MacsEqual compares two MAC/signature byte slices in constant time.
func MacsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
