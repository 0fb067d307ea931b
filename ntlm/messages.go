// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"bytes"
	"encoding/binary"
)

// Signature is the fixed 8-byte NTLMSSP marker every message begins with.
var Signature = []byte("NTLMSSP\x00")

const (
	MessageTypeNegotiate    = 1
	MessageTypeChallenge    = 2
	MessageTypeAuthenticate = 3
)

// VersionStruct is the 8-byte OS-version block MS-NLMP calls VERSION,
// carried by all three messages when NEGOTIATE_VERSION is set.
type VersionStruct struct {
	ProductMajorVersion uint8
	ProductMinorVersion uint8
	ProductBuild        uint16
	Reserved            [3]byte
	NTLMRevisionCurrent uint8
}

// DefaultVersion holds the Windows 7 SP1 version quadruple (6.1, build 7601,
// revision 15). The session code builds its own VersionStruct with the same
// values for each message it generates and does not read DefaultVersion, so
// reassigning it does not change generated messages.
var DefaultVersion = &VersionStruct{
	ProductMajorVersion: 6,
	ProductMinorVersion: 1,
	ProductBuild:        7601,
	NTLMRevisionCurrent: 15,
}

func (v *VersionStruct) Bytes() []byte {
	out := make([]byte, 8)
	out[0] = v.ProductMajorVersion
	out[1] = v.ProductMinorVersion
	binary.LittleEndian.PutUint16(out[2:4], v.ProductBuild)
	copy(out[4:7], v.Reserved[:])
	out[7] = v.NTLMRevisionCurrent
	return out
}

func parseVersion(b []byte) *VersionStruct {
	v := &VersionStruct{
		ProductMajorVersion: b[0],
		ProductMinorVersion: b[1],
		ProductBuild:        binary.LittleEndian.Uint16(b[2:4]),
		NTLMRevisionCurrent: b[7],
	}
	copy(v.Reserved[:], b[4:7])
	return v
}

func checkHeader(buf []byte, messageType uint32) error {
	if len(buf) < 12 {
		return newError(DecodeTruncated, "message shorter than fixed header")
	}
	if !bytes.Equal(buf[0:8], Signature) {
		return newError(DecodeBadHeader, "bad NTLMSSP signature")
	}
	if binary.LittleEndian.Uint32(buf[8:12]) != messageType {
		return newErrorf(DecodeBadHeader, "unexpected message type %d", binary.LittleEndian.Uint32(buf[8:12]))
	}
	return nil
}

/****************************
 NEGOTIATE_MESSAGE (type 1)
*****************************/

type NegotiateMessage struct {
	Signature      []byte
	MessageType    uint32
	NegotiateFlags uint32
	DomainName     *PayloadStruct
	Workstation    *PayloadStruct
	Version        *VersionStruct
}

func ParseNegotiateMessage(buf []byte) (*NegotiateMessage, error) {
	if err := checkHeader(buf, MessageTypeNegotiate); err != nil {
		return nil, err
	}
	if len(buf) < 32 {
		return nil, newError(DecodeTruncated, "negotiate message shorter than fixed header")
	}

	nm := &NegotiateMessage{
		Signature:      append([]byte{}, buf[0:8]...),
		MessageType:    MessageTypeNegotiate,
		NegotiateFlags: binary.LittleEndian.Uint32(buf[12:16]),
	}
	if !NTLMSSP_NEGOTIATE_UNICODE.IsSet(nm.NegotiateFlags) && !NTLMSSP_NEGOTIATE_OEM.IsSet(nm.NegotiateFlags) {
		return nil, newError(DecodeBadFlagCombo, "neither unicode nor oem negotiated")
	}

	domain, err := readSecurityBuffer(buf, 16, 32)
	if err != nil {
		return nil, err
	}
	workstation, err := readSecurityBuffer(buf, 24, 32)
	if err != nil {
		return nil, err
	}
	nm.DomainName = domain
	nm.Workstation = workstation

	if NTLMSSP_NEGOTIATE_VERSION.IsSet(nm.NegotiateFlags) && len(buf) >= 40 {
		nm.Version = parseVersion(buf[32:40])
	}
	return nm, nil
}

func (nm *NegotiateMessage) Bytes() []byte {
	headerLen := 32
	if nm.Version != nil {
		headerLen = 40
	}
	buf := make([]byte, headerLen)
	copy(buf[0:8], Signature)
	binary.LittleEndian.PutUint32(buf[8:12], MessageTypeNegotiate)
	binary.LittleEndian.PutUint32(buf[12:16], nm.NegotiateFlags)

	var payload []byte
	offset := headerLen

	domain := nm.DomainName
	if domain == nil {
		domain, _ = CreateBytePayload(nil)
	}
	writeSecurityBuffer(buf, 16, domain, offset)
	payload = append(payload, domain.Payload...)
	offset += len(domain.Payload)

	workstation := nm.Workstation
	if workstation == nil {
		workstation, _ = CreateBytePayload(nil)
	}
	writeSecurityBuffer(buf, 24, workstation, offset)
	payload = append(payload, workstation.Payload...)

	if nm.Version != nil {
		copy(buf[32:40], nm.Version.Bytes())
	}
	return append(buf, payload...)
}

/****************************
 CHALLENGE_MESSAGE (type 2)
*****************************/

type ChallengeMessage struct {
	Signature               []byte
	MessageType              uint32
	TargetName               *PayloadStruct
	NegotiateFlags           uint32
	ServerChallenge          []byte
	Reserved                 []byte
	TargetInfo               *AvPairs
	TargetInfoPayloadStruct  *PayloadStruct
	Version                  *VersionStruct
}

func ParseChallengeMessage(buf []byte) (*ChallengeMessage, error) {
	if err := checkHeader(buf, MessageTypeChallenge); err != nil {
		return nil, err
	}
	if len(buf) < 48 {
		return nil, newError(DecodeTruncated, "challenge message shorter than fixed header")
	}

	cm := &ChallengeMessage{
		Signature:       append([]byte{}, buf[0:8]...),
		MessageType:     MessageTypeChallenge,
		NegotiateFlags:  binary.LittleEndian.Uint32(buf[20:24]),
		ServerChallenge: append([]byte{}, buf[24:32]...),
		Reserved:        append([]byte{}, buf[32:40]...),
	}
	if !NTLMSSP_NEGOTIATE_UNICODE.IsSet(cm.NegotiateFlags) && !NTLMSSP_NEGOTIATE_OEM.IsSet(cm.NegotiateFlags) {
		return nil, newError(DecodeBadFlagCombo, "neither unicode nor oem negotiated")
	}

	targetName, err := readSecurityBuffer(buf, 12, 48)
	if err != nil {
		return nil, err
	}
	cm.TargetName = targetName

	targetInfo, err := readSecurityBuffer(buf, 40, 48)
	if err != nil {
		return nil, err
	}
	cm.TargetInfoPayloadStruct = targetInfo

	if NTLMSSP_NEGOTIATE_TARGET_INFO.IsSet(cm.NegotiateFlags) {
		avPairs, err := NewAvPairs(targetInfo.Payload)
		if err != nil {
			return nil, err
		}
		cm.TargetInfo = avPairs
	}

	if NTLMSSP_NEGOTIATE_VERSION.IsSet(cm.NegotiateFlags) && len(buf) >= 56 {
		cm.Version = parseVersion(buf[48:56])
	}
	return cm, nil
}

func (cm *ChallengeMessage) Bytes() []byte {
	headerLen := 48
	if cm.Version != nil {
		headerLen = 56
	}
	buf := make([]byte, headerLen)
	copy(buf[0:8], Signature)
	binary.LittleEndian.PutUint32(buf[8:12], MessageTypeChallenge)
	binary.LittleEndian.PutUint32(buf[20:24], cm.NegotiateFlags)
	copy(buf[24:32], zeroPaddedBytes(cm.ServerChallenge, 0, 8))
	reserved := cm.Reserved
	if reserved == nil {
		reserved = zeroBytes(8)
	}
	copy(buf[32:40], zeroPaddedBytes(reserved, 0, 8))

	var payload []byte
	offset := headerLen

	targetName := cm.TargetName
	if targetName == nil {
		targetName, _ = CreateBytePayload(nil)
	}
	writeSecurityBuffer(buf, 12, targetName, offset)
	payload = append(payload, targetName.Payload...)
	offset += len(targetName.Payload)

	targetInfo := cm.TargetInfoPayloadStruct
	if targetInfo == nil {
		targetInfo, _ = CreateBytePayload(nil)
	}
	writeSecurityBuffer(buf, 40, targetInfo, offset)
	payload = append(payload, targetInfo.Payload...)

	if cm.Version != nil {
		copy(buf[48:56], cm.Version.Bytes())
	}
	return append(buf, payload...)
}

/****************************
 AUTHENTICATE_MESSAGE (type 3)
*****************************/

// NtlmV2ClientChallenge is the NTLMv2_CLIENT_CHALLENGE structure embedded
// in NtChallengeResponseFields when NTLMv2 is in use.
type NtlmV2ClientChallenge struct {
	RespType             byte
	HiRespType           byte
	Reserved1            uint32
	TimeStamp            []byte
	ChallengeFromClient  []byte
	Reserved2            uint32
	AvPairs              *AvPairs
	AvPairsRaw           []byte
	Reserved3            uint32
}

// NtlmV2Response is the NTLMv2_RESPONSE structure: NTProofStr followed by
// the client challenge structure (commonly called "temp").
type NtlmV2Response struct {
	NTProofStr            []byte
	NtlmV2ClientChallenge *NtlmV2ClientChallenge
}

func parseNtlmV2Response(b []byte) (*NtlmV2Response, error) {
	if len(b) < 16+32 {
		return nil, newError(DecodeTruncated, "ntlmv2 response truncated")
	}
	ntProofStr := append([]byte{}, b[0:16]...)
	temp := b[16:]

	cc := &NtlmV2ClientChallenge{
		RespType:            temp[0],
		HiRespType:          temp[1],
		Reserved1:           binary.LittleEndian.Uint32(temp[2:6]),
		TimeStamp:           append([]byte{}, temp[8:16]...),
		ChallengeFromClient: append([]byte{}, temp[16:24]...),
		Reserved2:           binary.LittleEndian.Uint32(temp[24:28]),
	}
	avBytes := temp[28 : len(temp)-4]
	avPairs, err := NewAvPairs(avBytes)
	if err != nil {
		return nil, err
	}
	cc.AvPairs = avPairs
	cc.AvPairsRaw = append([]byte{}, avBytes...)
	cc.Reserved3 = binary.LittleEndian.Uint32(temp[len(temp)-4:])

	return &NtlmV2Response{NTProofStr: ntProofStr, NtlmV2ClientChallenge: cc}, nil
}

type AuthenticateMessage struct {
	Signature                 []byte
	MessageType                uint32
	LmChallengeResponse        *PayloadStruct
	NtChallengeResponseFields  *PayloadStruct
	DomainName                 *PayloadStruct
	UserName                   *PayloadStruct
	Workstation                *PayloadStruct
	EncryptedRandomSessionKey  *PayloadStruct
	NegotiateFlags             uint32
	Version                    *VersionStruct
	Mic                        []byte

	NtlmV2Response *NtlmV2Response
}

// ClientChallenge extracts the 8-byte client challenge regardless of NTLM
// version: from the NTLMv2_CLIENT_CHALLENGE structure when present, or from
// the first 8 bytes of the ESS NTLMv1 LmChallengeResponse otherwise.
func (am *AuthenticateMessage) ClientChallenge() []byte {
	if am.NtlmV2Response != nil {
		return am.NtlmV2Response.NtlmV2ClientChallenge.ChallengeFromClient
	}
	if am.LmChallengeResponse != nil && len(am.LmChallengeResponse.Payload) >= 8 {
		return am.LmChallengeResponse.Payload[0:8]
	}
	return nil
}

func ParseAuthenticateMessage(buf []byte, version int) (*AuthenticateMessage, error) {
	if err := checkHeader(buf, MessageTypeAuthenticate); err != nil {
		return nil, err
	}
	if len(buf) < 64 {
		return nil, newError(DecodeTruncated, "authenticate message shorter than fixed header")
	}

	am := &AuthenticateMessage{
		Signature:      append([]byte{}, buf[0:8]...),
		MessageType:    MessageTypeAuthenticate,
		NegotiateFlags: binary.LittleEndian.Uint32(buf[60:64]),
	}
	if !NTLMSSP_NEGOTIATE_UNICODE.IsSet(am.NegotiateFlags) && !NTLMSSP_NEGOTIATE_OEM.IsSet(am.NegotiateFlags) {
		return nil, newError(DecodeBadFlagCombo, "neither unicode nor oem negotiated")
	}

	lm, err := readSecurityBuffer(buf, 12, 64)
	if err != nil {
		return nil, err
	}
	nt, err := readSecurityBuffer(buf, 20, 64)
	if err != nil {
		return nil, err
	}
	domain, err := readSecurityBuffer(buf, 28, 64)
	if err != nil {
		return nil, err
	}
	user, err := readSecurityBuffer(buf, 36, 64)
	if err != nil {
		return nil, err
	}
	workstation, err := readSecurityBuffer(buf, 44, 64)
	if err != nil {
		return nil, err
	}
	sessionKey, err := readSecurityBuffer(buf, 52, 64)
	if err != nil {
		return nil, err
	}
	am.LmChallengeResponse = lm
	am.NtChallengeResponseFields = nt
	am.DomainName = domain
	am.UserName = user
	am.Workstation = workstation
	am.EncryptedRandomSessionKey = sessionKey

	// The header's true length is not flag-determined here (Version and MIC
	// are independent optional fields): it is the smallest security-buffer
	// offset actually used, clamped to the full 88-byte fixed area.
	minOffset := -1
	for _, p := range []*PayloadStruct{lm, nt, domain, user, workstation, sessionKey} {
		if p.Len == 0 {
			continue
		}
		if minOffset == -1 || int(p.Offset) < minOffset {
			minOffset = int(p.Offset)
		}
	}
	headerLen := 64
	switch {
	case minOffset > 64:
		headerLen = minInt(minOffset, 88)
	case minOffset == -1:
		headerLen = minInt(len(buf), 88)
	}

	if headerLen > 64 && len(buf) >= 72 {
		am.Version = parseVersion(buf[64:72])
	}
	if headerLen > 72 && len(buf) >= 88 {
		am.Mic = append([]byte{}, buf[72:88]...)
	}

	if version == 2 && nt.Len > 0 {
		v2, err := parseNtlmV2Response(nt.Payload)
		if err != nil {
			return nil, err
		}
		am.NtlmV2Response = v2
	}

	return am, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Bytes encodes am back to wire format. Payloads are always written right
// after the fixed header in the order LmChallengeResponse,
// NtChallengeResponse, DomainName, UserName, Workstation,
// EncryptedRandomSessionKey. A parsed message whose payloads were laid out in
// another order (such as the MS-NLMP 4.2.4.3 example) is therefore not
// reproduced byte-for-byte; a message built by this package is.
func (am *AuthenticateMessage) Bytes() []byte {
	headerLen := 64
	if am.Version != nil {
		headerLen = 72
	}
	if am.Mic != nil {
		if headerLen < 72 {
			headerLen = 72
		}
		headerLen = 88
	}

	buf := make([]byte, headerLen)
	copy(buf[0:8], Signature)
	binary.LittleEndian.PutUint32(buf[8:12], MessageTypeAuthenticate)
	binary.LittleEndian.PutUint32(buf[60:64], am.NegotiateFlags)

	var payload []byte
	offset := headerLen

	fields := []struct {
		off int
		p   *PayloadStruct
	}{
		{12, am.LmChallengeResponse},
		{20, am.NtChallengeResponseFields},
		{28, am.DomainName},
		{36, am.UserName},
		{44, am.Workstation},
		{52, am.EncryptedRandomSessionKey},
	}
	for _, f := range fields {
		p := f.p
		if p == nil {
			p, _ = CreateBytePayload(nil)
		}
		writeSecurityBuffer(buf, f.off, p, offset)
		payload = append(payload, p.Payload...)
		offset += len(p.Payload)
	}

	if am.Version != nil {
		copy(buf[64:72], am.Version.Bytes())
	}
	if am.Mic != nil {
		copy(buf[72:88], zeroPaddedBytes(am.Mic, 0, 16))
	}

	return append(buf, payload...)
}
