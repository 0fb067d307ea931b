// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateMessageRoundTrip(t *testing.T) {
	nm := new(NegotiateMessage)
	nm.Signature = append([]byte{}, Signature...)
	nm.MessageType = MessageTypeNegotiate
	flags := uint32(0)
	flags = NTLMSSP_NEGOTIATE_UNICODE.Set(flags)
	flags = NTLMSSP_NEGOTIATE_NTLM.Set(flags)
	flags = NTLMSSP_NEGOTIATE_VERSION.Set(flags)
	nm.NegotiateFlags = flags
	nm.DomainName, _ = CreateStringPayload("DOMAIN")
	nm.Workstation, _ = CreateStringPayload("WORKSTATION")
	nm.Version = DefaultVersion

	encoded := nm.Bytes()
	decoded, err := ParseNegotiateMessage(encoded)
	require.NoError(t, err)

	assert.Equal(t, nm.NegotiateFlags, decoded.NegotiateFlags)
	assert.Equal(t, "DOMAIN", decoded.DomainName.String())
	assert.Equal(t, "WORKSTATION", decoded.Workstation.String())
	require.NotNil(t, decoded.Version)
	assert.Equal(t, DefaultVersion.ProductBuild, decoded.Version.ProductBuild)

	// a decode-then-encode pass must reproduce the same wire bytes.
	assert.Equal(t, encoded, decoded.Bytes())
}

func TestNegotiateMessageRejectsBadSignature(t *testing.T) {
	nm := new(NegotiateMessage)
	nm.NegotiateFlags = NTLMSSP_NEGOTIATE_UNICODE.Set(0)
	buf := nm.Bytes()
	buf[0] ^= 0xFF

	_, err := ParseNegotiateMessage(buf)
	require.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, DecodeBadHeader, ntlmErr.Code)
}

func TestNegotiateMessageRejectsNeitherUnicodeNorOem(t *testing.T) {
	nm := new(NegotiateMessage)
	nm.NegotiateFlags = 0
	buf := nm.Bytes()

	_, err := ParseNegotiateMessage(buf)
	require.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, DecodeBadFlagCombo, ntlmErr.Code)
}

func TestChallengeMessageRoundTrip(t *testing.T) {
	cm := new(ChallengeMessage)
	cm.Signature = append([]byte{}, Signature...)
	cm.MessageType = MessageTypeChallenge
	flags := uint32(0)
	flags = NTLMSSP_NEGOTIATE_UNICODE.Set(flags)
	flags = NTLMSSP_NEGOTIATE_TARGET_INFO.Set(flags)
	flags = NTLMSSP_NEGOTIATE_VERSION.Set(flags)
	cm.NegotiateFlags = flags
	cm.TargetName, _ = CreateStringPayload("DOMAIN")
	cm.ServerChallenge = mustHex(t, "0123456789abcdef")
	cm.Reserved = zeroBytes(8)

	targetInfo := new(AvPairs)
	targetInfo.AddAvPair(MsvAvNbDomainName, utf16FromString("DOMAIN"))
	targetInfo.AddAvPair(MsvAvNbComputerName, utf16FromString("SERVER"))
	cm.TargetInfoPayloadStruct, _ = CreateBytePayload(targetInfo.Bytes())
	cm.Version = DefaultVersion

	encoded := cm.Bytes()
	decoded, err := ParseChallengeMessage(encoded)
	require.NoError(t, err)

	assert.Equal(t, cm.ServerChallenge, decoded.ServerChallenge)
	assert.Equal(t, "DOMAIN", decoded.TargetName.String())
	require.NotNil(t, decoded.TargetInfo)
	assert.Equal(t, "DOMAIN", utf16ToString(decoded.TargetInfo.Find(MsvAvNbDomainName).Value))
	assert.Equal(t, encoded, decoded.Bytes())
}

func TestChallengeMessageTruncatedRejected(t *testing.T) {
	_, err := ParseChallengeMessage(make([]byte, 10))
	require.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, DecodeTruncated, ntlmErr.Code)
}

// canonicalNtlmV2AuthenticateMessage is MS-NLMP 4.2.4.3's worked NTLMv2
// AUTHENTICATE_MESSAGE (User="User", Domain="Domain", Workstation="COMPUTER",
// Password="Password", server challenge 0123456789abcdef, client challenge
// eight 0xaa bytes, zero timestamp), byte-for-byte as captured by the
// reference test vector this module's NTLMv2 key derivation is grounded on.
const canonicalNtlmV2AuthenticateMessage = "4e544c4d5353500003000000180018006c00000054005400840000000c000c00480000000800080054000000100010005c00000010001000d8000000358288e20501280a0000000f44006f006d00610069006e00550073006500720043004f004d005000550054004500520086c35097ac9cec102554764a57cccc19aaaaaaaaaaaaaaaa68cd0ab851e51c96aabc927bebef6a1c01010000000000000000000000000000aaaaaaaaaaaaaaaa0000000002000c0044006f006d00610069006e0001000c005300650072007600650072000000000000000000c5dad2544fc9799094ce1ce90bc9d03e"

// canonicalNtlmV2LmResponse and canonicalNtlmV2NtProofStr are the LMv2 and
// NTProofStr halves of the same vector, quoted separately in MS-NLMP so the
// decode can be checked against both the whole message and its parts.
const canonicalNtlmV2LmResponse = "86c35097ac9cec102554764a57cccc19"
const canonicalNtlmV2NtProofStr = "68cd0ab851e51c96aabc927bebef6a1c"
const canonicalNtlmV2EncryptedSessionKey = "c5dad2544fc9799094ce1ce90bc9d03e"

func buildV2AuthenticateMessage(t *testing.T) *AuthenticateMessage {
	t.Helper()
	am, err := ParseAuthenticateMessage(mustHex(t, canonicalNtlmV2AuthenticateMessage), 2)
	require.NoError(t, err)
	return am
}

// TestAuthenticateMessageV2RoundTrip decodes MS-NLMP's own worked NTLMv2
// AUTHENTICATE_MESSAGE and checks every field against the vector's other
// published members. This message's payload fields are physically laid out
// in a different order (Domain/User/Workstation before LM/NT responses)
// than this package's own encoder produces (LM/NT before Domain/User/
// Workstation), so re-encoding it does not reproduce these exact bytes --
// the round-trip guarantee this package gives is decode(encode(x)) == x for
// messages this package built itself (TestNegotiateMessageRoundTrip,
// TestChallengeMessageRoundTrip), not byte-identity with an externally
// produced message using a different field ordering.
func TestAuthenticateMessageV2RoundTrip(t *testing.T) {
	am := buildV2AuthenticateMessage(t)

	assert.Equal(t, "Domain", am.DomainName.String())
	assert.Equal(t, "User", am.UserName.String())
	assert.Equal(t, "COMPUTER", am.Workstation.String())
	require.NotNil(t, am.Version)
	assert.EqualValues(t, 5, am.Version.ProductMajorVersion)
	assert.EqualValues(t, 1, am.Version.ProductMinorVersion)
	assert.EqualValues(t, 2600, am.Version.ProductBuild)
	assert.EqualValues(t, 15, am.Version.NTLMRevisionCurrent)
	assert.Nil(t, am.Mic)

	require.NotNil(t, am.NtlmV2Response)
	assert.Equal(t, mustHex(t, canonicalNtlmV2NtProofStr), am.NtlmV2Response.NTProofStr)
	assert.Equal(t, mustHex(t, canonicalNtlmV2LmResponse), am.LmChallengeResponse.Payload[:16])
	assert.Equal(t, mustHex(t, "aaaaaaaaaaaaaaaa"), am.NtlmV2Response.NtlmV2ClientChallenge.ChallengeFromClient)
	assert.Equal(t, "Domain", utf16ToString(am.NtlmV2Response.NtlmV2ClientChallenge.AvPairs.Find(MsvAvNbDomainName).Value))
	assert.Equal(t, mustHex(t, canonicalNtlmV2EncryptedSessionKey), am.EncryptedRandomSessionKey.Payload)

	// a self-built message still round-trips byte-for-byte.
	self := new(AuthenticateMessage)
	self.Signature = append([]byte{}, Signature...)
	self.MessageType = MessageTypeAuthenticate
	self.NegotiateFlags = am.NegotiateFlags
	self.LmChallengeResponse, _ = CreateBytePayload(am.LmChallengeResponse.Payload)
	self.NtChallengeResponseFields, _ = CreateBytePayload(am.NtChallengeResponseFields.Payload)
	self.DomainName, _ = CreateStringPayload("Domain")
	self.UserName, _ = CreateStringPayload("User")
	self.Workstation, _ = CreateStringPayload("COMPUTER")
	self.EncryptedRandomSessionKey, _ = CreateBytePayload(am.EncryptedRandomSessionKey.Payload)
	self.Version = am.Version

	encoded := self.Bytes()
	decoded, err := ParseAuthenticateMessage(encoded, 2)
	require.NoError(t, err)
	assert.Equal(t, encoded, decoded.Bytes())
}

func TestAuthenticateMessageClientChallengeV2(t *testing.T) {
	am := buildV2AuthenticateMessage(t)
	encoded := am.Bytes()
	decoded, err := ParseAuthenticateMessage(encoded, 2)
	require.NoError(t, err)
	assert.Equal(t, mustHex(t, "aaaaaaaaaaaaaaaa"), decoded.ClientChallenge())
}

func TestAuthenticateMessageWithoutVersionOrMic(t *testing.T) {
	am := buildV2AuthenticateMessage(t)
	am.Version = nil
	am.Mic = nil
	encoded := am.Bytes()

	decoded, err := ParseAuthenticateMessage(encoded, 2)
	require.NoError(t, err)
	assert.Nil(t, decoded.Version)
	assert.Nil(t, decoded.Mic)
	assert.Equal(t, encoded, decoded.Bytes())
}
