// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGssWrapV2Vector reproduces the ESS+KEY_EXCH+128 wrap example: sixteen
// 0x55 ExportedSessionKey bytes, sequence 0, client-to-server direction.
func TestGssWrapV2Vector(t *testing.T) {
	esk := make([]byte, 16)
	for i := range esk {
		esk[i] = 0x55
	}
	flags := uint32(0)
	flags = NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY.Set(flags)
	flags = NTLMSSP_NEGOTIATE_KEY_EXCH.Set(flags)
	flags = NTLMSSP_NEGOTIATE_128.Set(flags)

	signingKey := signKey(flags, esk, "Client")
	sealingKey := sealKey(flags, esk, "Client")
	handle, err := rc4Init(sealingKey)
	require.NoError(t, err)

	plaintext := []byte{0x50, 0x00, 0x6c, 0x00, 0x61, 0x00, 0x69, 0x00, 0x6e, 0x00, 0x74, 0x00, 0x65, 0x00, 0x78, 0x00, 0x74, 0x00}

	sealed, err := sealMessage(flags, handle, signingKey, 0, plaintext)
	require.NoError(t, err)

	expectedCiphertext := []byte{0x54, 0xe5, 0x01, 0x65, 0xbf, 0x19, 0x36, 0xdc, 0x99, 0x60, 0x20, 0xc1, 0x81, 0x1b, 0x0f, 0x06, 0xfb, 0x5f}
	expectedSignature := []byte{0x01, 0x00, 0x00, 0x00, 0x7f, 0xb3, 0x8e, 0xc5, 0xc5, 0x5d, 0x49, 0x76, 0x00, 0x00, 0x00, 0x00}

	assert.Equal(t, expectedCiphertext, sealed[:len(sealed)-16])
	assert.Equal(t, expectedSignature, sealed[len(sealed)-16:])
}

func newTestSessionPair(t *testing.T) (*SessionData, *SessionData) {
	t.Helper()
	esk := randomBytes(16)
	flags := uint32(0)
	flags = NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY.Set(flags)
	flags = NTLMSSP_NEGOTIATE_KEY_EXCH.Set(flags)
	flags = NTLMSSP_NEGOTIATE_128.Set(flags)
	flags = NTLMSSP_NEGOTIATE_SIGN.Set(flags)

	client := &SessionData{NegotiateFlags: flags}
	server := &SessionData{NegotiateFlags: flags}

	client.ClientSigningKey = signKey(flags, esk, "Client")
	client.ServerSigningKey = signKey(flags, esk, "Server")
	client.ClientSealingKey = sealKey(flags, esk, "Client")
	client.ServerSealingKey = sealKey(flags, esk, "Server")
	server.ClientSigningKey = client.ClientSigningKey
	server.ServerSigningKey = client.ServerSigningKey
	server.ClientSealingKey = client.ClientSealingKey
	server.ServerSealingKey = client.ServerSealingKey

	var err error
	client.clientHandle, err = rc4Init(client.ClientSealingKey)
	require.NoError(t, err)
	client.serverHandle, err = rc4Init(client.ServerSealingKey)
	require.NoError(t, err)
	server.clientHandle, err = rc4Init(server.ClientSealingKey)
	require.NoError(t, err)
	server.serverHandle, err = rc4Init(server.ServerSealingKey)
	require.NoError(t, err)

	return client, server
}

func TestUnsealWrapIsIdentityAndAdvancesSequence(t *testing.T) {
	client, server := newTestSessionPair(t)

	plaintext := []byte("hello from the client")
	sealed, err := sealAsInitiator(client, plaintext)
	require.NoError(t, err)

	recovered, err := unsealAsAcceptor(server, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)

	assert.EqualValues(t, 1, client.sendSeq)
	assert.EqualValues(t, 1, server.recvSeq)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	client, server := newTestSessionPair(t)

	message := []byte("sign only, no seal")
	sig := signAsInitiator(client, message)

	ok, err := verifyAsAcceptor(server, message, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifySignatureFailsOnTamperedMessage(t *testing.T) {
	client, server := newTestSessionPair(t)

	message := []byte("sign only, no seal")
	sig := signAsInitiator(client, message)

	tampered := append([]byte{}, message...)
	tampered[0] ^= 0xFF

	_, err := verifyAsAcceptor(server, tampered, sig)
	assert.Error(t, err)
}

func TestVerifySignatureFailsOnWrongSequence(t *testing.T) {
	client, server := newTestSessionPair(t)

	message := []byte("message one")
	_ = signAsInitiator(client, message) // advances client.sendSeq to 1, consumed but unused here

	secondMessage := []byte("message two")
	secondSig := signAsInitiator(client, secondMessage)

	// server is still expecting seq 0; this signature claims seq 1.
	ok, err := verifyAsAcceptor(server, secondMessage, secondSig)
	assert.False(t, ok)
	assert.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, OutOfSequence, ntlmErr.Code)
}

func TestMaybeRekeyReplacesHandleAfterThreshold(t *testing.T) {
	flags := uint32(0)
	flags = NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY.Set(flags)
	flags = NTLMSSP_NEGOTIATE_KEY_EXCH.Set(flags)

	sealingKey := make([]byte, 16)
	handle, err := rc4Init(sealingKey)
	require.NoError(t, err)
	original := handle

	var bytesSealed uint64 = rekeyThreshold - 1
	err = maybeRekey(flags, &handle, sealingKey, &bytesSealed, 0, 2)
	require.NoError(t, err)

	assert.NotSame(t, original, handle)
	assert.EqualValues(t, 0, bytesSealed)
}

func TestMaybeRekeyNoopWithoutEssKeyExch(t *testing.T) {
	sealingKey := make([]byte, 16)
	handle, err := rc4Init(sealingKey)
	require.NoError(t, err)
	original := handle

	var bytesSealed uint64
	err = maybeRekey(0, &handle, sealingKey, &bytesSealed, 0, rekeyThreshold)
	require.NoError(t, err)
	assert.Same(t, original, handle)
}
