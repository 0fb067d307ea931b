// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildExportableSession(t *testing.T) *SessionData {
	t.Helper()
	n := &SessionData{}
	n.NegotiateFlags = NTLMSSP_NEGOTIATE_KEY_EXCH.Set(0)
	n.exportedSessionKey = randomBytes(16)
	n.ClientSigningKey = randomBytes(16)
	n.ServerSigningKey = randomBytes(16)
	n.ClientSealingKey = randomBytes(16)
	n.ServerSealingKey = randomBytes(16)
	n.sendSeq = 3
	n.recvSeq = 5
	n.sendBytesSealed = 1024
	n.recvBytesSealed = 2048
	n.channelBindings = randomBytes(16)

	var err error
	n.clientHandle, err = rc4Init(n.ClientSealingKey)
	require.NoError(t, err)
	n.serverHandle, err = rc4Init(n.ServerSealingKey)
	require.NoError(t, err)
	return n
}

func TestContextTokenExportImportRoundTrip(t *testing.T) {
	original := buildExportableSession(t)
	ct := ExportContextToken(original)

	restored := &SessionData{}
	require.NoError(t, ImportContextToken(restored, ct))

	assert.Equal(t, original.NegotiateFlags, restored.NegotiateFlags)
	assert.Equal(t, original.exportedSessionKey, restored.exportedSessionKey)
	assert.Equal(t, original.ClientSigningKey, restored.ClientSigningKey)
	assert.Equal(t, original.ServerSigningKey, restored.ServerSigningKey)
	assert.Equal(t, original.ClientSealingKey, restored.ClientSealingKey)
	assert.Equal(t, original.ServerSealingKey, restored.ServerSealingKey)
	assert.Equal(t, original.sendSeq, restored.sendSeq)
	assert.Equal(t, original.recvSeq, restored.recvSeq)
	assert.Equal(t, original.sendBytesSealed, restored.sendBytesSealed)
	assert.Equal(t, original.recvBytesSealed, restored.recvBytesSealed)
	assert.Equal(t, original.channelBindings, restored.channelBindings)

	// restored handles must produce the same keystream as the originals,
	// i.e. resuming from the export is indistinguishable from continuing
	// the live session.
	plain := []byte("resume after export")
	want := make([]byte, len(plain))
	original.clientHandle.XORKeyStream(want, plain)

	got := make([]byte, len(plain))
	restored.clientHandle.XORKeyStream(got, plain)
	assert.Equal(t, want, got)
}

func TestContextTokenMarshalRoundTrip(t *testing.T) {
	n := buildExportableSession(t)
	ct := ExportContextToken(n)

	encoded := ct.Marshal()
	decoded, err := UnmarshalContextToken(encoded)
	require.NoError(t, err)

	assert.Equal(t, ct.Version, decoded.Version)
	assert.Equal(t, ct.NegotiateFlags, decoded.NegotiateFlags)
	assert.Equal(t, ct.ExportedSessionKey, decoded.ExportedSessionKey)
	assert.Equal(t, ct.ClientSigningKey, decoded.ClientSigningKey)
	assert.Equal(t, ct.ServerSigningKey, decoded.ServerSigningKey)
	assert.Equal(t, ct.ClientSealingKey, decoded.ClientSealingKey)
	assert.Equal(t, ct.ServerSealingKey, decoded.ServerSealingKey)
	assert.Equal(t, ct.SendSeq, decoded.SendSeq)
	assert.Equal(t, ct.RecvSeq, decoded.RecvSeq)
	assert.Equal(t, ct.SendBytesSealed, decoded.SendBytesSealed)
	assert.Equal(t, ct.RecvBytesSealed, decoded.RecvBytesSealed)
	assert.Equal(t, ct.ChannelBindingsHash, decoded.ChannelBindingsHash)
	require.NotNil(t, decoded.ClientHandle)
	require.NotNil(t, decoded.ServerHandle)
	assert.Equal(t, ct.ClientHandle.Marshal(), decoded.ClientHandle.Marshal())
	assert.Equal(t, ct.ServerHandle.Marshal(), decoded.ServerHandle.Marshal())
}

func TestContextTokenMarshalWithoutRC4State(t *testing.T) {
	ct := &ContextToken{
		Version:        contextTokenVersion,
		NegotiateFlags: 0,
	}
	encoded := ct.Marshal()
	decoded, err := UnmarshalContextToken(encoded)
	require.NoError(t, err)
	assert.Nil(t, decoded.ClientHandle)
	assert.Nil(t, decoded.ServerHandle)
}

func TestImportContextTokenRejectsUnknownVersion(t *testing.T) {
	ct := &ContextToken{Version: 99}
	err := ImportContextToken(&SessionData{}, ct)
	require.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, ConfigError, ntlmErr.Code)
}

func TestUnmarshalContextTokenRejectsTruncatedBuffer(t *testing.T) {
	n := buildExportableSession(t)
	ct := ExportContextToken(n)
	encoded := ct.Marshal()

	_, err := UnmarshalContextToken(encoded[:len(encoded)-1])
	require.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, DecodeTruncated, ntlmErr.Code)
}
