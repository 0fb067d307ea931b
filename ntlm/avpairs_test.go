// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvPairsRoundTrip(t *testing.T) {
	pairs := new(AvPairs)
	pairs.AddAvPair(MsvAvNbDomainName, utf16FromString("DOMAIN"))
	pairs.AddAvPair(MsvAvNbComputerName, utf16FromString("HOST"))
	pairs.AddAvPair(MsvAvTimestamp, zeroBytes(8))

	encoded := pairs.Bytes()
	decoded, err := NewAvPairs(encoded)
	require.NoError(t, err)

	assert.Equal(t, "DOMAIN", utf16ToString(decoded.Find(MsvAvNbDomainName).Value))
	assert.Equal(t, "HOST", utf16ToString(decoded.Find(MsvAvNbComputerName).Value))
	assert.NotNil(t, decoded.Find(MsvAvTimestamp))
	assert.Nil(t, decoded.Find(MsvAvFlags))
}

func TestAvPairsCanonicalOrder(t *testing.T) {
	pairs := new(AvPairs)
	pairs.AddAvPair(MsvAvTargetName, utf16FromString("target"))
	pairs.AddAvPair(MsvAvNbDomainName, utf16FromString("DOMAIN"))

	encoded := pairs.Bytes()
	decoded, err := NewAvPairs(encoded)
	require.NoError(t, err)

	// encoder must place NbDomainName ahead of TargetName regardless of
	// insertion order.
	assert.Equal(t, AvId(MsvAvNbDomainName), decoded.pairs[0].AvId)
	assert.Equal(t, AvId(MsvAvTargetName), decoded.pairs[1].AvId)
}

func TestAvPairsRejectsOverlongValue(t *testing.T) {
	buf := []byte{0x01, 0x00, 0xff, 0xff}
	_, err := NewAvPairs(buf)
	require.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, DecodeOverlongAv, ntlmErr.Code)
}

func TestAvPairsEmptyBufferIsEmptyStream(t *testing.T) {
	decoded, err := NewAvPairs(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded.Find(MsvAvNbDomainName))
}
