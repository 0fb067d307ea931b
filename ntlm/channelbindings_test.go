// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelBindingsMarshalLayout(t *testing.T) {
	cb := &ChannelBindings{
		InitiatorAddrType: 1,
		InitiatorAddress:  []byte{0x0a, 0x00, 0x00, 0x01},
		AcceptorAddrType:  1,
		AcceptorAddress:   []byte{0x0a, 0x00, 0x00, 0x02},
		ApplicationData:   []byte("tls-server-end-point:abcd"),
	}

	out := cb.Marshal()

	// initiator addrtype(4) + addrlen(4) + addr(4) + acceptor addrtype(4) +
	// addrlen(4) + addr(4) + appdatalen(4) + appdata
	expectedLen := 4 + 4 + 4 + 4 + 4 + 4 + 4 + len(cb.ApplicationData)
	assert.Len(t, out, expectedLen)
}

func TestChannelBindingsHashIsStableAndSensitive(t *testing.T) {
	cb := &ChannelBindings{ApplicationData: []byte("tls-server-end-point:abcd")}
	h1 := cb.Hash()
	h2 := cb.Hash()
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)

	other := &ChannelBindings{ApplicationData: []byte("tls-server-end-point:wxyz")}
	assert.NotEqual(t, h1, other.Hash())
}

func TestChannelBindingsEmptyIsDeterministic(t *testing.T) {
	a := &ChannelBindings{}
	b := &ChannelBindings{}
	assert.Equal(t, a.Hash(), b.Hash())
}
