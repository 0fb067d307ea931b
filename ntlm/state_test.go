// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertUnexpectedState(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var ntlmErr *Error
	require.ErrorAs(t, err, &ntlmErr)
	assert.Equal(t, UnexpectedState, ntlmErr.Code)
}

func TestV2ClientSessionRejectsOutOfOrderCalls(t *testing.T) {
	client := new(V2ClientSession)
	client.SetMode(ConnectionOrientedMode)

	// a challenge can't be processed before a negotiate message was sent.
	err := client.ProcessChallengeMessage(new(ChallengeMessage))
	assertUnexpectedState(t, err)

	// can't generate the authenticate message before negotiating at all.
	_, err = client.GenerateAuthenticateMessage()
	assertUnexpectedState(t, err)

	_, err = client.GenerateNegotiateMessage()
	require.NoError(t, err)

	// calling it twice is also out of order.
	_, err = client.GenerateNegotiateMessage()
	assertUnexpectedState(t, err)
}

func TestV2ServerSessionRejectsOutOfOrderCalls(t *testing.T) {
	server := new(V2ServerSession)
	server.SetMode(ConnectionOrientedMode)

	_, err := server.GenerateChallengeMessage()
	assertUnexpectedState(t, err)

	err = server.ProcessAuthenticateMessage(new(AuthenticateMessage))
	assertUnexpectedState(t, err)

	err = server.ProcessNegotiateMessage(new(NegotiateMessage))
	require.NoError(t, err)

	_, err = server.GenerateChallengeMessage()
	require.NoError(t, err)

	// a second negotiate message after the challenge has gone out is
	// out of order.
	err = server.ProcessNegotiateMessage(new(NegotiateMessage))
	assertUnexpectedState(t, err)
}

func TestV1ClientSessionRejectsOutOfOrderCalls(t *testing.T) {
	client := new(V1ClientSession)
	client.SetMode(ConnectionOrientedMode)

	_, err := client.GenerateAuthenticateMessage()
	assertUnexpectedState(t, err)

	_, err = client.GenerateNegotiateMessage()
	require.NoError(t, err)
	_, err = client.GenerateNegotiateMessage()
	assertUnexpectedState(t, err)
}
