// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import "fmt"

// Code is a minor error code from the NTLM core's error taxonomy. Callers
// that sit on top of a GSS-style dispatch layer map these to the
// corresponding major status (COMPLETE, CONTINUE_NEEDED, FAILURE,
// DEFECTIVE_TOKEN, BAD_SIG, NO_CRED, CREDENTIALS_EXPIRED).
type Code int

const (
	// Input/parse
	DecodeBadHeader Code = iota
	DecodeBadOffset
	DecodeTruncated
	DecodeBadFlagCombo
	DecodeOverlongAv
	AuthNoUser

	// Protocol/semantic
	UnexpectedState
	OutOfSequence
	BadSignature
	MicMismatch
	CbMismatch
	ResponseMismatch

	// Crypto
	CryptoInternal

	// Configuration
	ConfigError
	NoCredentials
	CredentialExpired

	// Resource
	OutOfMemory
)

var codeNames = map[Code]string{
	DecodeBadHeader:    "DECODE_BAD_HEADER",
	DecodeBadOffset:    "DECODE_BAD_OFFSET",
	DecodeTruncated:    "DECODE_TRUNCATED",
	DecodeBadFlagCombo: "DECODE_BAD_FLAG_COMBO",
	DecodeOverlongAv:   "DECODE_OVERLONG_AV",
	AuthNoUser:         "AUTH_NO_USER",
	UnexpectedState:    "UNEXPECTED_STATE",
	OutOfSequence:      "OUT_OF_SEQUENCE",
	BadSignature:       "BAD_SIGNATURE",
	MicMismatch:        "MIC_MISMATCH",
	CbMismatch:         "CB_MISMATCH",
	ResponseMismatch:   "RESPONSE_MISMATCH",
	CryptoInternal:     "CRYPTO_INTERNAL",
	ConfigError:        "CONFIG_ERROR",
	NoCredentials:      "NO_CREDENTIALS",
	CredentialExpired:  "CREDENTIAL_EXPIRED",
	OutOfMemory:        "OUT_OF_MEMORY",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the core's error type: a minor code plus a human-readable
// message. It never carries GSS major-status information -- that mapping
// belongs to the dispatch layer this core is embedded in.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ntlm: %s: %s", e.Code, e.Message)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newErrorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewConfigError builds a CONFIG_ERROR for callers outside this package
// (the userfile config loader) that need to report malformed environment
// configuration using the same error taxonomy as the core.
func NewConfigError(message string) *Error {
	return newError(ConfigError, message)
}
