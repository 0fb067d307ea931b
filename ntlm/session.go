// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

import (
	"encoding/binary"
)

// negotiationState tracks where a session sits in the Start -> Negotiate ->
// Challenge -> Authenticate -> Established progression, so that calling a
// generate/process method out of order reports UNEXPECTED_STATE instead of
// silently deriving keys from zero-value fields.
type negotiationState int

const (
	stateStart negotiationState = iota
	stateNegotiateSent
	stateChallengeReceived
	stateEstablished
)

// Mode distinguishes connection-oriented NTLM (sequence numbers implied by
// transport order) from connectionless/datagram NTLM, where the caller
// supplies the sequence number for every message (MS-NLMP 3.4.4, "GSS_C_DATAGRAM_FLAG").
type Mode int

const (
	ConnectionOrientedMode Mode = iota
	ConnectionlessMode
)

// Version picks which NTLM wire protocol a session speaks.
type Version int

const (
	Version1 Version = iota
	Version2
)

// rekeyThreshold is the number of bytes sealed on one direction before the
// RC4 state is rekeyed, per MS-NLMP 3.4.4.2.
const rekeyThreshold = 1 << 30

// SessionData is the state shared by every NTLM session, client or server,
// v1 or v2. Individual fields are populated as the conversation progresses
// through negotiate/challenge/authenticate.
type SessionData struct {
	mode  Mode
	state negotiationState

	user        string
	password    string
	userDomain  string
	workstation string

	NegotiateFlags uint32

	responseKeyLM []byte
	responseKeyNT []byte

	serverChallenge []byte
	clientChallenge []byte

	ntChallengeResponse []byte
	lmChallengeResponse []byte

	sessionBaseKey           []byte
	keyExchangeKey           []byte
	encryptedRandomSessionKey []byte
	exportedSessionKey       []byte

	ClientSigningKey []byte
	ServerSigningKey []byte
	ClientSealingKey []byte
	ServerSealingKey []byte

	clientHandle *RC4State
	serverHandle *RC4State

	negotiateMessage    *NegotiateMessage
	challengeMessage    *ChallengeMessage
	authenticateMessage *AuthenticateMessage

	mic []byte

	sendSeq uint32
	recvSeq uint32

	sendBytesSealed uint64
	recvBytesSealed uint64

	channelBindings []byte
}

// computeMessageIntegrityCode implements the MIC formula from MS-NLMP
// 3.2.5.1.2: HMAC-MD5(ExportedSessionKey, concat(NEGOTIATE_MESSAGE,
// CHALLENGE_MESSAGE, AUTHENTICATE_MESSAGE)) with the AUTHENTICATE_MESSAGE's
// own MIC field zeroed while it is encoded. This is the anti-downgrade
// check: it binds all three messages together under a key only the two
// parties that completed the exchange know.
func computeMessageIntegrityCode(exportedSessionKey []byte, nm *NegotiateMessage, cm *ChallengeMessage, am *AuthenticateMessage) []byte {
	saved := am.Mic
	am.Mic = zeroBytes(16)
	sum := hmacMd5(exportedSessionKey, concat(nm.Bytes(), cm.Bytes(), am.Bytes()))
	am.Mic = saved
	return sum
}

// requireState returns UNEXPECTED_STATE unless the session is currently in
// one of want.
func (n *SessionData) requireState(operation string, want ...negotiationState) error {
	for _, s := range want {
		if n.state == s {
			return nil
		}
	}
	return newErrorf(UnexpectedState, "%s called in unexpected state", operation)
}

// SetSequenceNumber forces both directions' sequence counters to seq. Used
// for connectionless mode where the caller tracks sequencing externally
// (the SET_SEQ_NUM context option).
func (n *SessionData) SetSequenceNumber(seq uint32) {
	n.sendSeq = seq
	n.recvSeq = seq
}

// SetChannelBindings stores raw as the session's channel-bindings value,
// which ExportContextToken carries as ChannelBindingsHash. The bytes are kept
// as given: this method does not hash them, and no generated message
// includes them.
func (n *SessionData) SetChannelBindings(raw []byte) {
	n.channelBindings = raw
}

// Mic returns the MIC field as received (server) or as generated (client).
func (n *SessionData) Mic() []byte {
	return n.mic
}

// Session is the common surface every NTLM session (v1 or v2, client or
// server) exposes once keys have been derived.
type Session interface {
	SetUserInfo(username, password, domain, workstation string)
	GetUserInfo() (string, string, string, string)
	SetMode(mode Mode)
	Version() int
	GetSessionData() *SessionData

	Seal(message []byte) ([]byte, error)
	Unseal(sealed []byte) ([]byte, error)
	Sign(message []byte) ([]byte, error)
	VerifySignature(message, expectedMic []byte) (bool, error)

	Mac(message []byte, sequenceNumber int) ([]byte, error)
	VerifyMac(message, expectedMac []byte, sequenceNumber int) (bool, error)
}

// ClientSession is the initiator role of the NTLM negotiation state machine.
type ClientSession interface {
	Session
	GenerateNegotiateMessage() (*NegotiateMessage, error)
	ProcessChallengeMessage(cm *ChallengeMessage) error
	GenerateAuthenticateMessage() (*AuthenticateMessage, error)
}

// ServerSession is the acceptor role of the NTLM negotiation state machine.
type ServerSession interface {
	Session
	SetServerChallenge(challenge []byte)
	ProcessNegotiateMessage(nm *NegotiateMessage) error
	GenerateChallengeMessage() (*ChallengeMessage, error)
	ProcessAuthenticateMessage(am *AuthenticateMessage) error
}

// CreateClientSession creates a new initiator session for the given NTLM
// version and connection mode.
func CreateClientSession(version Version, mode Mode) (ClientSession, error) {
	switch version {
	case Version1:
		s := new(V1ClientSession)
		s.SetMode(mode)
		return s, nil
	case Version2:
		s := new(V2ClientSession)
		s.SetMode(mode)
		return s, nil
	default:
		return nil, newError(ConfigError, "unknown ntlm version")
	}
}

// CreateServerSession creates a new acceptor session for the given NTLM
// version and connection mode.
func CreateServerSession(version Version, mode Mode) (ServerSession, error) {
	switch version {
	case Version1:
		s := new(V1ServerSession)
		s.SetMode(mode)
		return s, nil
	case Version2:
		s := new(V2ServerSession)
		s.SetMode(mode)
		return s, nil
	default:
		return nil, newError(ConfigError, "unknown ntlm version")
	}
}

/****************************
 Key exchange, sign, seal key derivation
*****************************/

const (
	clientSigningMagic = "session key to client-to-server signing key magic constant\x00"
	serverSigningMagic = "session key to server-to-client signing key magic constant\x00"
	clientSealingMagic = "session key to client-to-server sealing key magic constant\x00"
	serverSealingMagic = "session key to server-to-client sealing key magic constant\x00"
)

// signKey derives SIGNKEY for the given direction ("Client" means the key
// used to sign client-to-server messages).
func signKey(flags uint32, exportedSessionKey []byte, whichSide string) []byte {
	magic := []byte(serverSigningMagic)
	if whichSide == "Client" {
		magic = []byte(clientSigningMagic)
	}
	return md5(concat(exportedSessionKey, magic))
}

// sealKey derives SEALKEY for the given direction, branching on the
// negotiated key size exactly as MS-NLMP 3.4.5.3 describes.
func sealKey(flags uint32, exportedSessionKey []byte, whichSide string) []byte {
	magic := []byte(serverSealingMagic)
	if whichSide == "Client" {
		magic = []byte(clientSealingMagic)
	}

	switch {
	case NTLMSSP_NEGOTIATE_128.IsSet(flags):
		return md5(concat(exportedSessionKey, magic))
	case NTLMSSP_NEGOTIATE_56.IsSet(flags):
		return md5(concat(zeroPaddedBytes(exportedSessionKey, 0, 7), []byte{0xe5, 0x38, 0xb0}, magic))
	default:
		return md5(concat(zeroPaddedBytes(exportedSessionKey, 0, 5), []byte{0xe5, 0x38, 0xb0}, magic))
	}
}

// kxKey computes the KeyExchangeKey for the non-extended-session-security
// branches of MS-NLMP 3.4.5.1. The ExtendedSessionSecurity branch is
// computed inline by the v1/v2 session code, since it needs the server
// challenge and LM response in a way that doesn't fit this signature.
//
// The LmKey branch follows MS-NLMP verbatim: it is exercised only by legacy
// interop, not by any test vector, and must not be "improved".
func kxKey(flags uint32, sessionBaseKey, lmChallengeResponse, serverChallenge, responseKeyLM []byte) ([]byte, error) {
	_ = serverChallenge
	switch {
	case NTLMSSP_NEGOTIATE_LM_KEY.IsSet(flags):
		lmowf := zeroPaddedBytes(responseKeyLM, 0, 8)
		first, err := des(lmowf[0:7], lmChallengeResponse[0:8])
		if err != nil {
			return nil, err
		}
		secondKey := concat(lmowf[7:8], []byte{0xBD, 0xBD, 0xBD, 0xBD, 0xBD, 0xBD})
		second, err := des(secondKey, lmChallengeResponse[0:8])
		if err != nil {
			return nil, err
		}
		return concat(first, second), nil
	case NTLMSSP_REQUEST_NON_NT_SESSION_KEY.IsSet(flags):
		return concat(zeroPaddedBytes(responseKeyLM, 0, 8), zeroBytes(8)), nil
	default:
		return sessionBaseKey, nil
	}
}

/****************************
 Message signature (get_mic / sign)
*****************************/

// signature is the 16-byte NTLMSSP_MESSAGE_SIGNATURE structure: a 4-byte
// version followed by a 12-byte body (checksum+seqnum for ESS, or
// pad+checksum+seqnum, RC4-protected as a whole, for pre-ESS NTLMv1).
type signature struct {
	version uint32
	body    []byte
}

func (s *signature) Bytes() []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, s.version)
	return append(out, s.body...)
}

// mac computes the per-message signature for the given direction. handle
// may be nil only when confidentiality (NEGOTIATE_KEY_EXCH) was not
// negotiated and message is being signed, not sealed.
func mac(flags uint32, handle *RC4State, signingKey []byte, sequenceNumber uint32, message []byte) *signature {
	if NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY.IsSet(flags) {
		return macV2(flags, handle, signingKey, sequenceNumber, message)
	}
	return macV1(handle, sequenceNumber, message)
}

func macV2(flags uint32, handle *RC4State, signingKey []byte, seq uint32, message []byte) *signature {
	seqBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(seqBytes, seq)

	checksum := hmacMd5(signingKey, concat(seqBytes, message))[0:8]
	if NTLMSSP_NEGOTIATE_KEY_EXCH.IsSet(flags) && handle != nil {
		enc := make([]byte, 8)
		handle.XORKeyStream(enc, checksum)
		checksum = enc
	}
	return &signature{version: 1, body: concat(checksum, seqBytes)}
}

// macV1 implements the pre-ESS NTLMv1 signature: RandomPad || CRC32(message)
// || SeqNum, RC4-encrypted as one 12-byte block using the direction's
// sealing handle. The pad is sent as zero bytes -- the receiver discards it
// regardless of its value, as MS-NLMP permits.
func macV1(handle *RC4State, seq uint32, message []byte) *signature {
	seqBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(seqBytes, seq)

	plain := concat(zeroBytes(4), crc32IEEE(message), seqBytes)
	body := plain
	if handle != nil {
		body = make([]byte, len(plain))
		handle.XORKeyStream(body, plain)
	}
	return &signature{version: 1, body: body}
}

func sequenceFromSignature(sig []byte) uint32 {
	if len(sig) < 16 {
		return 0
	}
	return binary.LittleEndian.Uint32(sig[12:16])
}

/****************************
 Wrap / Unwrap (confidentiality + integrity)
*****************************/

// sealMessage encrypts message with handle (advancing its RC4 state) and
// appends the signature computed over the plaintext, continuing the same
// RC4 state for the ESS+KEY_EXCH checksum encryption.
func sealMessage(flags uint32, handle *RC4State, signingKey []byte, seq uint32, message []byte) ([]byte, error) {
	if handle == nil {
		return nil, newError(ConfigError, "sealing requires a negotiated sealing key")
	}
	ciphertext := make([]byte, len(message))
	handle.XORKeyStream(ciphertext, message)
	sig := mac(flags, handle, signingKey, seq, message)
	return concat(ciphertext, sig.Bytes()), nil
}

// unsealMessage reverses sealMessage: it decrypts first, then verifies the
// signature over the recovered plaintext using the same (now further
// advanced) RC4 state.
func unsealMessage(flags uint32, handle *RC4State, signingKey []byte, seq uint32, sealed []byte) ([]byte, error) {
	if handle == nil {
		return nil, newError(ConfigError, "unsealing requires a negotiated sealing key")
	}
	if len(sealed) < 16 {
		return nil, newError(DecodeTruncated, "sealed message shorter than signature")
	}
	ciphertext := sealed[:len(sealed)-16]
	sigBytes := sealed[len(sealed)-16:]

	plaintext := make([]byte, len(ciphertext))
	handle.XORKeyStream(plaintext, ciphertext)

	expected := mac(flags, handle, signingKey, seq, plaintext)
	if MacsEqual(expected.Bytes(), sigBytes) {
		return plaintext, nil
	}
	if sequenceFromSignature(sigBytes) != seq {
		return nil, newError(OutOfSequence, "received sequence number does not match expected")
	}
	return nil, newError(BadSignature, "signature verification failed")
}

// signMessage computes a get_mic-style signature without sealing the
// message body.
func signMessage(flags uint32, handle *RC4State, signingKey []byte, seq uint32, message []byte) []byte {
	sig := mac(flags, handle, signingKey, seq, message)
	return sig.Bytes()
}

func verifySignatureMessage(flags uint32, handle *RC4State, signingKey []byte, seq uint32, message, expected []byte) (bool, error) {
	sig := mac(flags, handle, signingKey, seq, message)
	if MacsEqual(sig.Bytes(), expected) {
		return true, nil
	}
	if sequenceFromSignature(expected) != seq {
		return false, newError(OutOfSequence, "received sequence number does not match expected")
	}
	return false, newError(BadSignature, "signature verification failed")
}

// sealAsInitiator seals a message the client-to-server direction, advancing
// the client send sequence number and rekeying if required.
func sealAsInitiator(n *SessionData, message []byte) ([]byte, error) {
	out, err := sealMessage(n.NegotiateFlags, n.clientHandle, n.ClientSigningKey, n.sendSeq, message)
	if err != nil {
		return nil, err
	}
	if err := maybeRekey(n.NegotiateFlags, &n.clientHandle, n.ClientSealingKey, &n.sendBytesSealed, n.sendSeq, len(message)); err != nil {
		return nil, err
	}
	n.sendSeq++
	return out, nil
}

// unsealAsInitiator unseals a message received in the server-to-client
// direction, advancing the client receive sequence number.
func unsealAsInitiator(n *SessionData, sealed []byte) ([]byte, error) {
	out, err := unsealMessage(n.NegotiateFlags, n.serverHandle, n.ServerSigningKey, n.recvSeq, sealed)
	if err != nil {
		return nil, err
	}
	if err := maybeRekey(n.NegotiateFlags, &n.serverHandle, n.ServerSealingKey, &n.recvBytesSealed, n.recvSeq, len(out)); err != nil {
		return nil, err
	}
	n.recvSeq++
	return out, nil
}

func signAsInitiator(n *SessionData, message []byte) []byte {
	sig := signMessage(n.NegotiateFlags, n.clientHandle, n.ClientSigningKey, n.sendSeq, message)
	n.sendSeq++
	return sig
}

func verifyAsInitiator(n *SessionData, message, expected []byte) (bool, error) {
	ok, err := verifySignatureMessage(n.NegotiateFlags, n.serverHandle, n.ServerSigningKey, n.recvSeq, message, expected)
	n.recvSeq++
	return ok, err
}

// sealAsAcceptor is the server-side mirror of sealAsInitiator: it seals in
// the server-to-client direction.
func sealAsAcceptor(n *SessionData, message []byte) ([]byte, error) {
	out, err := sealMessage(n.NegotiateFlags, n.serverHandle, n.ServerSigningKey, n.sendSeq, message)
	if err != nil {
		return nil, err
	}
	if err := maybeRekey(n.NegotiateFlags, &n.serverHandle, n.ServerSealingKey, &n.sendBytesSealed, n.sendSeq, len(message)); err != nil {
		return nil, err
	}
	n.sendSeq++
	return out, nil
}

func unsealAsAcceptor(n *SessionData, sealed []byte) ([]byte, error) {
	out, err := unsealMessage(n.NegotiateFlags, n.clientHandle, n.ClientSigningKey, n.recvSeq, sealed)
	if err != nil {
		return nil, err
	}
	if err := maybeRekey(n.NegotiateFlags, &n.clientHandle, n.ClientSealingKey, &n.recvBytesSealed, n.recvSeq, len(out)); err != nil {
		return nil, err
	}
	n.recvSeq++
	return out, nil
}

func signAsAcceptor(n *SessionData, message []byte) []byte {
	sig := signMessage(n.NegotiateFlags, n.serverHandle, n.ServerSigningKey, n.sendSeq, message)
	n.sendSeq++
	return sig
}

func verifyAsAcceptor(n *SessionData, message, expected []byte) (bool, error) {
	ok, err := verifySignatureMessage(n.NegotiateFlags, n.clientHandle, n.ClientSigningKey, n.recvSeq, message, expected)
	n.recvSeq++
	return ok, err
}

// maybeRekey implements the MS-NLMP 3.4.4.2 rekeying rule: after every 2^30
// bytes sealed on one direction with ESS+KEY_EXCH negotiated, the RC4
// state is replaced with one seeded by MD5(sealKey || seqNum).
func maybeRekey(flags uint32, handle **RC4State, sealKeyBytes []byte, bytesSealed *uint64, seq uint32, n int) error {
	if !NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY.IsSet(flags) || !NTLMSSP_NEGOTIATE_KEY_EXCH.IsSet(flags) {
		return nil
	}
	*bytesSealed += uint64(n)
	if *bytesSealed < rekeyThreshold {
		return nil
	}
	*bytesSealed = 0
	seqBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(seqBytes, seq)
	newKey := md5(concat(sealKeyBytes, seqBytes))
	newHandle, err := rc4Init(newKey)
	if err != nil {
		return err
	}
	*handle = newHandle
	return nil
}
