// Copyright 2013 Thomson Reuters Global Resources. BSD License please see License file for more information

package ntlm

// NegotiateFlag is a single bit of the 32-bit NTLM negotiation flag set
// defined in MS-NLMP 2.2.2.5.
type NegotiateFlag uint32

// IsSet reports whether the flag is present in flags.
func (f NegotiateFlag) IsSet(flags uint32) bool {
	return flags&uint32(f) != 0
}

// Set returns flags with this flag turned on.
func (f NegotiateFlag) Set(flags uint32) uint32 {
	return flags | uint32(f)
}

// Unset returns flags with this flag turned off.
func (f NegotiateFlag) Unset(flags uint32) uint32 {
	return flags &^ uint32(f)
}

// The negotiation flags defined by MS-NLMP 2.2.2.5, bit position as given
// in the section name (e.g. "A" is bit 0).
const (
	NTLMSSP_NEGOTIATE_UNICODE                  NegotiateFlag = 1 << 0
	NTLMSSP_NEGOTIATE_OEM                      NegotiateFlag = 1 << 1
	NTLMSSP_REQUEST_TARGET                     NegotiateFlag = 1 << 2
	NTLMSSP_RESERVED_3                         NegotiateFlag = 1 << 3
	NTLMSSP_NEGOTIATE_SIGN                     NegotiateFlag = 1 << 4
	NTLMSSP_NEGOTIATE_SEAL                     NegotiateFlag = 1 << 5
	NTLMSSP_NEGOTIATE_DATAGRAM                 NegotiateFlag = 1 << 6
	NTLMSSP_NEGOTIATE_LM_KEY                   NegotiateFlag = 1 << 7
	NTLMSSP_RESERVED_8                         NegotiateFlag = 1 << 8
	NTLMSSP_NEGOTIATE_NTLM                     NegotiateFlag = 1 << 9
	NTLMSSP_RESERVED_10                        NegotiateFlag = 1 << 10
	NTLMSSP_NEGOTIATE_ANONYMOUS                NegotiateFlag = 1 << 11
	NTLMSSP_NEGOTIATE_OEM_DOMAIN_SUPPLIED      NegotiateFlag = 1 << 12
	NTLMSSP_NEGOTIATE_DOMAIN_SUPPLIED          NegotiateFlag = 1 << 12
	NTLMSSP_NEGOTIATE_OEM_WORKSTATION_SUPPLIED NegotiateFlag = 1 << 13
	NTLMSSP_NEGOTIATE_WORKSTATION_SUPPLIED     NegotiateFlag = 1 << 13
	NTLMSSP_RESERVED_14                        NegotiateFlag = 1 << 14
	NTLMSSP_NEGOTIATE_ALWAYS_SIGN              NegotiateFlag = 1 << 15
	NTLMSSP_TARGET_TYPE_DOMAIN                 NegotiateFlag = 1 << 16
	NTLMSSP_TARGET_TYPE_SERVER                 NegotiateFlag = 1 << 17
	NTLMSSP_RESERVED_18                        NegotiateFlag = 1 << 18
	NTLMSSP_NEGOTIATE_EXTENDED_SESSIONSECURITY NegotiateFlag = 1 << 19
	NTLMSSP_NEGOTIATE_IDENTIFY                 NegotiateFlag = 1 << 20
	NTLMSSP_RESERVED_21                        NegotiateFlag = 1 << 21
	NTLMSSP_REQUEST_NON_NT_SESSION_KEY         NegotiateFlag = 1 << 22
	NTLMSSP_NEGOTIATE_TARGET_INFO              NegotiateFlag = 1 << 23
	NTLMSSP_RESERVED_24                        NegotiateFlag = 1 << 24
	NTLMSSP_NEGOTIATE_VERSION                  NegotiateFlag = 1 << 25
	NTLMSSP_RESERVED_26                        NegotiateFlag = 1 << 26
	NTLMSSP_RESERVED_27                        NegotiateFlag = 1 << 27
	NTLMSSP_RESERVED_28                        NegotiateFlag = 1 << 28
	NTLMSSP_NEGOTIATE_128                      NegotiateFlag = 1 << 29
	NTLMSSP_NEGOTIATE_KEY_EXCH                 NegotiateFlag = 1 << 30
	NTLMSSP_NEGOTIATE_56                       NegotiateFlag = 1 << 31
)
