// Package cipherkind models the OpenSSH packet-framing rule as data: a
// static table of per-cipher/MAC framing parameters plus a pure function
// that turns a plaintext payload length into the TCP-visible encrypted
// length. Adding a cipher is a table edit, never new control flow.
package cipherkind

import (
	"crypto/aes"

	"golang.org/x/crypto/chacha20poly1305"
)

// Flags describes structural properties of a cipher/MAC combination that
// affect framing beyond block size and tag length.
type Flags uint8

const (
	// FlagAEAD marks an AEAD cipher (chacha20-poly1305, *-gcm): the 4-byte
	// packet-length field is authenticated-but-unencrypted associated
	// data (aadlen=4) and no separate MAC follows.
	FlagAEAD Flags = 1 << iota
	// FlagEtM marks an Encrypt-then-MAC construction: like AEAD, the
	// length field is sent in the clear (aadlen=4), but the MAC is a
	// distinct trailing tag rather than part of cipher authentication.
	FlagEtM
)

// Kind is one entry in the static cipher/MAC framing table.
type Kind struct {
	Name      string
	BlockSize int // cipher block size in bytes (stream ciphers behave as block size 8 per RFC 4253 minimum padding unit)
	AuthLen   int // trailing authentication tag or MAC length in bytes
	Flags     Flags
}

// aeadAuthLen mirrors the tag lengths of the AEAD constructions OpenSSH
// supports. chacha20poly1305.Overhead and the GCM standard tag size are
// both 16 bytes, so this reads the real constant rather than re-declaring
// the magic number.
const aeadAuthLen = chacha20poly1305.Overhead

// hmacLen maps a MAC algorithm name to its output length in bytes; used
// for the "aes*-ctr + any HMAC" family, classic and EtM alike, where the
// MAC is appended as a trailer, i.e. AuthLen covers it directly.
var hmacLen = map[string]int{
	"hmac-sha1":     20,
	"hmac-sha1-96":  12,
	"hmac-sha2-256": 32,
	"hmac-sha2-512": 64,
	"hmac-md5":      16,
	"hmac-sha2-256-etm@openssh.com": 32,
	"hmac-sha2-512-etm@openssh.com": 64,
	"hmac-sha1-etm@openssh.com":     20,
}

// Table is the static per-cipher framing table named in spec.md §4.4/§9.
// BlockSize for chacha20-poly1305 is 8 (RFC 4253's minimum padding unit;
// the cipher itself is a stream cipher with no block alignment
// requirement of its own).
var Table = map[string]Kind{
	"chacha20-poly1305@openssh.com": {
		Name: "chacha20-poly1305@openssh.com", BlockSize: 8, AuthLen: aeadAuthLen, Flags: FlagAEAD,
	},
	"aes128-gcm@openssh.com": {
		Name: "aes128-gcm@openssh.com", BlockSize: aes.BlockSize, AuthLen: aeadAuthLen, Flags: FlagAEAD,
	},
	"aes256-gcm@openssh.com": {
		Name: "aes256-gcm@openssh.com", BlockSize: aes.BlockSize, AuthLen: aeadAuthLen, Flags: FlagAEAD,
	},
}

// EtMMAC returns a Kind for an "aes*-ctr" family cipher paired with the
// named MAC, synthesizing the AuthLen/Flags from the MAC table. Used
// when KEXINIT negotiates a CTR cipher with a *-etm@openssh.com MAC
// (length field unencrypted) or a classic (non-EtM) MAC (length field
// encrypted, aadlen=0 at the framing-formula level — see FramedSize).
func EtMMAC(cipherName, macName string) (Kind, bool) {
	n, ok := hmacLen[macName]
	if !ok {
		return Kind{}, false
	}
	k := Kind{Name: cipherName + "/" + macName, BlockSize: aes.BlockSize, AuthLen: n}
	etm := len(macName) > len("-etm@openssh.com") && macName[len(macName)-len("-etm@openssh.com"):] == "-etm@openssh.com"
	if etm {
		k.Flags = FlagEtM
	}
	return k, true
}

// FramedSize computes the TCP-visible encrypted length of an SSH packet
// whose plaintext payload (the SSH_MSG_* type byte plus its body, not
// counting the 4-byte packet-length field or the 1-byte padding-length
// field) is payloadLen bytes, per RFC 4253 §6 framing:
//
//	plaintext = pkt_len(4) + pad_len(1) + payload + padding
//	len(plaintext excluding pkt_len field) is padded to a multiple of
//	blockSize, with a minimum of 4 bytes of padding.
//	aadlen=4 for AEAD and EtM (the length field itself is not encrypted
//	but is authenticated); aadlen=0 otherwise (the length field is
//	encrypted along with everything else, so it counts toward the
//	padded region instead of being added back separately).
//	tcp_len = 4 + (payload+padding) + authLen
func FramedSize(payloadLen, blockSize, authLen int, flags Flags) int {
	if blockSize <= 0 {
		blockSize = 8
	}
	aead := flags&FlagAEAD != 0 || flags&FlagEtM != 0

	// Bytes that must be padded to a blockSize multiple: pad_len(1) +
	// payload, plus pkt_len(4) when it is NOT separately-authenticated
	// (i.e. when it is encrypted like everything else).
	unpadded := 1 + payloadLen
	if !aead {
		unpadded += 4
	}

	padded := roundUpMinPad(unpadded, blockSize)

	tcpLen := padded + authLen
	if aead {
		tcpLen += 4 // the unencrypted-but-authenticated length field itself
	}
	return tcpLen
}

// roundUpMinPad rounds n up to the next multiple of blockSize, enforcing
// RFC 4253's minimum of 4 padding bytes.
func roundUpMinPad(n, blockSize int) int {
	rem := n % blockSize
	pad := blockSize - rem
	if pad < 4 {
		pad += blockSize
	}
	return n + pad
}

// UserAuthSuccessPayloadLen is the plaintext length of SSH_MSG_USERAUTH_SUCCESS:
// a single message-type byte (52), no further fields (RFC 4252 §3).
const UserAuthSuccessPayloadLen = 1

// Lookup resolves a negotiated (cipher, mac) pair to a framing Kind,
// trying the AEAD table first and falling back to the HMAC-synthesized
// entry for classic ciphers.
func Lookup(cipherName, macName string) (Kind, bool) {
	if k, ok := Table[cipherName]; ok {
		return k, true
	}
	return EtMMAC(cipherName, macName)
}
