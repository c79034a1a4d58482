// Package handshake implements the Handshake Parser (spec.md §4.3): SSH
// banner extraction, KEXINIT name-list parsing, OpenSSH first-match
// algorithm negotiation, and HASSH fingerprinting.
package handshake

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// EndpointVersion is the parsed SSH identification string of one side of
// a connection (RFC 4253 §4.2), split the way an active dialer would
// split the string it just received.
type EndpointVersion struct {
	Raw             string
	ProtoVersion    string
	SoftwareVersion string
	Comment         string
}

// ParseVersion splits a banner line such as "SSH-2.0-OpenSSH_9.6 Ubuntu".
func ParseVersion(banner string) EndpointVersion {
	v := EndpointVersion{Raw: banner}
	head := banner
	if idx := strings.IndexByte(banner, ' '); idx >= 0 {
		head = banner[:idx]
		v.Comment = banner[idx+1:]
	}
	parts := strings.SplitN(head, "-", 3)
	if len(parts) == 3 && parts[0] == "SSH" {
		v.ProtoVersion = parts[1]
		v.SoftwareVersion = parts[2]
	}
	return v
}

// ParseBanner extracts the "SSH-..." identification line from the start
// of a TCP payload, returning the banner text and whatever payload bytes
// remain after the terminating CR-LF (or bare LF, tolerated for
// malformed/non-OpenSSH peers).
func ParseBanner(payload []byte) (banner string, rest []byte, ok bool) {
	if !bytes.HasPrefix(payload, []byte("SSH-")) {
		return "", payload, false
	}
	if idx := bytes.Index(payload, []byte("\r\n")); idx >= 0 {
		return string(payload[:idx]), payload[idx+2:], true
	}
	if idx := bytes.IndexByte(payload, '\n'); idx >= 0 {
		return string(payload[:idx]), payload[idx+1:], true
	}
	return string(payload), nil, true
}

// KexInitMsg is the parsed body of an SSH_MSG_KEXINIT (RFC 4253 §7.1),
// field order exactly as the wire format specifies.
type KexInitMsg struct {
	Cookie                  [16]byte
	KexAlgorithms           []string
	ServerHostKeyAlgorithms []string
	EncryptionAlgorithmsC2S []string
	EncryptionAlgorithmsS2C []string
	MACAlgorithmsC2S        []string
	MACAlgorithmsS2C        []string
	CompressionC2S          []string
	CompressionS2C          []string
	LanguagesC2S            []string
	LanguagesS2C            []string
	FirstKexPacketFollows   bool
}

const msgKexInit = 20

// DecodeCleartextPacket strips the SSH binary packet framing (RFC 4253
// §6: 4-byte packet_length, 1-byte padding_length, payload, padding)
// from a pre-NEWKEYS (i.e. unencrypted) TCP payload, returning the
// message type byte and the payload body that follows it. Returns
// ok=false if the segment doesn't hold one complete cleartext packet
// (e.g. it was split across TCP segments) — callers fail soft per
// spec.md §4.3.
func DecodeCleartextPacket(raw []byte) (msgType byte, body []byte, ok bool) {
	if len(raw) < 6 {
		return 0, nil, false
	}
	pktLen := binary.BigEndian.Uint32(raw[0:4])
	padLen := int(raw[4])
	if pktLen < 2 || int(pktLen) < 1+padLen {
		return 0, nil, false
	}
	if len(raw) < 4+int(pktLen) {
		return 0, nil, false
	}
	payloadEnd := 4 + int(pktLen) - padLen
	if payloadEnd < 6 {
		return 0, nil, false
	}
	return raw[5], raw[6:payloadEnd], true
}

// FindKexInit scans a direction's early packets for the first one
// beginning with a cleartext KEXINIT, per spec.md §4.3.
func FindKexInit(payloads [][]byte) (*KexInitMsg, bool) {
	for _, p := range payloads {
		msgType, body, ok := DecodeCleartextPacket(p)
		if !ok || msgType != msgKexInit {
			continue
		}
		if msg, err := ParseKexInit(body); err == nil {
			return msg, true
		}
	}
	return nil, false
}

// ParseKexInit decodes the cookie and ten name-lists of a KEXINIT body
// (the bytes following the message-type byte).
func ParseKexInit(body []byte) (*KexInitMsg, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("kexinit body too short: %d bytes", len(body))
	}
	msg := &KexInitMsg{}
	copy(msg.Cookie[:], body[:16])
	off := 16

	fields := []*[]string{
		&msg.KexAlgorithms,
		&msg.ServerHostKeyAlgorithms,
		&msg.EncryptionAlgorithmsC2S,
		&msg.EncryptionAlgorithmsS2C,
		&msg.MACAlgorithmsC2S,
		&msg.MACAlgorithmsS2C,
		&msg.CompressionC2S,
		&msg.CompressionS2C,
		&msg.LanguagesC2S,
		&msg.LanguagesS2C,
	}
	for _, f := range fields {
		list, next, ok := readNameList(body, off)
		if !ok {
			return nil, fmt.Errorf("truncated kexinit name-list at offset %d", off)
		}
		*f = list
		off = next
	}
	if off < len(body) {
		msg.FirstKexPacketFollows = body[off] != 0
	}
	return msg, nil
}

func readNameList(b []byte, off int) (list []string, next int, ok bool) {
	if off+4 > len(b) {
		return nil, off, false
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if n < 0 || off+n > len(b) {
		return nil, off, false
	}
	s := string(b[off : off+n])
	off += n
	if s == "" {
		return []string{}, off, true
	}
	return strings.Split(s, ","), off, true
}

// DirectionAlgorithms is the negotiated cipher/MAC/compression for one
// direction of traffic.
type DirectionAlgorithms struct {
	Cipher      string
	MAC         string
	Compression string
}

// AlgorithmSet is the negotiated cryptographic context for a stream
// (spec.md §3).
type AlgorithmSet struct {
	Kex            string
	HostKey        string
	ClientToServer DirectionAlgorithms
	ServerToClient DirectionAlgorithms
}

// DelayedCompression reports whether zlib@openssh.com ("delayed
// compression", activated only after USERAUTH_SUCCESS) was negotiated in
// either direction.
func (a AlgorithmSet) DelayedCompression() bool {
	const name = "zlib@openssh.com"
	return a.ClientToServer.Compression == name || a.ServerToClient.Compression == name
}

// firstMatch implements the OpenSSH negotiation rule: the client's
// preference order wins among the names both sides offered.
func firstMatch(client, server []string) (string, bool) {
	for _, c := range client {
		for _, s := range server {
			if c == s {
				return c, true
			}
		}
	}
	return "", false
}

// Negotiate computes the AlgorithmSet from the two sides' KEXINIT
// messages. Individual fields that fail to find a common value are left
// as "unknown" rather than aborting the whole negotiation, matching
// spec.md §4.3's "fail soft" instruction.
func Negotiate(client, server *KexInitMsg) AlgorithmSet {
	const unknown = "unknown"
	pick := func(c, s []string) string {
		if v, ok := firstMatch(c, s); ok {
			return v
		}
		return unknown
	}

	return AlgorithmSet{
		Kex:     pick(client.KexAlgorithms, server.KexAlgorithms),
		HostKey: pick(client.ServerHostKeyAlgorithms, server.ServerHostKeyAlgorithms),
		ClientToServer: DirectionAlgorithms{
			Cipher:      pick(client.EncryptionAlgorithmsC2S, server.EncryptionAlgorithmsC2S),
			MAC:         pick(client.MACAlgorithmsC2S, server.MACAlgorithmsC2S),
			Compression: pick(client.CompressionC2S, server.CompressionC2S),
		},
		ServerToClient: DirectionAlgorithms{
			Cipher:      pick(client.EncryptionAlgorithmsS2C, server.EncryptionAlgorithmsS2C),
			MAC:         pick(client.MACAlgorithmsS2C, server.MACAlgorithmsS2C),
			Compression: pick(client.CompressionS2C, server.CompressionS2C),
		},
	}
}

// HasshClient computes the client-side HASSH: MD5 of
// "kex;enc_c2s;mac_c2s;comp_c2s" (spec.md §3). When includeLanguages is
// true, the client-to-server language name-list is appended as a fifth field —
// an extension some HASSH consumers enable, off by default to match the
// canonical four-field definition.
func HasshClient(k *KexInitMsg, includeLanguages bool) string {
	fields := []string{
		strings.Join(k.KexAlgorithms, ","),
		strings.Join(k.EncryptionAlgorithmsC2S, ","),
		strings.Join(k.MACAlgorithmsC2S, ","),
		strings.Join(k.CompressionC2S, ","),
	}
	if includeLanguages {
		fields = append(fields, strings.Join(k.LanguagesC2S, ","))
	}
	return hassh(fields)
}

// HasshServer computes the server-side HASSH (HASSH server, "hasshServer"),
// mirroring HasshClient over the S2C lists.
func HasshServer(k *KexInitMsg, includeLanguages bool) string {
	fields := []string{
		strings.Join(k.KexAlgorithms, ","),
		strings.Join(k.EncryptionAlgorithmsS2C, ","),
		strings.Join(k.MACAlgorithmsS2C, ","),
		strings.Join(k.CompressionS2C, ","),
	}
	if includeLanguages {
		fields = append(fields, strings.Join(k.LanguagesS2C, ","))
	}
	return hassh(fields)
}

func hassh(fields []string) string {
	sum := md5.Sum([]byte(strings.Join(fields, ";")))
	return hex.EncodeToString(sum[:])
}
