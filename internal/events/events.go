// Package events implements the Event Scanner (spec.md §4.6): it walks a
// stream once the phase boundaries are known and emits a capture-ordered
// timeline of host-key acceptance, public-key offer/accept pairs, the
// UserAuthSuccess transition, and the first login prompt.
package events

import (
	"sort"
	"time"

	"github.com/sshniff/sshniff/internal/analyzeconfig"
	"github.com/sshniff/sshniff/internal/capture"
	"github.com/sshniff/sshniff/internal/cipherkind"
	"github.com/sshniff/sshniff/internal/handshake"
	"github.com/sshniff/sshniff/internal/phase"
	"github.com/sshniff/sshniff/internal/sshstream"
)

// Kind is the closed set of timeline event kinds (spec.md §9: tagged
// variants, dispatched by pattern match, never by polymorphic call).
type Kind string

const (
	HostKeyAccepted       Kind = "HostKeyAccepted"
	OfferKey              Kind = "OfferKey"
	AcceptedKey           Kind = "AcceptedKey"
	NewKeys               Kind = "NewKeys"
	UserAuthSuccess       Kind = "UserAuthSuccess"
	FirstLoginPrompt      Kind = "FirstLoginPrompt"
	KeystrokeSizeIndicator Kind = "KeystrokeSizeIndicator"
)

// KeyType is the closed set of host/public-key families spec.md §4.6
// buckets offers into.
type KeyType string

const (
	KeyRSA2048    KeyType = "RSA-2048"
	KeyRSA3072    KeyType = "RSA-3072"
	KeyRSA4096    KeyType = "RSA-4096"
	KeyECDSAP256  KeyType = "ECDSA-P256"
	KeyECDSAP384  KeyType = "ECDSA-P384"
	KeyECDSAP521  KeyType = "ECDSA-P521"
	KeyEd25519    KeyType = "Ed25519"
	KeyTypeUnknown KeyType = "unknown"
)

// Event is one timeline entry. Only the fields relevant to Kind are set;
// the rest hold their zero value.
type Event struct {
	Kind      Kind
	Index     int
	Timestamp time.Time
	KeyType   KeyType
}

// offerPlaintextLen approximates the SSH_MSG_USERAUTH_REQUEST plaintext
// payload size (message type + username/service/method strings + offered
// public-key blob) for each key type spec.md §4.6 names. OpenSSH's wire
// encoding makes these figures band-like rather than exact (username
// length varies), which is why Scan compares against them with
// cfg.SizeToleranceBytes rather than requiring an exact match.
var offerPlaintextLen = map[KeyType]int{
	KeyEd25519:   200,
	KeyECDSAP256: 220,
	KeyECDSAP384: 250,
	KeyECDSAP521: 280,
	KeyRSA2048:   400,
	KeyRSA3072:   530,
	KeyRSA4096:   660,
}

// keyTypeOrder fixes iteration order so Scan's output is deterministic
// even though offerPlaintextLen is a map.
var keyTypeOrder = []KeyType{KeyEd25519, KeyECDSAP256, KeyECDSAP384, KeyECDSAP521, KeyRSA2048, KeyRSA3072, KeyRSA4096}

// pkOkPlaintextLen approximates SSH_MSG_USERAUTH_PK_OK: it echoes the
// algorithm name and key blob without a signature, so it runs smaller
// than the corresponding offer.
func pkOkPlaintextLen(kt KeyType) int {
	n := offerPlaintextLen[kt] - 100
	if n < 64 {
		n = 64
	}
	return n
}

// hostKeyLargePacketThreshold is the plaintext size above which a
// server packet during KexExchange is presumed to be carrying the host
// key (KEX_ECDH_REPLY or equivalent), as opposed to protocol bookkeeping.
const hostKeyLargePacketThreshold = 200

// firstLoginPromptThreshold is the "small ping-size band" spec.md §4.6
// refers to: server packets at or below this size, in the Session
// phase, are presumed keepalives/window updates rather than prompt text.
const firstLoginPromptThreshold = 56

// Scan builds the capture-ordered event timeline for a stream.
func Scan(s *sshstream.Stream, b phase.Boundaries, algs handshake.AlgorithmSet, cfg analyzeconfig.Config) []Event {
	var out []Event

	if e, ok := scanHostKeyAcceptance(s, b); ok {
		out = append(out, e)
	}
	out = append(out, scanPublicKeyEvents(s, b, algs, cfg)...)

	if e, ok := scanNewKeys(s, b); ok {
		out = append(out, e)
	}

	if b.UserAuthSuccessIndex != -1 {
		out = append(out, Event{Kind: UserAuthSuccess, Index: b.UserAuthSuccessIndex})
		if e, ok := scanFirstLoginPrompt(s, b); ok {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// scanNewKeys reports the NewKeys timeline point, the moment both
// directions have switched to the negotiated algorithms.
func scanNewKeys(s *sshstream.Stream, b phase.Boundaries) (Event, bool) {
	if b.NewKeysIndex == -1 {
		return Event{}, false
	}
	ts, ok := timestampAt(s, b.NewKeysIndex)
	if !ok {
		return Event{}, false
	}
	return Event{Kind: NewKeys, Index: b.NewKeysIndex, Timestamp: ts}, true
}

// KeystrokeSizeEvent builds the KeystrokeSizeIndicator timeline point for
// the capture index at which the keystroke size oracle anchored its
// result. Callers append this to Scan's output once the oracle has run,
// since the oracle's result is not yet known when Scan itself executes.
func KeystrokeSizeEvent(s *sshstream.Stream, index int) (Event, bool) {
	ts, ok := timestampAt(s, index)
	if !ok {
		return Event{}, false
	}
	return Event{Kind: KeystrokeSizeIndicator, Index: index, Timestamp: ts}, true
}

func timestampAt(s *sshstream.Stream, index int) (time.Time, bool) {
	for _, p := range s.Packets {
		if p.Index == index {
			return p.Timestamp, true
		}
	}
	return time.Time{}, false
}

func scanHostKeyAcceptance(s *sshstream.Stream, b phase.Boundaries) (Event, bool) {
	hostKeyIndex := -1
	for _, p := range s.Packets {
		if phase.Of(p.Index, b) != phase.KexExchange {
			continue
		}
		if s.Direction(p) != capture.ServerToClient {
			continue
		}
		if p.PayloadLen() >= hostKeyLargePacketThreshold {
			hostKeyIndex = p.Index
			break
		}
	}
	if hostKeyIndex == -1 {
		return Event{}, false
	}

	for _, p := range s.Packets {
		if p.Index <= hostKeyIndex || phase.Of(p.Index, b) != phase.KexExchange {
			continue
		}
		if s.Direction(p) != capture.ClientToServer {
			continue
		}
		return Event{Kind: HostKeyAccepted, Index: p.Index, Timestamp: p.Timestamp}, true
	}
	return Event{}, false
}

// scanPublicKeyEvents walks UserAuth-phase client packets for sizes
// matching an offer band, then checks whether the immediately following
// server packet matches that key type's PK_OK band.
func scanPublicKeyEvents(s *sshstream.Stream, b phase.Boundaries, algs handshake.AlgorithmSet, cfg analyzeconfig.Config) []Event {
	var out []Event
	tolerance := int(cfg.SizeToleranceBytes)

	c2s, _ := cipherkind.Lookup(algs.ClientToServer.Cipher, algs.ClientToServer.MAC)
	s2c, _ := cipherkind.Lookup(algs.ServerToClient.Cipher, algs.ServerToClient.MAC)

	for i, p := range s.Packets {
		if phase.Of(p.Index, b) != phase.UserAuth {
			continue
		}
		if s.Direction(p) != capture.ClientToServer {
			continue
		}

		kt, ok := matchKeyTypeBand(p.PayloadLen(), c2s, tolerance)
		if !ok {
			continue
		}
		out = append(out, Event{Kind: OfferKey, Index: p.Index, Timestamp: p.Timestamp, KeyType: kt})

		if resp, ok := nextPacket(s.Packets, i, capture.ServerToClient, s); ok {
			want := cipherkind.FramedSize(pkOkPlaintextLen(kt), s2c.BlockSize, s2c.AuthLen, s2c.Flags)
			if within(resp.PayloadLen(), want, tolerance) {
				out = append(out, Event{Kind: AcceptedKey, Index: resp.Index, Timestamp: resp.Timestamp, KeyType: kt})
			}
		}
	}
	return out
}

func matchKeyTypeBand(payloadLen int, k cipherkind.Kind, tolerance int) (KeyType, bool) {
	for _, kt := range keyTypeOrder {
		want := cipherkind.FramedSize(offerPlaintextLen[kt], k.BlockSize, k.AuthLen, k.Flags)
		if within(payloadLen, want, tolerance) {
			return kt, true
		}
	}
	return KeyTypeUnknown, false
}

func within(got, want, tolerance int) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func nextPacket(packets []capture.PacketRecord, fromIdx int, dir capture.Direction, s *sshstream.Stream) (capture.PacketRecord, bool) {
	for i := fromIdx + 1; i < len(packets); i++ {
		p := packets[i]
		if p.PayloadLen() == 0 {
			continue
		}
		if s.Direction(p) == dir {
			return p, true
		}
	}
	return capture.PacketRecord{}, false
}

func scanFirstLoginPrompt(s *sshstream.Stream, b phase.Boundaries) (Event, bool) {
	for _, p := range s.Packets {
		if p.Index <= b.UserAuthSuccessIndex {
			continue
		}
		if s.Direction(p) != capture.ServerToClient {
			continue
		}
		if p.PayloadLen() > firstLoginPromptThreshold {
			return Event{Kind: FirstLoginPrompt, Index: p.Index, Timestamp: p.Timestamp}, true
		}
	}
	return Event{}, false
}
