// Package phase implements the Phase State Machine (spec.md §4.4): it
// walks a stream's packets and locates the capture-index boundaries of
// each SSH session phase — Banner, KexInit, KexExchange, NewKeys,
// UserAuth, Session, Closed.
package phase

import (
	"github.com/sshniff/sshniff/internal/capture"
	"github.com/sshniff/sshniff/internal/cipherkind"
	"github.com/sshniff/sshniff/internal/handshake"
	"github.com/sshniff/sshniff/internal/sshstream"
)

// Name is one of the seven phases named in spec.md §4.4.
type Name string

const (
	Banner      Name = "Banner"
	KexInit     Name = "KexInit"
	KexExchange Name = "KexExchange"
	NewKeys     Name = "NewKeys"
	UserAuth    Name = "UserAuth"
	Session     Name = "Session"
	Closed      Name = "Closed"
)

const (
	msgNewKeys = 21
)

// Boundaries holds the capture indices at which a stream moved between
// phases. A value of -1 means that phase boundary was never observed.
type Boundaries struct {
	BannerDoneIndex      int
	KexInitDoneIndex     int
	NewKeysIndex         int // index of the SECOND direction's NEWKEYS packet
	UserAuthSuccessIndex int
	ClosedIndex          int
}

// Classify walks s.Packets and computes phase Boundaries, given the
// negotiated AlgorithmSet (needed to predict the USERAUTH_SUCCESS
// footprint). It never returns an error: phases it cannot locate are
// left at -1, per spec.md §4.4's fail-soft posture — callers that need
// a hard failure check UserAuthSuccessIndex themselves and raise
// sshniffErr.PhaseInferenceFailed.
func Classify(s *sshstream.Stream, algs handshake.AlgorithmSet) Boundaries {
	b := Boundaries{BannerDoneIndex: -1, KexInitDoneIndex: -1, NewKeysIndex: -1, UserAuthSuccessIndex: -1, ClosedIndex: -1}

	var sawClientBanner, sawServerBanner bool
	var sawClientKexInit, sawServerKexInit bool
	var newKeysDirs = map[capture.Direction]bool{}
	firstClientDataAfterNewKeys := -1

	for _, p := range s.Packets {
		if p.FIN || p.RST {
			b.ClosedIndex = p.Index
		}
		if p.PayloadLen() == 0 {
			continue
		}
		dir := s.Direction(p)

		if b.BannerDoneIndex == -1 {
			if _, _, ok := handshake.ParseBanner(p.Payload); ok {
				if dir == capture.ClientToServer {
					sawClientBanner = true
				} else {
					sawServerBanner = true
				}
				if sawClientBanner && sawServerBanner {
					b.BannerDoneIndex = p.Index
				}
				continue
			}
		}

		if b.NewKeysIndex == -1 {
			if msgType, _, ok := handshake.DecodeCleartextPacket(p.Payload); ok {
				switch msgType {
				case 20: // KEXINIT
					if dir == capture.ClientToServer {
						sawClientKexInit = true
					} else {
						sawServerKexInit = true
					}
					if sawClientKexInit && sawServerKexInit && b.KexInitDoneIndex == -1 {
						b.KexInitDoneIndex = p.Index
					}
					continue
				case msgNewKeys:
					newKeysDirs[dir] = true
					if len(newKeysDirs) == 2 {
						b.NewKeysIndex = p.Index
					}
					continue
				}
			}
		}

		if b.NewKeysIndex != -1 && p.Index > b.NewKeysIndex && dir == capture.ClientToServer && firstClientDataAfterNewKeys == -1 {
			firstClientDataAfterNewKeys = p.Index
		}

		if b.NewKeysIndex != -1 && b.UserAuthSuccessIndex == -1 && p.Index > b.NewKeysIndex && dir == capture.ServerToClient {
			if matchesUserAuthSuccess(p.PayloadLen(), algs) {
				// Fallback rule (spec.md §4.4): among candidates sharing the
				// footprint, prefer the earliest one after the client's
				// first post-NewKeys data (its presumed auth attempt).
				if firstClientDataAfterNewKeys != -1 && p.Index > firstClientDataAfterNewKeys {
					b.UserAuthSuccessIndex = p.Index
				}
			}
		}
	}

	if len(s.Packets) > 0 && b.ClosedIndex == -1 {
		b.ClosedIndex = s.Packets[len(s.Packets)-1].Index
	}

	return b
}

// matchesUserAuthSuccess reports whether an observed TCP payload length
// matches the predicted USERAUTH_SUCCESS footprint for the negotiated
// server-to-client cipher/MAC (spec.md §4.4's footprint table, computed
// via cipherkind.FramedSize rather than hardcoded).
func matchesUserAuthSuccess(payloadLen int, algs handshake.AlgorithmSet) bool {
	k, ok := cipherkind.Lookup(algs.ServerToClient.Cipher, algs.ServerToClient.MAC)
	if !ok {
		return false
	}
	want := cipherkind.FramedSize(cipherkind.UserAuthSuccessPayloadLen, k.BlockSize, k.AuthLen, k.Flags)
	return payloadLen == want
}

// Of reports which phase a given capture index falls in, given computed
// Boundaries. Used by reporting/classification code that needs to tag
// individual packets.
func Of(index int, b Boundaries) Name {
	switch {
	case b.BannerDoneIndex == -1 || index <= b.BannerDoneIndex:
		return Banner
	case b.KexInitDoneIndex == -1 || index <= b.KexInitDoneIndex:
		return KexInit
	case b.NewKeysIndex == -1 || index < b.NewKeysIndex:
		return KexExchange
	case index == b.NewKeysIndex:
		return NewKeys
	case b.UserAuthSuccessIndex == -1 || index < b.UserAuthSuccessIndex:
		return UserAuth
	case b.ClosedIndex != -1 && index >= b.ClosedIndex:
		return Closed
	default:
		return Session
	}
}
