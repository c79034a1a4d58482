// Package classify implements the Keystroke Classifier (spec.md §4.7):
// it pairs client keystroke packets with their server echoes, computes
// inter-keystroke latency, and groups events into sequences terminated
// by Enter.
package classify

import (
	"time"

	"github.com/sshniff/sshniff/internal/analyzeconfig"
	"github.com/sshniff/sshniff/internal/capture"
	"github.com/sshniff/sshniff/internal/oracle"
	"github.com/sshniff/sshniff/internal/sshstream"
)

// Category is the closed set of keystroke classifications (spec.md §9:
// a tagged variant, dispatched by pattern match).
type Category string

const (
	Keystroke       Category = "Keystroke"
	Enter           Category = "Enter"
	ArrowHorizontal Category = "ArrowHorizontal"
	ArrowVertical   Category = "ArrowVertical"
	Tab             Category = "Tab"
	Delete          Category = "Delete"
	Unknown         Category = "Unknown"
)

// arrowDelta is the cipher-block-sized size shift (δ, spec.md §4.7) that
// distinguishes a horizontal arrow's echo from a plain keystroke's.
const arrowDelta = 8

// Event is one classified client packet.
type Event struct {
	Index         int
	Seq           uint32
	Timestamp     time.Time
	Category      Category
	LatencyMicros int64
}

// Sequence is a run of Events terminated by an Enter (or by the end of
// traffic, for an unterminated trailing run).
type Sequence struct {
	Events            []Event
	ResponseFootprint int
}

// Classify walks client→server packets strictly after startIndex (the
// first login prompt's capture index) whose size falls within K±ε of
// the oracle Result, pairing each with its server echo and grouping the
// results into Sequences.
func Classify(s *sshstream.Stream, startIndex int, res oracle.Result, cfg analyzeconfig.Config) []Sequence {
	tol := int(cfg.SizeToleranceBytes)

	var candidates []capture.PacketRecord
	for _, p := range s.Packets {
		if p.Index <= startIndex || p.PayloadLen() == 0 {
			continue
		}
		if s.Direction(p) != capture.ClientToServer {
			continue
		}
		if withinAbs(p.PayloadLen(), res.K, tol) {
			candidates = append(candidates, p)
		}
	}

	var sequences []Sequence
	var cur Sequence
	var prevTimestamp time.Time
	haveHead := false

	for i, cp := range candidates {
		nextIdx := -1
		if i+1 < len(candidates) {
			nextIdx = candidates[i+1].Index
		}

		resp, paired := pairResponse(s, cp, cfg.PairingDeadline)

		var cat Category
		if !paired {
			cat = Unknown
		} else {
			cat = categorize(s, resp, nextIdx, res, cfg)
		}

		var latency int64
		if haveHead {
			latency = cp.Timestamp.Sub(prevTimestamp).Microseconds()
		}
		haveHead = true
		prevTimestamp = cp.Timestamp

		cur.Events = append(cur.Events, Event{
			Index: cp.Index, Seq: cp.Seq, Timestamp: cp.Timestamp,
			Category: cat, LatencyMicros: latency,
		})

		if cat == Enter {
			cur.ResponseFootprint = sumServerResponses(s, cp.Index, nextIdx)
			sequences = append(sequences, cur)
			cur = Sequence{}
			haveHead = false
		}
	}
	if len(cur.Events) > 0 {
		sequences = append(sequences, cur)
	}
	return sequences
}

// pairResponse finds the next server→client packet whose ack covers
// cp's seq+len, within the pairing deadline, per spec.md §4.7.
func pairResponse(s *sshstream.Stream, cp capture.PacketRecord, deadline time.Duration) (capture.PacketRecord, bool) {
	wantAck := cp.Seq + uint32(cp.PayloadLen())
	for _, p := range s.Packets {
		if p.Index <= cp.Index || p.PayloadLen() == 0 {
			continue
		}
		if s.Direction(p) != capture.ServerToClient {
			continue
		}
		if p.Timestamp.Sub(cp.Timestamp) > deadline {
			break
		}
		if p.Ack >= wantAck {
			return p, true
		}
	}
	return capture.PacketRecord{}, false
}

// categorize dispatches on the paired echo size. Priority order: an
// echo within ε of the prompt footprint P is Enter; otherwise a
// multi-packet burst is treated as a full-line redraw (ArrowVertical),
// never as Enter; an echo of exactly S0 is a plain Keystroke; an echo
// within ε of S0±δ is ArrowHorizontal; larger/smaller single-packet
// echoes beyond that band are Tab/Delete. This ordering is a heuristic, not a protocol
// guarantee — spec.md §9 notes prompt-footprint detection can misclassify
// in heavily customised shells.
func categorize(s *sshstream.Stream, resp capture.PacketRecord, nextClientIdx int, res oracle.Result, cfg analyzeconfig.Config) Category {
	tol := int(cfg.SizeToleranceBytes)
	size := resp.PayloadLen()
	burst := hasBurst(s, resp, nextClientIdx, cfg.EchoWindow)

	switch {
	case withinAbs(size, res.P, tol):
		return Enter
	case burst:
		return ArrowVertical
	case size == res.S0:
		return Keystroke
	case withinAbs(size, res.S0-arrowDelta, tol), withinAbs(size, res.S0+arrowDelta, tol):
		return ArrowHorizontal
	case size > res.S0+arrowDelta+tol:
		return Tab
	case size < res.S0-arrowDelta-tol:
		return Delete
	default:
		return Unknown
	}
}

// hasBurst reports whether at least one further server→client packet
// follows resp, within the echo window and before the next classified
// client packet, i.e. whether the response is a multi-packet burst.
func hasBurst(s *sshstream.Stream, resp capture.PacketRecord, nextClientIdx int, window time.Duration) bool {
	for _, p := range s.Packets {
		if p.Index <= resp.Index {
			continue
		}
		if nextClientIdx != -1 && p.Index >= nextClientIdx {
			break
		}
		if p.PayloadLen() == 0 {
			continue
		}
		if s.Direction(p) != capture.ServerToClient {
			continue
		}
		if p.Timestamp.Sub(resp.Timestamp) > window {
			break
		}
		return true
	}
	return false
}

// sumServerResponses totals server→client payload bytes strictly after
// fromIdx and before toIdx (or to the end of the stream if toIdx is -1),
// i.e. the Enter sequence's response_footprint.
func sumServerResponses(s *sshstream.Stream, fromIdx, toIdx int) int {
	sum := 0
	for _, p := range s.Packets {
		if p.Index <= fromIdx {
			continue
		}
		if toIdx != -1 && p.Index >= toIdx {
			break
		}
		if s.Direction(p) != capture.ServerToClient {
			continue
		}
		sum += p.PayloadLen()
	}
	return sum
}

func withinAbs(got, want, tol int) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= tol
}
