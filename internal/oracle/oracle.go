// Package oracle implements the Keystroke Size Oracle (spec.md §4.5): it
// infers the encrypted size of a single keystroke packet (K), the modal
// echo size (S0), and the expected Enter-response footprint (P) for a
// stream, from post-login client→server traffic alone.
package oracle

import (
	"time"

	"github.com/sshniff/sshniff/internal/analyzeconfig"
	"github.com/sshniff/sshniff/internal/capture"
	"github.com/sshniff/sshniff/internal/handshake"
	"github.com/sshniff/sshniff/internal/phase"
	"github.com/sshniff/sshniff/internal/sshniffErr"
	"github.com/sshniff/sshniff/internal/sshstream"
)

// fallbackSampleSize bounds the "first 50 post-login client packets"
// window the fallback method samples, per spec.md §4.5.
const fallbackSampleSize = 50

// fallbackMinClusterSize is the minimum cluster membership the fallback
// method requires before trusting a candidate K.
const fallbackMinClusterSize = 3

// Method records which of the oracle's two strategies produced a result.
type Method string

const (
	MethodPrimary  Method = "primary"
	MethodFallback Method = "fallback"
)

// Result is the oracle's output for one stream.
type Result struct {
	K      int // keystroke footprint: expected client->server TCP payload length
	S0     int // modal echo size: expected server->client response to a keystroke
	P      int // prompt footprint: expected server->client response to Enter
	Method Method
	Index  int // capture index of the client packet that anchored K
}

// Infer runs the primary method, falling back to the cluster-mode
// method, over client→server packets strictly after the UserAuth phase
// boundary. Returns sshniffErr.KeystrokeSizeUnknown if neither method
// produces a confident K, including when delayed compression was
// negotiated (spec.md §9's open question: post-compression sizes are
// not modeled, so the oracle declines rather than guess).
func Infer(s *sshstream.Stream, b phase.Boundaries, algs handshake.AlgorithmSet, cfg analyzeconfig.Config) (Result, error) {
	if algs.DelayedCompression() {
		return Result{}, &sshniffErr.KeystrokeSizeUnknown{Reason: "delayed compression (zlib@openssh.com) negotiated"}
	}
	if b.UserAuthSuccessIndex == -1 {
		return Result{}, &sshniffErr.KeystrokeSizeUnknown{Reason: "no USERAUTH_SUCCESS boundary to anchor post-login traffic"}
	}

	postLogin := postLoginClientPackets(s, b)
	if len(postLogin) == 0 {
		return Result{}, &sshniffErr.KeystrokeSizeUnknown{Reason: "no post-login client traffic observed"}
	}

	if res, ok := primaryMethod(s, postLogin, cfg); ok {
		return res, nil
	}
	if res, ok := fallbackMethod(postLogin, s, cfg); ok {
		return res, nil
	}
	return Result{}, &sshniffErr.KeystrokeSizeUnknown{Reason: "neither echo-latency nor cluster-mode method found a confident K"}
}

// postLoginClientPackets returns, in capture order, the client->server
// data packets occurring after the UserAuth->Session boundary.
func postLoginClientPackets(s *sshstream.Stream, b phase.Boundaries) []capture.PacketRecord {
	var out []capture.PacketRecord
	for _, p := range s.Packets {
		if p.Index <= b.UserAuthSuccessIndex || p.PayloadLen() == 0 {
			continue
		}
		if s.Direction(p) != capture.ClientToServer {
			continue
		}
		out = append(out, p)
	}
	return out
}

// primaryMethod looks for the first client packet answered, within the
// configured echo window, by a server packet 8-16 bytes larger.
func primaryMethod(s *sshstream.Stream, clientPackets []capture.PacketRecord, cfg analyzeconfig.Config) (Result, bool) {
	for _, cp := range clientPackets {
		resp, ok := nextServerResponse(s, cp, cfg.EchoWindow)
		if !ok {
			continue
		}
		delta := resp.PayloadLen() - cp.PayloadLen()
		if delta >= 8 && delta <= 16 {
			res := Result{K: cp.PayloadLen(), S0: resp.PayloadLen(), Method: MethodPrimary, Index: cp.Index}
			res.P = estimatePromptFootprint(s, clientPackets, res, cfg)
			return res, true
		}
	}
	return Result{}, false
}

// nextServerResponse finds the first server->client packet strictly
// after cp, within window of cp's timestamp.
func nextServerResponse(s *sshstream.Stream, cp capture.PacketRecord, window time.Duration) (capture.PacketRecord, bool) {
	for _, p := range s.Packets {
		if p.Index <= cp.Index || p.PayloadLen() == 0 {
			continue
		}
		if s.Direction(p) != capture.ServerToClient {
			continue
		}
		if p.Timestamp.Sub(cp.Timestamp) > window {
			break
		}
		return p, true
	}
	return capture.PacketRecord{}, false
}

// fallbackMethod samples the first fallbackSampleSize post-login client
// packets and picks the smallest size with at least
// fallbackMinClusterSize members (ε=0: exact equality), per spec.md §4.5.
func fallbackMethod(clientPackets []capture.PacketRecord, s *sshstream.Stream, cfg analyzeconfig.Config) (Result, bool) {
	sample := clientPackets
	if len(sample) > fallbackSampleSize {
		sample = sample[:fallbackSampleSize]
	}

	counts := map[int]int{}
	for _, p := range sample {
		counts[p.PayloadLen()]++
	}

	best, bestFound := 0, false
	for size, n := range counts {
		if n < fallbackMinClusterSize {
			continue
		}
		if !bestFound || size < best {
			best = size
			bestFound = true
		}
	}
	if !bestFound {
		return Result{}, false
	}

	res := Result{K: best, Method: MethodFallback}
	for _, p := range sample {
		if p.PayloadLen() == best {
			res.Index = p.Index
			break
		}
	}
	res.S0 = modalEchoSize(s, sample, best, cfg)
	res.P = estimatePromptFootprint(s, clientPackets, res, cfg)
	return res, true
}

// modalEchoSize finds the most common server response size to a
// K-sized client packet within the echo window, used to fill in S0 when
// the fallback method (not the echo-latency primary method) established K.
func modalEchoSize(s *sshstream.Stream, clientPackets []capture.PacketRecord, k int, cfg analyzeconfig.Config) int {
	counts := map[int]int{}
	for _, cp := range clientPackets {
		if cp.PayloadLen() != k {
			continue
		}
		if resp, ok := nextServerResponse(s, cp, cfg.EchoWindow); ok {
			counts[resp.PayloadLen()]++
		}
	}
	return mode(counts)
}

// estimatePromptFootprint looks for a server response distinctly larger
// than S0 following a K-sized client packet — a heuristic proxy for the
// Enter-triggered prompt redraw (spec.md §9 notes the prompt footprint
// varies with shell state and is inherently heuristic).
func estimatePromptFootprint(s *sshstream.Stream, clientPackets []capture.PacketRecord, res Result, cfg analyzeconfig.Config) int {
	counts := map[int]int{}
	for _, cp := range clientPackets {
		if cp.PayloadLen() != res.K {
			continue
		}
		resp, ok := nextServerResponse(s, cp, cfg.EchoWindow)
		if !ok {
			continue
		}
		if resp.PayloadLen() > res.S0+int(cfg.SizeToleranceBytes) {
			counts[resp.PayloadLen()]++
		}
	}
	if p := mode(counts); p != 0 {
		return p
	}
	return res.S0
}

// mode returns the size with the highest count, breaking ties by
// preferring the smallest size so the result is stable regardless of Go's
// randomized map iteration order (running the analyzer twice on the same
// capture must yield the same report).
func mode(counts map[int]int) int {
	best, bestN, bestFound := 0, 0, false
	for size, n := range counts {
		if !bestFound || n > bestN || (n == bestN && size < best) {
			best, bestN, bestFound = size, n, true
		}
	}
	return best
}
