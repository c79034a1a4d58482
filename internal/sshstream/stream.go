// Package sshstream implements the Stream Demultiplexer (spec.md §4.2):
// it groups PacketRecords into bidirectional SSH flows keyed on the
// 4-tuple, with whichever endpoint uses the SSH port canonicalised as
// the server.
package sshstream

import (
	"fmt"
	"time"

	"github.com/sshniff/sshniff/internal/capture"
)

// Stream is a bidirectional flow with exactly one side on the SSH port.
// Invariant: Packets is monotonic in capture index, and per-direction
// monotonic in TCP seq.
type Stream struct {
	Client   capture.Endpoint
	Server   capture.Endpoint
	Packets  []capture.PacketRecord
	First    time.Time
	Last     time.Time
}

// Direction reports which side sent the given PacketRecord.
func (s *Stream) Direction(p capture.PacketRecord) capture.Direction {
	if p.Src.IP.Equal(s.Client.IP) && p.Src.Port == s.Client.Port {
		return capture.ClientToServer
	}
	return capture.ServerToClient
}

// tuple is the canonical, order-independent 4-tuple key for a flow.
type tuple struct {
	aIP, bIP     string
	aPort, bPort uint16
}

func canonicalTuple(e1, e2 capture.Endpoint) tuple {
	k1 := fmt.Sprintf("%s:%d", e1.IP, e1.Port)
	k2 := fmt.Sprintf("%s:%d", e2.IP, e2.Port)
	if k1 <= k2 {
		return tuple{aIP: e1.IP.String(), aPort: e1.Port, bIP: e2.IP.String(), bPort: e2.Port}
	}
	return tuple{aIP: e2.IP.String(), aPort: e2.Port, bIP: e1.IP.String(), bPort: e1.Port}
}

type openStream struct {
	stream       *Stream
	clientToSrv  int // data-bearing packet count, client->server
	srvToClient  int // data-bearing packet count, server->client
}

// Demultiplex groups records into completed Streams. sshPort selects
// which endpoint of each 4-tuple is the server; neither side on sshPort
// means the flow is not SSH and is rejected. A stream with fewer than
// two data-bearing packets in each direction is discarded as degenerate.
func Demultiplex(records []capture.PacketRecord, sshPort uint16) []*Stream {
	open := make(map[tuple]*openStream)
	var order []tuple
	var completed []*Stream

	finish := func(key tuple) {
		os, ok := open[key]
		if !ok {
			return
		}
		delete(open, key)
		if os.clientToSrv >= 2 && os.srvToClient >= 2 {
			completed = append(completed, os.stream)
		}
	}

	for _, rec := range records {
		if rec.Src.Port != sshPort && rec.Dst.Port != sshPort {
			continue
		}

		key := canonicalTuple(rec.Src, rec.Dst)
		os, ok := open[key]
		if !ok {
			client, server := rec.Src, rec.Dst
			if client.Port == sshPort {
				client, server = server, client
			}
			os = &openStream{stream: &Stream{Client: client, Server: server, First: rec.Timestamp}}
			open[key] = os
			order = append(order, key)
		}

		os.stream.Packets = append(os.stream.Packets, rec)
		os.stream.Last = rec.Timestamp

		if rec.PayloadLen() > 0 {
			if os.stream.Direction(rec) == capture.ClientToServer {
				os.clientToSrv++
			} else {
				os.srvToClient++
			}
		}

		if rec.FIN || rec.RST {
			finish(key)
		}
	}

	// End-of-capture: finish whatever is still open, in first-seen order
	// so stream ordering in the output is deterministic.
	for _, key := range order {
		finish(key)
	}

	return completed
}
