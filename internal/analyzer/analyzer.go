// Package analyzer wires the full SSHniff pipeline together: open the
// capture, demultiplex into streams, then run the handshake/phase/oracle/
// events/classify/report stages over every stream (spec.md §5 permits
// stream-level parallelism since streams share no mutable state).
package analyzer

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sshniff/sshniff/internal/analyzeconfig"
	"github.com/sshniff/sshniff/internal/capture"
	"github.com/sshniff/sshniff/internal/classify"
	"github.com/sshniff/sshniff/internal/events"
	"github.com/sshniff/sshniff/internal/handshake"
	"github.com/sshniff/sshniff/internal/metrics"
	"github.com/sshniff/sshniff/internal/oracle"
	"github.com/sshniff/sshniff/internal/phase"
	"github.com/sshniff/sshniff/internal/report"
	"github.com/sshniff/sshniff/internal/sshniffErr"
	"github.com/sshniff/sshniff/internal/sshstream"
)

// kexInitScanWindow bounds how many early per-direction data packets are
// inspected for the banner and KEXINIT; a real handshake never needs
// more than a handful.
const kexInitScanWindow = 20

// Run executes the pipeline over one capture file and returns one
// StreamReport per surviving stream, ordered by first-seen timestamp for
// deterministic output regardless of goroutine completion order.
func Run(path string, cfg analyzeconfig.Config, log *logrus.Logger, m *metrics.Counters) ([]report.StreamReport, error) {
	rd, err := capture.Open(path, log)
	if err != nil {
		return nil, err
	}
	records, err := rd.All()
	if err != nil {
		return nil, err
	}
	m.PacketsRead.Add(float64(len(records)))
	m.FramesSkipped.Add(float64(rd.Skipped()))

	streams := sshstream.Demultiplex(records, cfg.SSHPort)
	if len(streams) == 0 {
		return nil, &sshniffErr.NoSshStreams{Port: cfg.SSHPort}
	}
	m.StreamsFound.Add(float64(len(streams)))

	reports := make([]report.StreamReport, len(streams))
	g, _ := errgroup.WithContext(context.Background())
	for i, s := range streams {
		i, s := i, s
		g.Go(func() error {
			reports[i] = analyzeStream(s, cfg, log, m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &sshniffErr.InternalInconsistency{Reason: err.Error()}
	}

	sort.SliceStable(reports, func(i, j int) bool { return reports[i].FirstSeen.Before(reports[j].FirstSeen) })
	return reports, nil
}

// analyzeStream runs one stream through every analysis stage. Per-stream
// failures (malformed handshake, unlocatable phase boundary, unknown
// keystroke size) are recovered into warnings on a partial report rather
// than aborting the run, per spec.md §7's propagation rule.
func analyzeStream(s *sshstream.Stream, cfg analyzeconfig.Config, log *logrus.Logger, m *metrics.Counters) report.StreamReport {
	var warnings []string

	clientBanner := extractBanner(s, capture.ClientToServer)
	serverBanner := extractBanner(s, capture.ServerToClient)

	clientKex, okC := handshake.FindKexInit(directionPayloads(s, capture.ClientToServer, kexInitScanWindow))
	serverKex, okS := handshake.FindKexInit(directionPayloads(s, capture.ServerToClient, kexInitScanWindow))

	var algs handshake.AlgorithmSet
	var hasshClient, hasshServer string
	if okC && okS {
		algs = handshake.Negotiate(clientKex, serverKex)
		hasshClient = handshake.HasshClient(clientKex, cfg.HasshIncludeLanguages)
		hasshServer = handshake.HasshServer(serverKex, cfg.HasshIncludeLanguages)
	} else {
		algs = unknownAlgorithmSet()
		m.StreamsMalformed.Inc()
		warnings = append(warnings, (&sshniffErr.MalformedHandshake{Reason: "KEXINIT not found in one or both directions"}).Error())
		log.WithField("stream", s.Client.String()+"<->"+s.Server.String()).Warn("malformed handshake")
	}

	b := phase.Classify(s, algs)

	timeline := events.Scan(s, b, algs, cfg)
	var seqs []classify.Sequence
	keystrokeKnown := false

	if b.UserAuthSuccessIndex == -1 {
		m.StreamsPhaseIncomplete.Inc()
		warnings = append(warnings, (&sshniffErr.PhaseInferenceFailed{Reason: "USERAUTH_SUCCESS not located"}).Error())
	} else {
		startIndex := b.UserAuthSuccessIndex
		for _, e := range timeline {
			if e.Kind == events.FirstLoginPrompt {
				startIndex = e.Index
				break
			}
		}

		res, err := oracle.Infer(s, b, algs, cfg)
		if err != nil {
			m.StreamsKeystrokeUnknown.Inc()
			warnings = append(warnings, err.Error())
		} else {
			keystrokeKnown = true
			if e, ok := events.KeystrokeSizeEvent(s, res.Index); ok {
				timeline = append(timeline, e)
				sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].Index < timeline[j].Index })
			}
			seqs = classify.Classify(s, startIndex, res, cfg)
		}
	}

	return report.Build(
		s.Client.String(), s.Server.String(),
		s.First, s.Last,
		clientBanner, serverBanner, hasshClient, hasshServer,
		algs, timeline, seqs, keystrokeKnown, warnings,
	)
}

func unknownAlgorithmSet() handshake.AlgorithmSet {
	const u = "unknown"
	dir := handshake.DirectionAlgorithms{Cipher: u, MAC: u, Compression: u}
	return handshake.AlgorithmSet{Kex: u, HostKey: u, ClientToServer: dir, ServerToClient: dir}
}

func extractBanner(s *sshstream.Stream, dir capture.Direction) string {
	for _, p := range s.Packets {
		if p.PayloadLen() == 0 || s.Direction(p) != dir {
			continue
		}
		if banner, _, ok := handshake.ParseBanner(p.Payload); ok {
			return banner
		}
	}
	return ""
}

func directionPayloads(s *sshstream.Stream, dir capture.Direction, limit int) [][]byte {
	var out [][]byte
	for _, p := range s.Packets {
		if p.PayloadLen() == 0 || s.Direction(p) != dir {
			continue
		}
		out = append(out, p.Payload)
		if len(out) >= limit {
			break
		}
	}
	return out
}
