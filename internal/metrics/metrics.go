// Package metrics wraps a small set of Prometheus counters around one
// analyzer run. SSHniff is a single-shot CLI, not a scrape target, so
// this package's only consumer is the optional --metrics-out text
// exposition dump (spec.md §6.1) rather than an HTTP handler.
package metrics

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Counters holds one run's diagnostic counters. Create with New; every
// method is safe to call concurrently, matching the per-stream
// parallelism the analyzer uses.
type Counters struct {
	registry *prometheus.Registry

	PacketsRead           prometheus.Counter
	FramesSkipped         prometheus.Counter
	StreamsFound          prometheus.Counter
	StreamsMalformed      prometheus.Counter
	StreamsKeystrokeUnknown prometheus.Counter
	StreamsPhaseIncomplete  prometheus.Counter
}

// New registers a fresh set of counters in their own registry, so
// multiple runs (e.g. in tests) never collide on Prometheus's default
// global registry.
func New() *Counters {
	reg := prometheus.NewRegistry()
	c := &Counters{
		registry: reg,
		PacketsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sshniff_packets_read_total", Help: "TCP segments decoded from the capture file.",
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sshniff_frames_skipped_total", Help: "Frames dropped for being unparseable, non-IP/TCP, or payload-less without SYN/FIN/RST.",
		}),
		StreamsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sshniff_streams_found_total", Help: "SSH streams that survived demultiplexing.",
		}),
		StreamsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sshniff_streams_malformed_handshake_total", Help: "Streams whose banner or KEXINIT failed to parse.",
		}),
		StreamsKeystrokeUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sshniff_streams_keystroke_size_unknown_total", Help: "Streams where the keystroke size oracle failed.",
		}),
		StreamsPhaseIncomplete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sshniff_streams_phase_incomplete_total", Help: "Streams where USERAUTH_SUCCESS could not be located.",
		}),
	}
	reg.MustRegister(
		c.PacketsRead, c.FramesSkipped, c.StreamsFound,
		c.StreamsMalformed, c.StreamsKeystrokeUnknown, c.StreamsPhaseIncomplete,
	)
	return c
}

// Dump renders the run's counters in Prometheus text exposition format,
// for --metrics-out.
func (c *Counters) Dump() ([]byte, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
