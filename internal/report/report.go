// Package report implements the Session Report Builder (spec.md §4.8):
// immutable per-stream report assembly, a human-readable text rendering,
// and a machine-readable JSON export. The JSON export carries every
// field; the text rendering omits the warnings.
package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/sshniff/sshniff/internal/classify"
	"github.com/sshniff/sshniff/internal/events"
	"github.com/sshniff/sshniff/internal/handshake"
)

// StreamReport is the immutable output of analyzing one stream. The JSON
// tags name the fields; the text rendering uses its own labels.
type StreamReport struct {
	Client   string `json:"client"`
	Server   string `json:"server"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	DurationSeconds float64 `json:"duration_seconds"`

	ClientBanner string `json:"client_banner"`
	ServerBanner string `json:"server_banner"`
	HasshClient  string `json:"hassh_client"`
	HasshServer  string `json:"hassh_server"`

	Algorithms handshake.AlgorithmSet `json:"algorithms"`

	Timeline           []events.Event      `json:"timeline,omitempty"`
	KeystrokeSequences []classify.Sequence `json:"keystroke_sequences,omitempty"`
	KeystrokeSizeKnown bool                `json:"keystroke_size_known"`

	Warnings []string `json:"warnings,omitempty"`
}

// Build assembles an immutable StreamReport from the pipeline's
// per-component outputs. It performs no I/O and holds no mutable state.
func Build(
	client, server string,
	first, last time.Time,
	clientBanner, serverBanner, hasshClient, hasshServer string,
	algs handshake.AlgorithmSet,
	timeline []events.Event,
	seqs []classify.Sequence,
	keystrokeSizeKnown bool,
	warnings []string,
) StreamReport {
	return StreamReport{
		Client: client, Server: server,
		FirstSeen: first, LastSeen: last,
		DurationSeconds: last.Sub(first).Seconds(),
		ClientBanner:    clientBanner,
		ServerBanner:    serverBanner,
		HasshClient:     hasshClient,
		HasshServer:     hasshServer,
		Algorithms:      algs,
		Timeline:        timeline,
		KeystrokeSequences: seqs,
		KeystrokeSizeKnown: keystrokeSizeKnown,
		Warnings:           warnings,
	}
}

// JSON renders the machine-readable form: one JSON object, field names
// matching the data model.
func (r StreamReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Text renders the human-readable report: Header, Algorithms, Timeline,
// and KeystrokeSequences sections, the latter two as fixed-width tables.
func (r StreamReport) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Stream %s <-> %s\n", r.Client, r.Server)
	fmt.Fprintf(&b, "  duration: %.3fs (%s - %s)\n", r.DurationSeconds, r.FirstSeen.Format(time.RFC3339Nano), r.LastSeen.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  client banner: %s\n", r.ClientBanner)
	fmt.Fprintf(&b, "  server banner: %s\n", r.ServerBanner)
	fmt.Fprintf(&b, "  hassh (client): %s\n", r.HasshClient)
	fmt.Fprintf(&b, "  hassh (server): %s\n", r.HasshServer)
	b.WriteString("\n")

	b.WriteString("Algorithms:\n")
	fmt.Fprintf(&b, "  kex:         %s\n", r.Algorithms.Kex)
	fmt.Fprintf(&b, "  host key:    %s\n", r.Algorithms.HostKey)
	fmt.Fprintf(&b, "  enc (c->s):  %s\n", r.Algorithms.ClientToServer.Cipher)
	fmt.Fprintf(&b, "  enc (s->c):  %s\n", r.Algorithms.ServerToClient.Cipher)
	fmt.Fprintf(&b, "  mac (c->s):  %s\n", r.Algorithms.ClientToServer.MAC)
	fmt.Fprintf(&b, "  mac (s->c):  %s\n", r.Algorithms.ServerToClient.MAC)
	fmt.Fprintf(&b, "  comp (c->s): %s\n", r.Algorithms.ClientToServer.Compression)
	fmt.Fprintf(&b, "  comp (s->c): %s\n", r.Algorithms.ServerToClient.Compression)
	b.WriteString("\n")

	b.WriteString("Timeline:\n")
	if len(r.Timeline) == 0 {
		b.WriteString("  (no events)\n")
	} else {
		b.WriteString(renderTimelineTable(r.Timeline))
	}
	b.WriteString("\n")

	b.WriteString("KeystrokeSequences:\n")
	if !r.KeystrokeSizeKnown {
		b.WriteString("  (keystroke size unknown; no sequences)\n")
	} else if len(r.KeystrokeSequences) == 0 {
		b.WriteString("  (no keystroke sequences observed)\n")
	} else {
		for i, seq := range r.KeystrokeSequences {
			fmt.Fprintf(&b, "  sequence %d:\n", i)
			b.WriteString(renderSequenceTable(seq))
		}
	}

	return b.String()
}

func renderTimelineTable(evs []events.Event) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("index", "kind", "key type")

	for _, e := range evs {
		kt := string(e.KeyType)
		if kt == "" {
			kt = "-"
		}
		t.Row(strconv.Itoa(e.Index), string(e.Kind), kt)
	}
	return t.Render() + "\n"
}

func renderSequenceTable(seq classify.Sequence) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("tcp_seq", "latency_us", "category")

	for _, ev := range seq.Events {
		t.Row(strconv.FormatUint(uint64(ev.Seq), 10), strconv.FormatInt(ev.LatencyMicros, 10), string(ev.Category))
	}
	out := t.Render() + "\n"
	out += fmt.Sprintf("    [response_footprint_bytes: %d]\n", seq.ResponseFootprint)
	return out
}
