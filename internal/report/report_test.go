package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sshniff/sshniff/internal/classify"
	"github.com/sshniff/sshniff/internal/events"
	"github.com/sshniff/sshniff/internal/handshake"
)

func TestBuildAndText(t *testing.T) {
	first := time.Unix(1700000000, 0)
	last := first.Add(5 * time.Second)

	algs := handshake.AlgorithmSet{
		Kex: "curve25519-sha256", HostKey: "ssh-ed25519",
		ClientToServer: handshake.DirectionAlgorithms{Cipher: "chacha20-poly1305@openssh.com", MAC: "implicit", Compression: "none"},
		ServerToClient: handshake.DirectionAlgorithms{Cipher: "chacha20-poly1305@openssh.com", MAC: "implicit", Compression: "none"},
	}
	timeline := []events.Event{
		{Kind: events.HostKeyAccepted, Index: 5},
		{Kind: events.UserAuthSuccess, Index: 20},
	}
	seqs := []classify.Sequence{
		{
			Events: []classify.Event{
				{Index: 21, Seq: 100, Category: classify.Keystroke, LatencyMicros: 0},
				{Index: 22, Seq: 136, Category: classify.Keystroke, LatencyMicros: 120000},
				{Index: 23, Seq: 172, Category: classify.Enter, LatencyMicros: 95000},
			},
			ResponseFootprint: 64,
		},
	}

	r := Build("10.0.0.1:51000", "10.0.0.2:22", first, last, "SSH-2.0-OpenSSH_9.0", "SSH-2.0-OpenSSH_9.0",
		"abc123", "def456", algs, timeline, seqs, true, nil)

	if r.DurationSeconds != 5 {
		t.Errorf("DurationSeconds = %v, want 5", r.DurationSeconds)
	}

	text := r.Text()
	for _, want := range []string{"Stream 10.0.0.1:51000 <-> 10.0.0.2:22", "hassh (client): abc123", "curve25519-sha256", "response_footprint_bytes: 64"} {
		if !strings.Contains(text, want) {
			t.Errorf("text report missing %q:\n%s", want, text)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	first := time.Unix(1700000000, 0)
	last := first.Add(2 * time.Second)
	r := Build("c", "s", first, last, "bannerC", "bannerS", "h1", "h2", handshake.AlgorithmSet{}, nil, nil, false, []string{"no USERAUTH_SUCCESS located"})

	data, err := r.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var got StreamReport
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.HasshClient != "h1" || got.HasshServer != "h2" {
		t.Errorf("round-trip lost hassh fields: %+v", got)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "no USERAUTH_SUCCESS located" {
		t.Errorf("round-trip lost warnings: %+v", got.Warnings)
	}
}

func TestTextKeystrokeSizeUnknown(t *testing.T) {
	first := time.Unix(0, 0)
	r := Build("c", "s", first, first, "", "", "", "", handshake.AlgorithmSet{}, nil, nil, false, nil)
	if !strings.Contains(r.Text(), "keystroke size unknown") {
		t.Errorf("expected keystroke-size-unknown notice in text report")
	}
}
