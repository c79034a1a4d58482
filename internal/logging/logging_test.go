package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New("info", "text", &buf)
	log.Info("hello analyzer")

	out := buf.String()
	if !strings.Contains(out, "hello analyzer") {
		t.Errorf("expected output to contain message, got: %s", out)
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "json", &buf)
	log.Debug("probe")

	out := buf.String()
	if !strings.Contains(out, `"msg":"probe"`) {
		t.Errorf("expected json output to contain msg field, got: %s", out)
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Info("discarded")
}
