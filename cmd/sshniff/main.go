// Command sshniff reconstructs an SSH session's timeline from a pcap
// capture without ever decrypting a byte: banner and KEXINIT metadata,
// HASSH fingerprints, phase boundaries, and (when the cipher suite
// allows it) a per-keystroke timeline inferred from packet sizes and
// echo latency alone.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	flags "github.com/zmap/zflags"

	"github.com/sshniff/sshniff/internal/analyzeconfig"
	"github.com/sshniff/sshniff/internal/analyzer"
	"github.com/sshniff/sshniff/internal/logging"
	"github.com/sshniff/sshniff/internal/metrics"
	"github.com/sshniff/sshniff/internal/report"
	"github.com/sshniff/sshniff/internal/sshniffErr"
)

// Flags is the sshniff command line, parsed with the same zflags
// struct-tag conventions (long/short/description, Validate) used
// throughout every scan module's Flags type.
type Flags struct {
	File   string `short:"f" long:"file" description:"Capture file to analyze (pcap or pcap-ng)"`
	Outdir string `short:"o" long:"outdir" description:"Write one report file per stream here instead of stdout"`
	Port   uint16 `short:"p" long:"port" default:"22" description:"SSH port to demultiplex streams on"`
	JSON   bool   `long:"json" description:"Emit the machine-readable JSON form instead of text"`
	Config string `long:"config" description:"YAML file overriding the default analyzeconfig knobs"`

	LogLevel  string `long:"log-level" default:"info" description:"debug, info, warn, or error"`
	LogFormat string `long:"log-format" default:"text" description:"text or json"`

	MetricsOut string `long:"metrics-out" description:"Write a Prometheus text-exposition snapshot of run counters here"`

	Positional struct {
		File string `positional-arg-name:"file" description:"Capture file (alternative to -f)"`
	} `positional-args:"yes"`
}

// Validate resolves the positional fallback and rejects a missing
// capture file before any analysis begins.
func (f *Flags) Validate(args []string) error {
	if f.File == "" {
		f.File = f.Positional.File
	}
	if f.File == "" {
		return fmt.Errorf("a capture file is required, e.g. sshniff -f session.pcap")
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts Flags
	parser := flags.NewParser(&opts, flags.Default)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := opts.Validate(rest); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	log := logging.New(opts.LogLevel, opts.LogFormat, stderr)

	cfg := analyzeconfig.Default()
	cfg.SSHPort = opts.Port
	if opts.Config != "" {
		loaded, err := analyzeconfig.Load(opts.Config)
		if err != nil {
			log.WithError(err).Error("failed to load config")
			return 1
		}
		loaded.SSHPort = opts.Port
		cfg = loaded
	}

	m := metrics.New()
	reports, err := analyzer.Run(opts.File, cfg, log, m)
	if err != nil {
		return exitCodeFor(err, log)
	}

	if err := writeReports(reports, opts, stdout); err != nil {
		log.WithError(err).Error("failed to write reports")
		return 1
	}

	if opts.MetricsOut != "" {
		if err := dumpMetrics(m, opts.MetricsOut); err != nil {
			log.WithError(err).Error("failed to write metrics")
			return 1
		}
	}

	return 0
}

func exitCodeFor(err error, log *logrus.Logger) int {
	switch err.(type) {
	case *sshniffErr.CaptureOpenError:
		log.WithError(err).Error("capture open failed")
		return 1
	case *sshniffErr.NoSshStreams:
		log.WithError(err).Warn("no SSH streams in capture")
		return 2
	case *sshniffErr.InternalInconsistency:
		log.WithError(err).Error("internal inconsistency")
		return 3
	default:
		log.WithError(err).Error("analysis failed")
		return 1
	}
}

func writeReports(reports []report.StreamReport, opts Flags, stdout io.Writer) error {
	for i, r := range reports {
		body, err := renderReport(r, opts.JSON)
		if err != nil {
			return err
		}
		if opts.Outdir == "" {
			fmt.Fprintln(stdout, body)
			continue
		}
		if err := os.MkdirAll(opts.Outdir, 0o755); err != nil {
			return err
		}
		ext := "txt"
		if opts.JSON {
			ext = "json"
		}
		name := filepath.Join(opts.Outdir, fmt.Sprintf("stream-%03d.%s", i, ext))
		if err := os.WriteFile(name, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func renderReport(r report.StreamReport, asJSON bool) (string, error) {
	if asJSON {
		b, err := r.JSON()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return r.Text(), nil
}

func dumpMetrics(m *metrics.Counters, path string) error {
	b, err := m.Dump()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
