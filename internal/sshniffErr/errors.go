// Package sshniffErr defines the named error kinds produced by the
// analyzer pipeline. Per-stream errors are recovered by the caller and
// attached to a partial report; process-level errors are fatal.
package sshniffErr

import "fmt"

// CaptureOpenError means the capture file is missing, unreadable, or not
// a recognized pcap/pcap-ng format. Fatal.
type CaptureOpenError struct {
	Path string
	Err  error
}

func (e *CaptureOpenError) Error() string {
	return fmt.Sprintf("open capture %q: %v", e.Path, e.Err)
}

func (e *CaptureOpenError) Unwrap() error { return e.Err }

// NoSshStreams means no 4-tuple on the SSH port survived demultiplexing.
// Surfaced as process exit code 2.
type NoSshStreams struct {
	Port uint16
}

func (e *NoSshStreams) Error() string {
	return fmt.Sprintf("no SSH streams found on port %d", e.Port)
}

// MalformedHandshake means the banner or KEXINIT could not be parsed.
// Recovered per-stream: algorithms are marked unknown and analysis
// continues.
type MalformedHandshake struct {
	Reason string
}

func (e *MalformedHandshake) Error() string {
	return fmt.Sprintf("malformed handshake: %s", e.Reason)
}

// KeystrokeSizeUnknown means the oracle could not derive a keystroke
// footprint. Recovered: the classifier still emits timeline events but no
// KeystrokeSequences.
type KeystrokeSizeUnknown struct {
	Reason string
}

func (e *KeystrokeSizeUnknown) Error() string {
	return fmt.Sprintf("keystroke size unknown: %s", e.Reason)
}

// PhaseInferenceFailed means USERAUTH_SUCCESS could not be located.
// Recovered: the report lists phases up to the last known one; no
// keystroke analysis is attempted.
type PhaseInferenceFailed struct {
	Reason string
}

func (e *PhaseInferenceFailed) Error() string {
	return fmt.Sprintf("phase inference failed: %s", e.Reason)
}

// InternalInconsistency means an invariant (monotonic seq, paired ack
// arithmetic) failed. Fatal with exit code 3; indicates a bug.
type InternalInconsistency struct {
	Reason string
}

func (e *InternalInconsistency) Error() string {
	return fmt.Sprintf("internal inconsistency: %s", e.Reason)
}
