// Package capture implements the Capture Reader (spec.md §4.1): it opens
// a pcap or pcap-ng file and yields PacketRecords for every IPv4/IPv6+TCP
// segment in capture order, dropping anything else. No live capture is
// ever attempted — offline files only.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/sshniff/sshniff/internal/sshniffErr"
)

// Direction is assigned later by the stream demultiplexer once client
// and server roles are known; the reader itself only records endpoints.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	ClientToServer
	ServerToClient
)

// Endpoint is an IP:port pair.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// PacketRecord is one captured TCP segment. Immutable after construction.
type PacketRecord struct {
	Index     int
	Timestamp time.Time
	Src       Endpoint
	Dst       Endpoint
	Seq       uint32
	Ack       uint32
	SYN       bool
	FIN       bool
	RST       bool
	Payload   []byte // nil/empty for pure control segments kept only for boundary detection
}

// PayloadLen is the TCP payload length, the quantity every later
// component classifies and sizes against.
func (p *PacketRecord) PayloadLen() int { return len(p.Payload) }

// Reader iterates TCP segments from a pcap/pcap-ng file in capture order.
type Reader struct {
	f       *os.File
	src     packetDataSource
	log     *logrus.Logger
	index   int
	skipped int // count of frames dropped (warning counter), see Skipped
}

type packetDataSource interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	LinkType() layers.LinkType
}

// magic numbers distinguishing classic pcap (including byte-swapped and
// nanosecond variants) from pcap-ng, read from the first 4 bytes.
var (
	pcapMagicLE        = []byte{0xd4, 0xc3, 0xb2, 0xa1}
	pcapMagicBE        = []byte{0xa1, 0xb2, 0xc3, 0xd4}
	pcapMagicLENano    = []byte{0x4d, 0x3c, 0xb2, 0xa1}
	pcapMagicBENano    = []byte{0xa1, 0xb2, 0x3c, 0x4d}
	pcapNgMagic        = []byte{0x0a, 0x0d, 0x0d, 0x0a}
)

// Open opens path and sniffs its format. Callers must call Close.
func Open(path string, log *logrus.Logger) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &sshniffErr.CaptureOpenError{Path: path, Err: err}
	}

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		f.Close()
		return nil, &sshniffErr.CaptureOpenError{Path: path, Err: err}
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, &sshniffErr.CaptureOpenError{Path: path, Err: err}
	}

	var src packetDataSource
	switch {
	case bytes.Equal(magic, pcapNgMagic):
		src, err = pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	case bytes.Equal(magic, pcapMagicLE), bytes.Equal(magic, pcapMagicBE),
		bytes.Equal(magic, pcapMagicLENano), bytes.Equal(magic, pcapMagicBENano):
		src, err = pcapgo.NewReader(f)
	default:
		f.Close()
		return nil, &sshniffErr.CaptureOpenError{Path: path, Err: fmt.Errorf("unrecognized capture format")}
	}
	if err != nil {
		f.Close()
		return nil, &sshniffErr.CaptureOpenError{Path: path, Err: err}
	}

	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
	}

	return &Reader{f: f, src: src, log: log}, nil
}

// Close releases the underlying file handle. Safe to call more than once.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Skipped returns the number of frames that were dropped, for
// diagnostics: frames that failed to read or decode, frames without an
// IPv4/IPv6+TCP layer, and zero-payload segments carrying no SYN/FIN/RST.
func (r *Reader) Skipped() int { return r.skipped }

// All drains the reader, returning every TCP-bearing PacketRecord in
// capture order. The file handle is released before returning, on every
// exit path.
func (r *Reader) All() ([]PacketRecord, error) {
	defer r.Close()

	layerType := r.src.LinkType().LayerType()
	var out []PacketRecord

	for {
		data, ci, err := r.src.ReadPacketData()
		if err == os.ErrClosed {
			break
		}
		if err != nil {
			if isEOF(err) {
				break
			}
			r.skipped++
			r.log.WithError(err).Debug("skipping unreadable frame")
			continue
		}

		rec, ok := decodeTCPSegment(data, ci, layerType, r.index)
		if !ok {
			r.skipped++
			continue
		}
		r.index++
		out = append(out, rec)
	}

	return out, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func decodeTCPSegment(data []byte, ci gopacket.CaptureInfo, linkType gopacket.LayerType, index int) (PacketRecord, bool) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return PacketRecord{}, false
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok {
		return PacketRecord{}, false
	}

	var srcIP, dstIP net.IP
	if ipv4 := packet.Layer(layers.LayerTypeIPv4); ipv4 != nil {
		ip := ipv4.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	} else if ipv6 := packet.Layer(layers.LayerTypeIPv6); ipv6 != nil {
		ip := ipv6.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	} else {
		return PacketRecord{}, false
	}

	payload := tcp.Payload
	// Drop zero-payload segments unless they carry SYN/FIN/RST, which
	// are retained only for stream boundary detection (spec.md §4.1).
	if len(payload) == 0 && !tcp.SYN && !tcp.FIN && !tcp.RST {
		return PacketRecord{}, false
	}

	rec := PacketRecord{
		Index:     index,
		Timestamp: ci.Timestamp,
		Src:       Endpoint{IP: srcIP, Port: uint16(tcp.SrcPort)},
		Dst:       Endpoint{IP: dstIP, Port: uint16(tcp.DstPort)},
		Seq:       tcp.Seq,
		Ack:       tcp.Ack,
		SYN:       tcp.SYN,
		FIN:       tcp.FIN,
		RST:       tcp.RST,
	}
	if len(payload) > 0 {
		rec.Payload = append([]byte(nil), payload...)
	}
	return rec, true
}
