package handshake

import (
	"encoding/binary"
	"testing"
)

func TestParseVersion(t *testing.T) {
	v := ParseVersion("SSH-2.0-OpenSSH_9.6 Ubuntu-3ubuntu1")
	if v.ProtoVersion != "2.0" {
		t.Errorf("ProtoVersion = %q, want 2.0", v.ProtoVersion)
	}
	if v.SoftwareVersion != "OpenSSH_9.6" {
		t.Errorf("SoftwareVersion = %q, want OpenSSH_9.6", v.SoftwareVersion)
	}
	if v.Comment != "Ubuntu-3ubuntu1" {
		t.Errorf("Comment = %q, want Ubuntu-3ubuntu1", v.Comment)
	}
}

func TestParseBannerCRLF(t *testing.T) {
	banner, rest, ok := ParseBanner([]byte("SSH-2.0-OpenSSH_9.0\r\nEXTRA"))
	if !ok {
		t.Fatal("expected ok")
	}
	if banner != "SSH-2.0-OpenSSH_9.0" {
		t.Errorf("banner = %q", banner)
	}
	if string(rest) != "EXTRA" {
		t.Errorf("rest = %q", rest)
	}
}

func TestParseBannerNotSSH(t *testing.T) {
	_, _, ok := ParseBanner([]byte("GET / HTTP/1.1\r\n"))
	if ok {
		t.Fatal("expected !ok for non-SSH payload")
	}
}

// buildKexInit constructs a wire-format KEXINIT body (cookie + ten
// name-lists + first_kex_packet_follows + reserved) for use as test
// fixtures.
func buildKexInit(lists [10][]string, firstFollows bool) []byte {
	var body []byte
	body = append(body, make([]byte, 16)...) // cookie
	for _, l := range lists {
		s := joinComma(l)
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(s)))
		body = append(body, lenBuf...)
		body = append(body, []byte(s)...)
	}
	if firstFollows {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	body = append(body, 0, 0, 0, 0) // reserved uint32
	return body
}

func joinComma(l []string) string {
	out := ""
	for i, s := range l {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func wrapCleartextPacket(msgType byte, body []byte) []byte {
	// payload = msgType + body; choose padLen so (1+len(payload)+padLen) % 8 == 0
	// and padLen >= 4, matching RFC 4253 framing.
	payload := append([]byte{msgType}, body...)
	padLen := 8 - (5+len(payload))%8
	if padLen < 4 {
		padLen += 8
	}
	padding := make([]byte, padLen)
	pktLen := 1 + len(payload) + padLen

	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(pktLen))
	out = append(out, byte(padLen))
	out = append(out, payload...)
	out = append(out, padding...)
	return out
}

func clientKex() *KexInitMsg {
	return &KexInitMsg{
		KexAlgorithms:           []string{"curve25519-sha256", "diffie-hellman-group14-sha256"},
		ServerHostKeyAlgorithms: []string{"rsa-sha2-512", "ssh-ed25519"},
		EncryptionAlgorithmsC2S: []string{"chacha20-poly1305@openssh.com", "aes256-gcm@openssh.com"},
		EncryptionAlgorithmsS2C: []string{"chacha20-poly1305@openssh.com", "aes256-gcm@openssh.com"},
		MACAlgorithmsC2S:        []string{"hmac-sha2-256-etm@openssh.com"},
		MACAlgorithmsS2C:        []string{"hmac-sha2-256-etm@openssh.com"},
		CompressionC2S:          []string{"none", "zlib@openssh.com"},
		CompressionS2C:          []string{"none", "zlib@openssh.com"},
		LanguagesC2S:            []string{},
		LanguagesS2C:            []string{},
	}
}

func serverKex() *KexInitMsg {
	return &KexInitMsg{
		KexAlgorithms:           []string{"diffie-hellman-group14-sha256", "curve25519-sha256"},
		ServerHostKeyAlgorithms: []string{"ssh-ed25519", "rsa-sha2-512"},
		EncryptionAlgorithmsC2S: []string{"aes256-gcm@openssh.com"},
		EncryptionAlgorithmsS2C: []string{"aes256-gcm@openssh.com"},
		MACAlgorithmsC2S:        []string{"hmac-sha2-256-etm@openssh.com"},
		MACAlgorithmsS2C:        []string{"hmac-sha2-256-etm@openssh.com"},
		CompressionC2S:          []string{"none"},
		CompressionS2C:          []string{"none"},
		LanguagesC2S:            []string{},
		LanguagesS2C:            []string{},
	}
}

func TestParseKexInitRoundTrip(t *testing.T) {
	want := clientKex()
	body := buildKexInit([10][]string{
		want.KexAlgorithms, want.ServerHostKeyAlgorithms,
		want.EncryptionAlgorithmsC2S, want.EncryptionAlgorithmsS2C,
		want.MACAlgorithmsC2S, want.MACAlgorithmsS2C,
		want.CompressionC2S, want.CompressionS2C,
		want.LanguagesC2S, want.LanguagesS2C,
	}, true)

	got, err := ParseKexInit(body)
	if err != nil {
		t.Fatalf("ParseKexInit: %v", err)
	}
	if len(got.KexAlgorithms) != 2 || got.KexAlgorithms[0] != "curve25519-sha256" {
		t.Errorf("KexAlgorithms = %v", got.KexAlgorithms)
	}
	if len(got.EncryptionAlgorithmsC2S) != 2 {
		t.Errorf("EncryptionAlgorithmsC2S = %v", got.EncryptionAlgorithmsC2S)
	}
	if !got.FirstKexPacketFollows {
		t.Errorf("FirstKexPacketFollows = false, want true")
	}
}

func TestParseKexInitTruncated(t *testing.T) {
	if _, err := ParseKexInit([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestDecodeCleartextPacketAndFindKexInit(t *testing.T) {
	body := buildKexInit([10][]string{
		clientKex().KexAlgorithms, clientKex().ServerHostKeyAlgorithms,
		clientKex().EncryptionAlgorithmsC2S, clientKex().EncryptionAlgorithmsS2C,
		clientKex().MACAlgorithmsC2S, clientKex().MACAlgorithmsS2C,
		clientKex().CompressionC2S, clientKex().CompressionS2C,
		clientKex().LanguagesC2S, clientKex().LanguagesS2C,
	}, false)
	raw := wrapCleartextPacket(msgKexInit, body)

	msgType, gotBody, ok := DecodeCleartextPacket(raw)
	if !ok {
		t.Fatal("expected ok")
	}
	if msgType != msgKexInit {
		t.Errorf("msgType = %d, want %d", msgType, msgKexInit)
	}
	if len(gotBody) != len(body) {
		t.Errorf("body length = %d, want %d", len(gotBody), len(body))
	}

	found, ok := FindKexInit([][]byte{[]byte("not a packet"), raw})
	if !ok {
		t.Fatal("FindKexInit: expected to find KEXINIT")
	}
	if len(found.KexAlgorithms) != 2 {
		t.Errorf("found.KexAlgorithms = %v", found.KexAlgorithms)
	}
}

func TestDecodeCleartextPacketTruncated(t *testing.T) {
	if _, _, ok := DecodeCleartextPacket([]byte{0, 0, 0, 100, 4}); ok {
		t.Fatal("expected !ok for a packet shorter than its declared length")
	}
}

func TestNegotiateFirstMatch(t *testing.T) {
	algs := Negotiate(clientKex(), serverKex())
	if algs.Kex != "curve25519-sha256" {
		t.Errorf("Kex = %q, want curve25519-sha256 (client preference order wins)", algs.Kex)
	}
	if algs.HostKey != "rsa-sha2-512" {
		t.Errorf("HostKey = %q, want rsa-sha2-512 (client preference order wins)", algs.HostKey)
	}
	if algs.ClientToServer.Cipher != "aes256-gcm@openssh.com" {
		t.Errorf("ClientToServer.Cipher = %q", algs.ClientToServer.Cipher)
	}
	if algs.ClientToServer.Compression != "none" {
		t.Errorf("ClientToServer.Compression = %q, want none", algs.ClientToServer.Compression)
	}
}

func TestNegotiateNoCommonAlgorithm(t *testing.T) {
	client := &KexInitMsg{KexAlgorithms: []string{"a"}, ServerHostKeyAlgorithms: []string{"x"},
		EncryptionAlgorithmsC2S: []string{"x"}, EncryptionAlgorithmsS2C: []string{"x"},
		MACAlgorithmsC2S: []string{"x"}, MACAlgorithmsS2C: []string{"x"},
		CompressionC2S: []string{"x"}, CompressionS2C: []string{"x"}}
	server := &KexInitMsg{KexAlgorithms: []string{"b"}, ServerHostKeyAlgorithms: []string{"y"},
		EncryptionAlgorithmsC2S: []string{"y"}, EncryptionAlgorithmsS2C: []string{"y"},
		MACAlgorithmsC2S: []string{"y"}, MACAlgorithmsS2C: []string{"y"},
		CompressionC2S: []string{"y"}, CompressionS2C: []string{"y"}}

	algs := Negotiate(client, server)
	if algs.Kex != "unknown" {
		t.Errorf("Kex = %q, want unknown", algs.Kex)
	}
}

func TestDelayedCompression(t *testing.T) {
	algs := AlgorithmSet{ClientToServer: DirectionAlgorithms{Compression: "zlib@openssh.com"}}
	if !algs.DelayedCompression() {
		t.Error("expected DelayedCompression true")
	}
	algs2 := AlgorithmSet{ClientToServer: DirectionAlgorithms{Compression: "none"}}
	if algs2.DelayedCompression() {
		t.Error("expected DelayedCompression false")
	}
}

func TestHasshClientServerDiffer(t *testing.T) {
	k := clientKex()
	k.EncryptionAlgorithmsS2C = []string{"aes256-gcm@openssh.com"}
	hc := HasshClient(k, false)
	hs := HasshServer(k, false)
	if len(hc) != 32 || len(hs) != 32 {
		t.Fatalf("hassh values should be 32 hex chars: hc=%q hs=%q", hc, hs)
	}
	if hc == hs {
		t.Error("client and server hassh should differ when c2s/s2c lists differ")
	}
}

func TestHasshDeterministic(t *testing.T) {
	k := clientKex()
	if HasshClient(k, false) != HasshClient(k, false) {
		t.Error("HasshClient should be deterministic")
	}
}

func TestHasshIncludeLanguages(t *testing.T) {
	k := clientKex()
	k.LanguagesC2S = []string{"en-US"}
	without := HasshClient(k, false)
	with := HasshClient(k, true)
	if without == with {
		t.Error("expected different hassh when languages are included")
	}
}
