package phase

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/sshniff/sshniff/internal/capture"
	"github.com/sshniff/sshniff/internal/cipherkind"
	"github.com/sshniff/sshniff/internal/handshake"
	"github.com/sshniff/sshniff/internal/sshstream"
)

func ep(ip string, port uint16) capture.Endpoint {
	return capture.Endpoint{IP: net.ParseIP(ip), Port: port}
}

func pkt(index int, src, dst capture.Endpoint, payload []byte, fin bool) capture.PacketRecord {
	return capture.PacketRecord{Index: index, Timestamp: time.Unix(int64(index), 0), Src: src, Dst: dst, Payload: payload, FIN: fin}
}

func cleartextPacket(t *testing.T, msgType byte, body []byte) []byte {
	t.Helper()
	payload := append([]byte{msgType}, body...)
	padLen := 8 - (5+len(payload))%8
	if padLen < 4 {
		padLen += 8
	}
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(1+len(payload)+padLen))
	out = append(out, byte(padLen))
	out = append(out, payload...)
	out = append(out, make([]byte, padLen)...)
	return out
}

func kexInitBody() []byte {
	list := func(s string) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(len(s)))
		return append(b, []byte(s)...)
	}
	body := make([]byte, 16)
	for i := 0; i < 10; i++ {
		body = append(body, list("x")...)
	}
	body = append(body, 0, 0, 0, 0, 0)
	return body
}

func TestClassifyFullWalk(t *testing.T) {
	client := ep("10.0.0.1", 51000)
	server := ep("10.0.0.2", 22)

	algs := handshake.AlgorithmSet{
		ServerToClient: handshake.DirectionAlgorithms{Cipher: "aes256-gcm@openssh.com", MAC: ""},
	}
	k, _ := cipherkind.Lookup(algs.ServerToClient.Cipher, algs.ServerToClient.MAC)
	successLen := cipherkind.FramedSize(cipherkind.UserAuthSuccessPayloadLen, k.BlockSize, k.AuthLen, k.Flags)

	kexInit := cleartextPacket(t, 20, kexInitBody())

	records := []capture.PacketRecord{
		pkt(0, server, client, []byte("SSH-2.0-OpenSSH_9.0\r\n"), false),
		pkt(1, client, server, []byte("SSH-2.0-OpenSSH_9.0\r\n"), false),
		pkt(2, client, server, kexInit, false),
		pkt(3, server, client, kexInit, false),
		pkt(4, client, server, cleartextPacket(t, 21, nil), false),
		pkt(5, server, client, cleartextPacket(t, 21, nil), false),
		pkt(6, client, server, make([]byte, 64), false), // presumed auth attempt
		pkt(7, server, client, make([]byte, successLen), false),
		pkt(8, server, client, []byte("shell output"), false),
		pkt(9, client, server, nil, true),
	}

	s := sshstream.Demultiplex(records, 22)
	if len(s) != 1 {
		t.Fatalf("got %d streams, want 1", len(s))
	}

	b := Classify(s[0], algs)
	if b.BannerDoneIndex != 1 {
		t.Errorf("BannerDoneIndex = %d, want 1", b.BannerDoneIndex)
	}
	if b.KexInitDoneIndex != 3 {
		t.Errorf("KexInitDoneIndex = %d, want 3", b.KexInitDoneIndex)
	}
	if b.NewKeysIndex != 5 {
		t.Errorf("NewKeysIndex = %d, want 5", b.NewKeysIndex)
	}
	if b.UserAuthSuccessIndex != 7 {
		t.Errorf("UserAuthSuccessIndex = %d, want 7", b.UserAuthSuccessIndex)
	}

	if got := Of(0, b); got != Banner {
		t.Errorf("Of(0) = %v, want Banner", got)
	}
	if got := Of(5, b); got != NewKeys {
		t.Errorf("Of(5) = %v, want NewKeys", got)
	}
	if got := Of(6, b); got != UserAuth {
		t.Errorf("Of(6) = %v, want UserAuth", got)
	}
	if got := Of(8, b); got != Session {
		t.Errorf("Of(8) = %v, want Session", got)
	}
}

func TestClassifyNoUserAuthMatch(t *testing.T) {
	client := ep("10.0.0.1", 51000)
	server := ep("10.0.0.2", 22)
	algs := handshake.AlgorithmSet{ServerToClient: handshake.DirectionAlgorithms{Cipher: "aes256-gcm@openssh.com"}}

	records := []capture.PacketRecord{
		pkt(0, client, server, cleartextPacket(t, 21, nil), false),
		pkt(1, server, client, cleartextPacket(t, 21, nil), false),
		pkt(2, server, client, []byte("not a matching size at all here"), false),
		pkt(3, client, server, []byte("x"), false),
		pkt(4, server, client, []byte("y"), false),
		pkt(5, client, server, nil, true),
	}
	s := sshstream.Demultiplex(records, 22)
	b := Classify(s[0], algs)
	if b.UserAuthSuccessIndex != -1 {
		t.Errorf("UserAuthSuccessIndex = %d, want -1 (no footprint match)", b.UserAuthSuccessIndex)
	}
}
