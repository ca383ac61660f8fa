package replay

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIngester struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingIngester) Ingest(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return strings.HasPrefix(text, "Sensors|")
}

type capturedPacket struct {
	at      time.Duration
	dstPort uint16
	payload []byte
	tcp     bool
}

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func frame(t *testing.T, p capturedPacket) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x24, 0x6f, 0x28, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    net.IPv4(192, 168, 4, 2),
		DstIP:    net.IPv4(192, 168, 4, 1),
		Protocol: layers.IPProtocolUDP,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if p.tcp {
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{SrcPort: 5000, DstPort: layers.TCPPort(p.dstPort), Window: 1024}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(p.payload)))
		return buf.Bytes()
	}

	udp := &layers.UDP{SrcPort: 4210, DstPort: layers.UDPPort(p.dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.payload)))
	return buf.Bytes()
}

func writePcap(t *testing.T, packets []capturedPacket) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, p := range packets {
		data := frame(t, p)
		ci := gopacket.CaptureInfo{Timestamp: t0.Add(p.at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func writePcapng(t *testing.T, packets []capturedPacket) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, p := range packets {
		data := frame(t, p)
		ci := gopacket.CaptureInfo{Timestamp: t0.Add(p.at), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	require.NoError(t, w.Flush())
	return path
}

func session() []capturedPacket {
	return []capturedPacket{
		{at: 0, dstPort: 4211, payload: []byte("Sensors|A:90|B:90|C:90|Plate:0|Dist:120")},
		{at: 50 * time.Millisecond, dstPort: 4211, payload: []byte("Status|ready")},
		{at: 100 * time.Millisecond, dstPort: 5353, payload: []byte("Sensors|A:0|B:0|C:0|Plate:0|Dist:1")},
		{at: 150 * time.Millisecond, dstPort: 4211, tcp: true, payload: []byte("Sensors|A:1")},
		{at: 200 * time.Millisecond, dstPort: 4211, payload: []byte{0xff, 0xfe, 0x00}},
		{at: 250 * time.Millisecond, dstPort: 4211, payload: []byte("Sensors|A:100|Dist:95")},
	}
}

func TestReplayFile_Pcap(t *testing.T) {
	path := writePcap(t, session())
	dst := &recordingIngester{}

	stats, err := ReplayFile(context.Background(), path, dst, Config{Port: 4211})
	require.NoError(t, err)

	assert.Equal(t, Stats{
		Packets:  6,
		UDP:      5,
		Matched:  4,
		Ingested: 2,
		Skipped:  1,
		Span:     250 * time.Millisecond,
	}, stats)
	assert.Equal(t, []string{
		"Sensors|A:90|B:90|C:90|Plate:0|Dist:120",
		"Status|ready",
		"Sensors|A:100|Dist:95",
	}, dst.texts)
}

func TestReplayFile_PcapngAnyPort(t *testing.T) {
	path := writePcapng(t, session())
	dst := &recordingIngester{}

	stats, err := ReplayFile(context.Background(), path, dst, Config{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Matched)
	assert.Equal(t, 3, stats.Ingested)
}

func TestReplayFile_KeepsTiming(t *testing.T) {
	path := writePcap(t, []capturedPacket{
		{at: 0, dstPort: 4211, payload: []byte("Sensors|A:1")},
		{at: 200 * time.Millisecond, dstPort: 4211, payload: []byte("Sensors|A:2")},
	})

	start := time.Now()
	_, err := ReplayFile(context.Background(), path, &recordingIngester{}, Config{SpeedMultiplier: 2})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestReplayFile_Cancelled(t *testing.T) {
	path := writePcap(t, []capturedPacket{
		{at: 0, dstPort: 4211, payload: []byte("Sensors|A:1")},
		{at: time.Hour, dstPort: 4211, payload: []byte("Sensors|A:2")},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dst := &recordingIngester{}
	stats, err := ReplayFile(ctx, path, dst, Config{SpeedMultiplier: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, stats.Ingested)
}

func TestReplayFile_Errors(t *testing.T) {
	_, err := ReplayFile(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), &recordingIngester{}, Config{})
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("not a capture file at all"), 0o644))
	_, err = ReplayFile(context.Background(), junk, &recordingIngester{}, Config{})
	assert.ErrorContains(t, err, "neither pcap nor pcapng")
}
