// Package replay feeds datagrams from a packet capture into the bridge, so a
// recorded session can drive the visualisation without the device.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

// Ingester accepts datagram text and reports whether it changed the reading.
type Ingester interface {
	Ingest(text string) bool
}

// Config controls replay pacing.
type Config struct {
	// SpeedMultiplier scales the gaps between packets: 1.0 is real time,
	// 2.0 twice as fast. Zero or less replays without waiting.
	SpeedMultiplier float64

	// Port filters on UDP destination port. Zero accepts every port.
	Port int
}

// Stats summarises one replay.
type Stats struct {
	Packets  int           `json:"packets"`
	UDP      int           `json:"udp"`
	Matched  int           `json:"matched"`
	Ingested int           `json:"ingested"`
	Skipped  int           `json:"skipped"`
	Span     time.Duration `json:"span"`
}

// packetSource yields raw packets with capture metadata.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReplayFile replays the capture at path into dst. Both classic pcap and
// pcapng files are accepted.
func ReplayFile(ctx context.Context, path string, dst Ingester, cfg Config) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()

	src, err := openSource(f)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read capture %s: %w", path, err)
	}
	monitoring.Infof("Replaying %s (port filter %d, speed %.1fx)", path, cfg.Port, cfg.SpeedMultiplier)
	return Replay(ctx, src, dst, cfg)
}

func openSource(f *os.File) (packetSource, error) {
	if r, err := pcapgo.NewReader(f); err == nil {
		return r, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, fmt.Errorf("neither pcap nor pcapng: %w", err)
	}
	return r, nil
}

// Replay reads packets from src until EOF, handing each matching UDP
// payload to dst. With a positive SpeedMultiplier the original gaps between
// packets are kept, scaled.
func Replay(ctx context.Context, src packetSource, dst Ingester, cfg Config) (Stats, error) {
	var (
		stats      Stats
		first      time.Time
		last       time.Time
		replayFrom = time.Now()
	)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		if first.IsZero() {
			first = ci.Timestamp
		}
		last = ci.Timestamp

		if cfg.SpeedMultiplier > 0 {
			due := replayFrom.Add(time.Duration(float64(ci.Timestamp.Sub(first)) / cfg.SpeedMultiplier))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return stats, ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		packet := gopacket.NewPacket(data, src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		stats.UDP++
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			continue
		}
		stats.Matched++

		if len(udp.Payload) == 0 || !utf8.Valid(udp.Payload) {
			stats.Skipped++
			continue
		}
		if dst.Ingest(string(udp.Payload)) {
			stats.Ingested++
		}
	}

	if !first.IsZero() {
		stats.Span = last.Sub(first)
	}
	monitoring.Infof("Replay complete: %d packets, %d UDP, %d matched, %d ingested, %d skipped",
		stats.Packets, stats.UDP, stats.Matched, stats.Ingested, stats.Skipped)
	return stats, nil
}
