package udpmux

import (
	"sync/atomic"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

// Stats is a snapshot of endpoint counters.
type Stats struct {
	Received        uint64 `json:"received"`
	Decoded         uint64 `json:"decoded"`
	Ignored         uint64 `json:"ignored"`
	InvalidUTF8     uint64 `json:"invalid_utf8"`
	DecodeErrors    uint64 `json:"decode_errors"`
	ReadErrors      uint64 `json:"read_errors"`
	Panics          uint64 `json:"panics"`
	Notifications   uint64 `json:"notifications"`
	DroppedNotifies uint64 `json:"dropped_notifies"`
	Sent            uint64 `json:"sent"`
	SendErrors      uint64 `json:"send_errors"`
	Mirrored        uint64 `json:"mirrored"`
	MirrorDropped   uint64 `json:"mirror_dropped"`
}

type counters struct {
	received        atomic.Uint64
	decoded         atomic.Uint64
	ignored         atomic.Uint64
	invalidUTF8     atomic.Uint64
	decodeErrors    atomic.Uint64
	readErrors      atomic.Uint64
	panics          atomic.Uint64
	notifications   atomic.Uint64
	droppedNotifies atomic.Uint64
	sent            atomic.Uint64
	sendErrors      atomic.Uint64
	mirrored        atomic.Uint64
	mirrorDropped   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:        c.received.Load(),
		Decoded:         c.decoded.Load(),
		Ignored:         c.ignored.Load(),
		InvalidUTF8:     c.invalidUTF8.Load(),
		DecodeErrors:    c.decodeErrors.Load(),
		ReadErrors:      c.readErrors.Load(),
		Panics:          c.panics.Load(),
		Notifications:   c.notifications.Load(),
		DroppedNotifies: c.droppedNotifies.Load(),
		Sent:            c.sent.Load(),
		SendErrors:      c.sendErrors.Load(),
		Mirrored:        c.mirrored.Load(),
		MirrorDropped:   c.mirrorDropped.Load(),
	}
}

// logStats prints the counters that moved since prev and returns the new
// snapshot.
func (c *counters) logStats(prev Stats) Stats {
	s := c.snapshot()
	if s == prev {
		return s
	}
	monitoring.Infof("UDP stats: received=%d (+%d) decoded=%d ignored=%d invalid_utf8=%d decode_errors=%d sent=%d send_errors=%d dropped_notifies=%d",
		s.Received, s.Received-prev.Received, s.Decoded, s.Ignored, s.InvalidUTF8,
		s.DecodeErrors, s.Sent, s.SendErrors, s.DroppedNotifies)
	return s
}
