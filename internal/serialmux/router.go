package serialmux

import (
	"context"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/protocol"
)

// Ingester accepts telemetry text and reports whether it changed the reading.
type Ingester interface {
	Ingest(text string) bool
}

// RouteTelemetry forwards Sensors lines from the serial console to dst until
// ctx is done or the mux closes the subscription. Other lines (boot banners,
// firmware debug prints) are logged at debug level and dropped. It returns the
// number of lines that updated the reading.
func RouteTelemetry(ctx context.Context, mux SerialMuxInterface, dst Ingester) int {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	applied := 0
	for {
		select {
		case <-ctx.Done():
			return applied
		case line, ok := <-lines:
			if !ok {
				return applied
			}
			if protocol.Classify(line) != protocol.KindSensors {
				monitoring.Debugf("serial: %s", line)
				continue
			}
			if dst.Ingest(line) {
				applied++
			}
		}
	}
}
