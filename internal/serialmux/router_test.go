package serialmux

import (
	"context"
	"sync"
	"testing"
	"time"

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
	return text != "Sensors|junk"
}

func (r *recordingIngester) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestRouteTelemetryForwardsSensorsOnly(t *testing.T) {
	port := NewTestableSerialPort()
	s := NewSerialMux(port)
	dst := &recordingIngester{}

	routed := make(chan int, 1)
	go func() { routed <- RouteTelemetry(context.Background(), s, dst) }()
	// wait for the router to subscribe
	require.Eventually(t, func() bool {
		s.subscriberMu.Lock()
		defer s.subscriberMu.Unlock()
		return len(s.subscribers) == 1
	}, time.Second, 5*time.Millisecond)

	startMonitor(t, s)
	port.Feed("ets Jun  8 2016 00:22:57\nSensors|A:12|B:40\nSensors|junk\nServo|A:1\nSensors|Plate:2\n")

	require.Eventually(t, func() bool { return len(dst.seen()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Sensors|A:12|B:40", "Sensors|junk", "Sensors|Plate:2"}, dst.seen())

	require.NoError(t, s.Close())
	select {
	case n := <-routed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("RouteTelemetry did not return after Close")
	}
}

func TestRouteTelemetryStopsOnCancel(t *testing.T) {
	d := NewDisabledSerialMux("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, RouteTelemetry(ctx, d, &recordingIngester{}))
}
