// Package bus republishes readings onto message brokers and accepts
// commands from them. Each broker is optional; the bridge runs without any.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

// ReadingPublisher delivers one encoded reading to a broker.
type ReadingPublisher interface {
	Name() string
	PublishReading(ctx context.Context, payload []byte) error
}

// Message is the JSON document published for each reading.
type Message struct {
	Source  string       `json:"source"`
	Reading twin.Reading `json:"reading"`
}

// PublisherStats counts outcomes for one publisher.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

type target struct {
	pub       ReadingPublisher
	published atomic.Uint64
	failed    atomic.Uint64
}

// Forwarder fans readings from a Source out to every configured publisher.
type Forwarder struct {
	source  string
	timeout time.Duration
	targets []*target
}

// NewForwarder builds a forwarder that labels messages with source. Nil
// publishers are skipped.
func NewForwarder(source string, pubs ...ReadingPublisher) *Forwarder {
	f := &Forwarder{source: source, timeout: 2 * time.Second}
	for _, p := range pubs {
		if p != nil {
			f.targets = append(f.targets, &target{pub: p})
		}
	}
	return f
}

// Enabled reports whether there is anything to publish to.
func (f *Forwarder) Enabled() bool { return len(f.targets) > 0 }

// Run publishes each reading until ctx is done or src closes the
// subscription. A failing publisher does not hold back the others.
func (f *Forwarder) Run(ctx context.Context, src twin.Source) {
	if !f.Enabled() {
		return
	}
	id, ch := src.Subscribe()
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			f.publish(ctx, r)
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, r twin.Reading) {
	payload, err := json.Marshal(Message{Source: f.source, Reading: r})
	if err != nil {
		monitoring.Errorf("bus: marshal reading: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, t := range f.targets {
		wg.Add(1)
		go func(t *target) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			if err := t.pub.PublishReading(pctx, payload); err != nil {
				// log the first failure and then every hundredth
				if n := t.failed.Add(1); n == 1 || n%100 == 0 {
					monitoring.Warnf("bus: %s publish failed (%d so far): %v", t.pub.Name(), n, err)
				}
				return
			}
			t.published.Add(1)
		}(t)
	}
	wg.Wait()
}

// Stats returns per-publisher counters keyed by publisher name.
func (f *Forwarder) Stats() map[string]PublisherStats {
	out := make(map[string]PublisherStats, len(f.targets))
	for _, t := range f.targets {
		out[t.pub.Name()] = PublisherStats{
			Published: t.published.Load(),
			Failed:    t.failed.Load(),
		}
	}
	return out
}
