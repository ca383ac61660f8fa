package db

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/timeutil"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

// Recorder persists every reading from a Source and every command reported
// to ObserveCommand under a single session.
type Recorder struct {
	db      *DB
	session Session
	peer    string
	port    int
	clock   timeutil.Clock

	written atomic.Uint64
	failed  atomic.Uint64

	once sync.Once
	done chan struct{}
}

// NewRecorder starts a session for the given endpoint addresses.
func NewRecorder(db *DB, listenPort int, peerHost string, peerPort int, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s, err := db.StartSession(listenPort, peerHost, clock.Now())
	if err != nil {
		return nil, err
	}
	return &Recorder{
		db:      db,
		session: s,
		peer:    peerHost,
		port:    peerPort,
		clock:   clock,
		done:    make(chan struct{}),
	}, nil
}

func (r *Recorder) Session() Session { return r.session }

// Run records readings from src until ctx is done or src closes the
// subscription.
func (r *Recorder) Run(ctx context.Context, src twin.Source) {
	defer r.once.Do(func() { close(r.done) })

	id, ch := src.Subscribe()
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-ch:
			if !ok {
				return
			}
			if err := r.db.RecordReading(r.session.ID, reading); err != nil {
				r.failed.Add(1)
				monitoring.Errorf("failed to record reading #%d: %v", reading.Sequence, err)
				continue
			}
			r.written.Add(1)
		}
	}
}

// Done is closed when Run returns.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// ObserveCommand has the twin.CommandObserver signature. Commands are
// attributed to the default peer.
func (r *Recorder) ObserveCommand(message string, sendErr error) {
	r.RecordSent(message, r.peer, r.port, sendErr)
}

// RecordSent stores one command sent to host:port.
func (r *Recorder) RecordSent(message, host string, port int, sendErr error) {
	rec := CommandRecord{
		SessionID: r.session.ID,
		Command:   message,
		Host:      host,
		Port:      port,
		OK:        sendErr == nil,
		SentAt:    r.clock.Now(),
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	if err := r.db.RecordCommand(rec); err != nil {
		r.failed.Add(1)
		monitoring.Errorf("failed to record command %q: %v", message, err)
	}
}

// Counts returns the number of readings written and of failed writes.
func (r *Recorder) Counts() (written, failed uint64) {
	return r.written.Load(), r.failed.Load()
}
