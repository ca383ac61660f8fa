// Package udpmux provides the UDP endpoint that links the twin to the arm
// controller. A single bound socket receives Sensors telemetry, merges it
// into the latest reading and fans it out to subscribers, and the same socket
// sends fire-and-forget command datagrams back to the device.
package udpmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/protocol"
	"github.com/banshee-data/twin.bridge/internal/timeutil"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

// State is the endpoint lifecycle.
type State int32

const (
	StateUnopened State = iota
	StateListening
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// subscriberBuffer is the per-subscriber channel depth.
const subscriberBuffer = 16

type datagram struct {
	data []byte
	from *net.UDPAddr
	at   time.Time
}

// Endpoint owns one bound UDP socket for its whole lifetime.
type Endpoint struct {
	cfg     Config
	sock    UDPSocket
	factory UDPSocketFactory
	clock   timeutil.Clock
	mirror  *Mirror

	state     atomic.Int32
	closing   atomic.Bool
	closeOnce sync.Once
	stopCtx   func() bool

	// dispatchMu serialises merge+notify against Close so that no
	// notification starts once Close has returned.
	dispatchMu sync.Mutex

	readingMu sync.RWMutex
	reading   twin.Reading

	subscriberMu sync.Mutex
	subscribers  map[string]chan twin.Reading

	callbackMu sync.Mutex
	callbacks  []func(twin.Reading)

	queue chan datagram
	stop  chan struct{}
	wg    sync.WaitGroup

	counters counters
}

// Option customises Open.
type Option func(*Endpoint)

// WithSocketFactory replaces the real network with f.
func WithSocketFactory(f UDPSocketFactory) Option {
	return func(e *Endpoint) { e.factory = f }
}

// WithClock sets the clock used to timestamp readings and drive stats logging.
func WithClock(c timeutil.Clock) Option {
	return func(e *Endpoint) { e.clock = c }
}

// WithMirror forwards a copy of every inbound datagram through m. The
// endpoint takes ownership of m and closes it.
func WithMirror(m *Mirror) Option {
	return func(e *Endpoint) { e.mirror = m }
}

// Open binds the listening socket and starts receiving immediately. A bind
// failure is returned as *BindError. Cancelling ctx closes the endpoint.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	e := &Endpoint{
		cfg:         cfg,
		factory:     RealUDPSocketFactory{},
		clock:       timeutil.RealClock{},
		subscribers: make(map[string]chan twin.Reading),
		queue:       make(chan datagram, cfg.QueueSize),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	laddr := &net.UDPAddr{Port: cfg.ListenPort}
	if cfg.ListenHost != "" {
		ip := net.ParseIP(cfg.ListenHost)
		if ip == nil {
			if e.mirror != nil {
				e.mirror.Close()
			}
			return nil, &BindError{Addr: net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.ListenPort)), Err: fmt.Errorf("invalid listen host %q", cfg.ListenHost)}
		}
		laddr.IP = ip
	}

	sock, err := e.factory.ListenUDP("udp4", laddr)
	if err != nil {
		if e.mirror != nil {
			e.mirror.Close()
		}
		return nil, &BindError{Addr: laddr.String(), Err: err}
	}
	e.sock = sock

	if cfg.ReadBuffer > 0 {
		if err := sock.SetReadBuffer(cfg.ReadBuffer); err != nil {
			monitoring.Warnf("Failed to set UDP receive buffer size to %d: %v", cfg.ReadBuffer, err)
		}
	}

	if e.mirror != nil {
		e.mirror.counters = &e.counters
		e.mirror.start()
	}

	e.state.Store(int32(StateListening))
	monitoring.Infof("UDP endpoint listening on %s (peer %s)", sock.LocalAddr(), e.peerAddr())

	e.wg.Add(3)
	go e.readLoop()
	go e.dispatchLoop()
	go e.statsLoop()

	e.stopCtx = context.AfterFunc(ctx, func() {
		if err := e.Close(); err != nil {
			monitoring.Errorf("Closing UDP endpoint after cancellation: %v", err)
		}
	})
	return e, nil
}

func (e *Endpoint) peerAddr() string {
	return net.JoinHostPort(e.cfg.PeerHost, strconv.Itoa(e.cfg.PeerPort))
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.sock.LocalAddr()
}

// Config returns the effective configuration.
func (e *Endpoint) Config() Config {
	return e.cfg
}

// State returns the current lifecycle state.
func (e *Endpoint) State() State {
	return State(e.state.Load())
}

// Stats returns a snapshot of the endpoint counters.
func (e *Endpoint) Stats() Stats {
	return e.counters.snapshot()
}

// readRetryDelay paces the read loop after a socket error that is neither a
// timeout nor a close.
var readRetryDelay = 20 * time.Millisecond

// readLoop keeps exactly one receive outstanding and hands each datagram to
// the dispatch goroutine before re-arming.
func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	defer close(e.queue)

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := e.sock.ReadFromUDP(buf)
		if err != nil {
			if e.closing.Load() || isClosedErr(err) {
				return
			}
			if isTimeout(err) {
				continue
			}
			if n := e.counters.readErrors.Add(1); n == 1 || n%100 == 0 {
				monitoring.Errorf("UDP receive error (%d so far): %v", n, err)
			}
			select {
			case <-time.After(readRetryDelay):
			case <-e.stop:
				return
			}
			continue
		}

		pkt := datagram{
			data: append([]byte(nil), buf[:n]...),
			from: addr,
			at:   e.clock.Now(),
		}
		select {
		case e.queue <- pkt:
		case <-e.stop:
			return
		}
	}
}

func (e *Endpoint) dispatchLoop() {
	defer e.wg.Done()
	for pkt := range e.queue {
		e.handleDatagram(pkt)
	}
}

func (e *Endpoint) statsLoop() {
	defer e.wg.Done()
	ticker := e.clock.NewTicker(e.cfg.LogInterval)
	defer ticker.Stop()

	var prev Stats
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C():
			prev = e.counters.logStats(prev)
		}
	}
}

func (e *Endpoint) handleDatagram(pkt datagram) {
	defer func() {
		if r := recover(); r != nil {
			e.counters.panics.Add(1)
			monitoring.Errorf("Recovered while handling datagram from %v: %v", pkt.from, r)
		}
	}()

	if e.closing.Load() {
		return
	}
	e.counters.received.Add(1)

	if e.mirror != nil {
		e.mirror.forward(pkt.data)
	}

	if !utf8.Valid(pkt.data) {
		e.counters.invalidUTF8.Add(1)
		monitoring.Warnf("Discarding %d-byte datagram from %v: not valid UTF-8", len(pkt.data), pkt.from)
		return
	}

	text := string(pkt.data)
	if e.cfg.Verbose {
		monitoring.Infof("Received data from %v: %s", pkt.from, text)
	}
	e.ingest(text, pkt.at)
}

// Ingest runs text through the same decode, merge and notify path as a
// received datagram. It reports whether the reading changed. Other transports
// (a serial console, a capture replay) use it to feed the endpoint.
func (e *Endpoint) Ingest(text string) bool {
	if e.closing.Load() {
		return false
	}
	return e.ingest(text, e.clock.Now())
}

func (e *Endpoint) ingest(text string, at time.Time) bool {
	d, err := protocol.Decode(text)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Rejected() {
			e.counters.ignored.Add(1)
			monitoring.Warnf("Received data is not in the expected format: %q", clip(text, 80))
			return false
		}
		e.counters.decodeErrors.Add(1)
		monitoring.Warnf("Skipped malformed Sensors fields: %v", err)
	}

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if e.closing.Load() {
		return false
	}

	e.readingMu.Lock()
	merged := e.reading.Merge(d, at)
	r := e.reading
	e.readingMu.Unlock()
	if !merged {
		return false
	}

	e.counters.decoded.Add(1)
	if e.cfg.Verbose {
		monitoring.Debugf("Reading #%d: A=%d B=%d C=%d plate=%d dist=%d",
			r.Sequence, r.JointA, r.JointB, r.JointC, r.Plate, r.Distance)
	}
	e.notify(r)
	return true
}

func (e *Endpoint) notify(r twin.Reading) {
	e.subscriberMu.Lock()
	for _, ch := range e.subscribers {
		select {
		case ch <- r:
			e.counters.notifications.Add(1)
		default:
			e.counters.droppedNotifies.Add(1)
		}
	}
	e.subscriberMu.Unlock()

	e.callbackMu.Lock()
	cbs := slices.Clone(e.callbacks)
	e.callbackMu.Unlock()
	for _, fn := range cbs {
		e.runCallback(fn, r)
	}
}

func (e *Endpoint) runCallback(fn func(twin.Reading), r twin.Reading) {
	defer func() {
		if rec := recover(); rec != nil {
			e.counters.panics.Add(1)
			monitoring.Errorf("Reading callback panicked: %v", rec)
		}
	}()
	e.counters.notifications.Add(1)
	fn(r)
}

// LatestReading returns a copy of the most recent merged state.
func (e *Endpoint) LatestReading() twin.Reading {
	e.readingMu.RLock()
	defer e.readingMu.RUnlock()
	return e.reading
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a channel that receives every merged reading. Readings
// are dropped for a subscriber whose buffer is full. The channel is closed by
// Unsubscribe or Close.
func (e *Endpoint) Subscribe() (string, <-chan twin.Reading) {
	id := randomID()
	ch := make(chan twin.Reading, subscriberBuffer)
	e.subscriberMu.Lock()
	defer e.subscriberMu.Unlock()
	if e.closing.Load() {
		close(ch)
		return id, ch
	}
	e.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (e *Endpoint) Unsubscribe(id string) {
	e.subscriberMu.Lock()
	defer e.subscriberMu.Unlock()
	if ch, ok := e.subscribers[id]; ok {
		close(ch)
		delete(e.subscribers, id)
	}
}

// OnReading registers fn to run on the dispatch goroutine after every merged
// reading. fn must not block for long and must not call Close.
func (e *Endpoint) OnReading(fn func(twin.Reading)) {
	e.callbackMu.Lock()
	e.callbacks = append(e.callbacks, fn)
	e.callbackMu.Unlock()
}

// Send transmits message as a single datagram to host:port. It never waits
// for a reply and never retries. Failures are logged and returned as
// *SendError; after Close it returns ErrClosed.
func (e *Endpoint) Send(message, host string, port int) error {
	if e.closing.Load() {
		return ErrClosed
	}

	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return e.sendFailed(host, port, err)
	}

	n, err := e.sock.WriteToUDP([]byte(message), addr)
	if err != nil {
		if e.closing.Load() || isClosedErr(err) {
			return ErrClosed
		}
		return e.sendFailed(host, port, err)
	}
	if n != len(message) {
		return e.sendFailed(host, port, io.ErrShortWrite)
	}

	e.counters.sent.Add(1)
	if e.cfg.Verbose {
		monitoring.Infof("UDP message sent to %s: %s", addr, message)
	}
	return nil
}

// SendDefault sends message to the configured peer.
func (e *Endpoint) SendDefault(message string) error {
	return e.Send(message, e.cfg.PeerHost, e.cfg.PeerPort)
}

func (e *Endpoint) sendFailed(host string, port int, err error) error {
	e.counters.sendErrors.Add(1)
	se := &SendError{Host: host, Port: port, Err: err}
	monitoring.Errorf("Error sending UDP message: %v", se)
	return se
}

// Close stops receiving, releases the socket and closes all subscriber
// channels. It is idempotent and safe to call from any goroutine except an
// OnReading callback. After Close returns no further notifications are
// delivered.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.state.Store(int32(StateClosing))

		e.dispatchMu.Lock()
		e.closing.Store(true)
		e.dispatchMu.Unlock()

		close(e.stop)
		if cerr := e.sock.Close(); cerr != nil && !isClosedErr(cerr) {
			err = cerr
		}
		e.wg.Wait()
		if e.stopCtx != nil {
			e.stopCtx()
		}

		e.subscriberMu.Lock()
		for id, ch := range e.subscribers {
			close(ch)
			delete(e.subscribers, id)
		}
		e.subscriberMu.Unlock()

		if e.mirror != nil {
			if merr := e.mirror.Close(); merr != nil && err == nil {
				err = merr
			}
		}

		e.state.Store(int32(StateClosed))
		monitoring.Infof("UDP endpoint closed")
	})
	return err
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ twin.Endpoint = (*Endpoint)(nil)
