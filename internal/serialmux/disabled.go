package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

// ErrSerialDisabled is returned for commands sent while no serial console is
// attached. The UDP link is the only path to the device in that case.
var ErrSerialDisabled = errors.New("serial console is disabled")

// DisabledSerialMux stands in for the serial console when none is configured
// or the port could not be opened. It never produces lines, so
// RouteTelemetry on it just waits for shutdown, and it refuses commands.
type DisabledSerialMux struct {
	reason  string
	refused atomic.Uint64

	mu          sync.Mutex
	subscribers map[string]chan string
	closed      bool
}

// NewDisabledSerialMux returns a disabled console. reason is reported in
// errors and on the debug page, e.g. "no serial_port configured".
func NewDisabledSerialMux(reason string) *DisabledSerialMux {
	if reason == "" {
		reason = "no serial port configured"
	}
	return &DisabledSerialMux{
		reason:      reason,
		subscribers: make(map[string]chan string),
	}
}

// Reason says why the console is disabled.
func (d *DisabledSerialMux) Reason() string { return d.reason }

// Refused counts the commands rejected so far.
func (d *DisabledSerialMux) Refused() uint64 { return d.refused.Load() }

// Subscribe returns a channel that only ever closes, on Unsubscribe or Close.
func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subscribers[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		delete(d.subscribers, id)
		close(ch)
	}
}

// SendCommand refuses every command with ErrSerialDisabled.
func (d *DisabledSerialMux) SendCommand(command string) error {
	d.refused.Add(1)
	monitoring.Debugf("serial: dropped %q (%s)", command, d.reason)
	return fmt.Errorf("%w (%s): %q not sent", ErrSerialDisabled, d.reason, command)
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Initialize has no device to reset; the safe state goes out over UDP.
func (d *DisabledSerialMux) Initialize() error { return nil }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subscribers {
		delete(d.subscribers, id)
		close(ch)
	}
	return nil
}

// AttachAdminRoutes shows the console state on the debug index and answers
// the send-command API with 503 so scripts see why nothing reached the device.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Serial console", func() any {
		return fmt.Sprintf("disabled: %s (%d commands refused)", d.reason, d.Refused())
	})
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		err := d.SendCommand(r.FormValue("command"))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	})
}
