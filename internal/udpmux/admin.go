package udpmux

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes adds debug endpoints under /debug/ on mux. They are
// reachable only from localhost or the tailnet.
func (e *Endpoint) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("UDP endpoint", func() any {
		return fmt.Sprintf("%s on %v, peer %s", e.State(), e.LocalAddr(), e.peerAddr())
	})
	debug.KVFunc("UDP received/decoded", func() any {
		s := e.Stats()
		return fmt.Sprintf("%d / %d", s.Received, s.Decoded)
	})

	// POST message (and optionally host/port) to send a datagram.
	debug.HandleSilentFunc("udp-send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		message := strings.TrimSpace(r.FormValue("message"))
		if message == "" {
			http.Error(w, "Missing message", http.StatusBadRequest)
			return
		}
		host := e.cfg.PeerHost
		if h := strings.TrimSpace(r.FormValue("host")); h != "" {
			host = h
		}
		port := e.cfg.PeerPort
		if p := strings.TrimSpace(r.FormValue("port")); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n <= 0 || n > 65535 {
				http.Error(w, "Invalid port", http.StatusBadRequest)
				return
			}
			port = n
		}
		if err := e.Send(message, host, port); err != nil {
			http.Error(w, "Failed to send message", http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("Sent %q to %s:%d", message, host, port))
	})

	debug.HandleSilentFunc("udp-reading", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			State   string `json:"state"`
			Reading any    `json:"reading"`
			Stats   Stats  `json:"stats"`
		}{
			State:   e.State().String(),
			Reading: e.LatestReading(),
			Stats:   e.Stats(),
		})
	})

	// Server-Sent Events stream of merged readings.
	debug.HandleSilentFunc("udp-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := e.Subscribe()
		defer e.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case reading, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(reading)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
