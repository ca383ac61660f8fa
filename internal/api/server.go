// Package api serves the bridge's JSON API: the latest reading, arm control
// commands, recorded history and summary statistics.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/twin.bridge/internal/db"
	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

// ANSI escape codes used by the request log.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SendObserver is told about commands sent to an explicit host and port,
// which bypass the Controller.
type SendObserver func(message, host string, port int, err error)

type Server struct {
	src  twin.Source
	sink twin.Sink
	ctl  *twin.Controller
	db   *db.DB

	onSend SendObserver
}

type Option func(*Server)

// WithDB enables the history, stats and chart endpoints.
func WithDB(d *db.DB) Option {
	return func(s *Server) { s.db = d }
}

func WithSendObserver(fn SendObserver) Option {
	return func(s *Server) { s.onSend = fn }
}

func NewServer(src twin.Source, sink twin.Sink, ctl *twin.Controller, opts ...Option) *Server {
	s := &Server{src: src, sink: sink, ctl: ctl}
	for _, o := range opts {
		o(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Infof(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Attach registers the API routes on mux.
func (s *Server) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/api/reading", s.showReading)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/api/servo", s.moveServo)
	mux.HandleFunc("/api/servo/raw", s.moveServoRaw)
	mux.HandleFunc("/api/led", s.setLED)
	mux.HandleFunc("/api/motor", s.setMotor)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/presets", s.listPresets)
	mux.HandleFunc("/api/preset/{name}", s.sendPreset)
	mux.HandleFunc("/api/history", s.listHistory)
	mux.HandleFunc("/api/commands", s.listCommands)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/charts/joints", s.jointChart)
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Attach(mux)
	return mux
}
