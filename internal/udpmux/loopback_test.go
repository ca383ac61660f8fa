package udpmux

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a UDP peer standing in for the arm controller.
type fakeDevice struct {
	conn *net.UDPConn
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeDevice{conn: conn}
}

func (d *fakeDevice) port() int {
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

func (d *fakeDevice) sendTo(t *testing.T, to net.Addr, msg string) {
	t.Helper()
	_, err := d.conn.WriteTo([]byte(msg), to)
	require.NoError(t, err)
}

func (d *fakeDevice) recv(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 1024)
	require.NoError(t, d.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := d.conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func openLoopback(t *testing.T, dev *fakeDevice) *Endpoint {
	t.Helper()
	cfg := testConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.PeerPort = dev.port()
	e, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestLoopbackRoundTrip(t *testing.T) {
	dev := newFakeDevice(t)
	e := openLoopback(t, dev)
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	dev.sendTo(t, e.LocalAddr(), "Sensors|A:84|B:121|C:-90|Plate:2|Dist:500")
	r := waitReading(t, ch)
	assert.Equal(t, -90, r.JointA)
	assert.Equal(t, -120, r.JointB)
	assert.Equal(t, 90, r.JointC)
	assert.Equal(t, int64(500), r.Distance)

	require.NoError(t, e.SendDefault("Servo|A:90|B:150|C:90|D:stop"))
	assert.Equal(t, "Servo|A:90|B:150|C:90|D:stop", dev.recv(t))
}

func TestLoopbackBindConflict(t *testing.T) {
	dev := newFakeDevice(t)

	cfg := testConfig()
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = dev.port()
	_, err := Open(context.Background(), cfg)

	var be *BindError
	require.ErrorAs(t, err, &be)
}

func TestLoopbackCloseStopsReceiving(t *testing.T) {
	dev := newFakeDevice(t)
	e := openLoopback(t, dev)
	addr := e.LocalAddr()

	require.NoError(t, e.Close())
	// datagrams to a closed port are simply lost
	_, err := dev.conn.WriteTo([]byte("Sensors|A:1"), addr)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(0), e.LatestReading().Sequence)
}

func localHostRequest(method, target string, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.RemoteAddr = "127.0.0.1:12345"
	return r
}

func TestAdminRoutes(t *testing.T) {
	dev := newFakeDevice(t)
	e := openLoopback(t, dev)
	mux := http.NewServeMux()
	e.AttachAdminRoutes(mux)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"send wrong method", http.MethodGet, "/debug/udp-send", "", http.StatusMethodNotAllowed, "Method not allowed"},
		{"send missing message", http.MethodPost, "/debug/udp-send", "message=", http.StatusBadRequest, "Missing message"},
		{"send bad port", http.MethodPost, "/debug/udp-send", "message=LED%7C1&port=abc", http.StatusBadRequest, "Invalid port"},
		{"send ok", http.MethodPost, "/debug/udp-send", "message=LED%7C1", http.StatusOK, "Sent \"LED|1\""},
		{"reading", http.MethodGet, "/debug/udp-reading", "", http.StatusOK, "\"state\":\"listening\""},
		{"tail wrong method", http.MethodPost, "/debug/udp-tail", "", http.StatusMethodNotAllowed, "Method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, localHostRequest(tt.method, tt.path, tt.body))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}

	assert.Equal(t, "LED|1", dev.recv(t))
}

func TestAdminSendExplicitTarget(t *testing.T) {
	dev := newFakeDevice(t)
	other := newFakeDevice(t)
	e := openLoopback(t, dev)
	mux := http.NewServeMux()
	e.AttachAdminRoutes(mux)

	form := url.Values{}
	form.Set("message", "D:start")
	form.Set("host", "127.0.0.1")
	form.Set("port", strconv.Itoa(other.port()))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/udp-send", form.Encode()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "D:start", other.recv(t))
}

func TestAdminTailStreamsReadings(t *testing.T) {
	dev := newFakeDevice(t)
	e := openLoopback(t, dev)
	mux := http.NewServeMux()
	e.AttachAdminRoutes(mux)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.RemoteAddr = "127.0.0.1:12345"
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/udp-tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), ": ping")

	// subscription is registered before the ping is flushed
	dev.sendTo(t, e.LocalAddr(), "Sensors|Plate:6")

	var got strings.Builder
	for !strings.Contains(got.String(), "\"plate\":6") {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.Contains(t, got.String(), "data: {")
}
