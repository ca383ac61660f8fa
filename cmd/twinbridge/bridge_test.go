package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/twin.bridge/internal/config"
	"github.com/banshee-data/twin.bridge/internal/db"
	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/serialmux"
	"github.com/banshee-data/twin.bridge/internal/udpmux"
)

func init() {
	monitoring.Configure("off")
}

func strPtr(s string) *string { return &s }

func TestExplicitFlagsOverlayConfig(t *testing.T) {
	fs := flag.NewFlagSet("twinbridge", flag.ContinueOnError)
	port := fs.Int("listen-port", 0, "")
	host := fs.String("peer-host", "", "")
	fs.String("listen", "", "")
	require.NoError(t, fs.Parse([]string{"-listen-port=6000", "-peer-host=10.1.1.5"}))

	set := explicitFlags(fs)
	assert.Equal(t, map[string]bool{"listen-port": true, "peer-host": true}, set)

	// applyFlags reads the package flag variables
	*listenPort, *peerHost = *port, *host
	t.Cleanup(func() { *listenPort, *peerHost = 0, "" })

	cfg := &config.BridgeConfig{HTTPListen: strPtr("127.0.0.1:9000")}
	applyFlags(cfg, set)
	assert.Equal(t, 6000, cfg.GetListenPort())
	assert.Equal(t, "10.1.1.5", cfg.GetPeerHost())
	assert.Equal(t, "127.0.0.1:9000", cfg.GetHTTPListen())
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_port": 5000, "peer_port": 4000}`), 0o644))
	t.Setenv("TWIN_PEER_PORT", "4100")

	cfg, err := loadConfig(path, filepath.Join(dir, "missing.env"), nil)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.GetListenPort())
	assert.Equal(t, 4100, cfg.GetPeerPort())

	_, err = loadConfig(filepath.Join(dir, "bridge.yaml"), "", nil)
	assert.Error(t, err)
}

type running struct {
	b      *bridge
	sock   *udpmux.MockUDPSocket
	port   *serialmux.TestableSerialPort
	cancel context.CancelFunc
	errc   chan error
}

func startBridge(t *testing.T) *running {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.BridgeConfig{
		HTTPListen: strPtr("127.0.0.1:0"),
		DBPath:     strPtr(filepath.Join(dir, "twin.db")),
		SerialPort: strPtr("/dev/ttyUSB-test"),
	}

	r := &running{
		sock: udpmux.NewMockUDPSocket(udpmux.DefaultListenPort),
		port: serialmux.NewTestableSerialPort(),
		errc: make(chan error, 1),
	}
	ready := make(chan *bridge, 1)
	opts := runOptions{
		endpointOptions: []udpmux.Option{udpmux.WithSocketFactory(udpmux.NewMockUDPSocketFactory(r.sock))},
		serialFactory:   serialmux.NewMockSerialPortFactory(r.port),
		onReady:         func(b *bridge) { ready <- b },
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.errc <- run(ctx, cfg, opts) }()

	select {
	case r.b = <-ready:
	case err := <-r.errc:
		t.Fatalf("bridge exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not start")
	}
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func (r *running) url(path string) string {
	return fmt.Sprintf("http://%s%s", r.b.httpAddr, path)
}

func (r *running) reading(t *testing.T) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(r.url("/api/reading"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	r := startBridge(t)

	// the serial console was initialised into a safe state
	assert.Equal(t, "LED|0\nD:stop\n", r.port.Written())

	device := &net.UDPAddr{IP: net.IPv4(192, 168, 137, 172), Port: 3002}
	r.sock.Inject([]byte("Sensors|A:90|B:90|C:90|Plate:1|Dist:100"), device)
	require.Eventually(t, func() bool {
		return r.reading(t)["valid"] == true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(100), r.reading(t)["distance"])

	// telemetry over the serial console reaches the same reading
	r.port.Feed("boot: ok\nSensors|Dist:200\n")
	require.Eventually(t, func() bool {
		return r.reading(t)["distance"] == float64(200)
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(r.url("/api/led"), "application/json", strings.NewReader(`{"on": true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	writes := r.sock.Writes()
	require.NotEmpty(t, writes)
	last := writes[len(writes)-1]
	assert.Equal(t, "LED|1", string(last.Data))
	assert.Equal(t, "192.168.137.172:3002", last.Addr.String())

	require.Eventually(t, func() bool {
		written, _ := r.b.recorder.Counts()
		return written == 2
	}, 2*time.Second, 10*time.Millisecond)

	dbPath := r.b.database.Path()
	r.stop(t)
	assert.True(t, r.port.Closed())

	// the database is closed on shutdown; reopen it to check what was kept
	d, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer d.Close()

	rows, err := d.RecentReadings(10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	cmds, err := d.RecentCommands(10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "LED|1", cmds[0].Command)
	assert.True(t, cmds[0].OK)
}

func TestRun_BindFailure(t *testing.T) {
	factory := udpmux.NewMockUDPSocketFactory(nil)
	factory.Error = fmt.Errorf("address already in use")
	cfg := &config.BridgeConfig{HTTPListen: strPtr("127.0.0.1:0")}

	err := run(context.Background(), cfg, runOptions{
		disableDB:       true,
		endpointOptions: []udpmux.Option{udpmux.WithSocketFactory(factory)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot listen for telemetry")
}

func TestRun_StartupFailureStopsComponents(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	dir := t.TempDir()
	cfg := &config.BridgeConfig{
		HTTPListen: strPtr("127.0.0.1:0"),
		GRPCListen: strPtr(busy.Addr().String()),
		DBPath:     strPtr(filepath.Join(dir, "twin.db")),
		SerialPort: strPtr("/dev/ttyUSB-test"),
	}
	port := serialmux.NewTestableSerialPort()

	var stopped *bridge
	err = run(context.Background(), cfg, runOptions{
		endpointOptions: []udpmux.Option{udpmux.WithSocketFactory(udpmux.NewMockUDPSocketFactory(udpmux.NewMockUDPSocket(0)))},
		serialFactory:   serialmux.NewMockSerialPortFactory(port),
		onStopped: func(b *bridge) {
			stopped = b
			// the recorder has finished before the database is closed
			select {
			case <-b.recorder.Done():
			default:
				t.Error("recorder still running at shutdown")
			}
			assert.True(t, port.Closed())
			assert.Zero(t, b.hub.Clients())
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gRPC feed")
	require.NotNil(t, stopped, "components were not stopped")

	// the database was closed cleanly and can be reopened
	d, err := db.NewDB(filepath.Join(dir, "twin.db"))
	require.NoError(t, err)
	require.NoError(t, d.Close())
}
