package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/twin.bridge/internal/api"
	"github.com/banshee-data/twin.bridge/internal/bus"
	"github.com/banshee-data/twin.bridge/internal/config"
	"github.com/banshee-data/twin.bridge/internal/db"
	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/replay"
	"github.com/banshee-data/twin.bridge/internal/serialmux"
	"github.com/banshee-data/twin.bridge/internal/twin"
	"github.com/banshee-data/twin.bridge/internal/udpmux"
	"github.com/banshee-data/twin.bridge/internal/visualiser"
	"github.com/banshee-data/twin.bridge/internal/wsfeed"
)

type runOptions struct {
	disableDB  bool
	replayPath string
	replay     replay.Config

	// endpointOptions are passed to udpmux.Open; tests swap the socket.
	endpointOptions []udpmux.Option
	// serialFactory opens the serial port; nil uses the real one.
	serialFactory serialmux.SerialPortFactory
	// onReady is called once every component is running.
	onReady func(*bridge)
	// onStopped is called after every goroutine has exited, on success and
	// on startup failure alike.
	onStopped func(*bridge)
}

// bridge holds the running components so tests can reach them.
type bridge struct {
	endpoint *udpmux.Endpoint
	ctl      *twin.Controller
	database *db.DB
	recorder *db.Recorder
	serial   serialmux.SerialMuxInterface
	hub      *wsfeed.Hub
	feed     *visualiser.Publisher
	fwd      *bus.Forwarder
	httpAddr net.Addr
}

// run starts every configured component and blocks until ctx is done.
func run(ctx context.Context, cfg *config.BridgeConfig, opts runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if ip, err := udpmux.LocalIPv4(); err == nil {
		monitoring.Infof("Local IPv4 address: %s", ip)
	} else {
		monitoring.Warnf("Could not determine local IPv4 address: %v", err)
	}

	udpCfg := cfg.UDPConfig()
	epOpts := append([]udpmux.Option(nil), opts.endpointOptions...)
	if udpCfg.MirrorAddr != "" {
		m, err := udpmux.NewMirror(udpCfg.MirrorAddr, udpCfg.LogInterval)
		if err != nil {
			return fmt.Errorf("mirror: %w", err)
		}
		epOpts = append(epOpts, udpmux.WithMirror(m))
		monitoring.Infof("Mirroring datagrams to %s", udpCfg.MirrorAddr)
	}

	ep, err := udpmux.Open(ctx, udpCfg, epOpts...)
	if err != nil {
		var be *udpmux.BindError
		if errors.As(err, &be) {
			return fmt.Errorf("cannot listen for telemetry on %s: %w", be.Addr, be.Err)
		}
		return err
	}
	defer ep.Close()

	b := &bridge{endpoint: ep, ctl: twin.NewController(ep)}
	var wg sync.WaitGroup

	// stopAll ends every goroutine started so far. Deferred closes (database,
	// serial, brokers) run after it, once nothing is writing to them.
	stopAll := func() {
		cancel()
		if err := ep.Close(); err != nil {
			monitoring.Warnf("closing UDP endpoint: %v", err)
		}
		if b.serial != nil {
			b.serial.Close()
		}
		wg.Wait()
		if opts.onStopped != nil {
			opts.onStopped(b)
		}
	}
	// fail is used for startup errors once goroutines are running.
	fail := func(err error) error {
		stopAll()
		return err
	}

	// history
	apiOpts := []api.Option{}
	if !opts.disableDB {
		database, err := db.NewDB(cfg.GetDBPath())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		b.database = database

		listen := udpCfg.ListenPort
		if addr, ok := ep.LocalAddr().(*net.UDPAddr); ok {
			listen = addr.Port
		}
		rec, err := db.NewRecorder(database, listen, udpCfg.PeerHost, udpCfg.PeerPort, nil)
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		b.recorder = rec
		b.ctl.Observe(rec.ObserveCommand)
		apiOpts = append(apiOpts, api.WithDB(database), api.WithSendObserver(rec.RecordSent))
		monitoring.Infof("Recording session %s to %s", rec.Session().ID, database.Path())

		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(ctx, ep)
		}()
	}

	// serial console
	b.serial = openSerial(cfg, opts.serialFactory)
	defer b.serial.Close()
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := b.serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Errorf("serial monitor stopped: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		n := serialmux.RouteTelemetry(ctx, b.serial, ep)
		monitoring.Debugf("serial routing stopped after %d readings", n)
	}()

	// websocket feed
	b.hub = wsfeed.NewHub(ep)
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.hub.Run(ctx, ep)
	}()

	// brokers
	var pubs []bus.ReadingPublisher
	if url := cfg.GetNATSURL(); url != "" {
		nb, err := bus.ConnectNATS(url)
		if err != nil {
			monitoring.Warnf("NATS disabled: %v", err)
		} else {
			defer nb.Close()
			if err := nb.ServeCommands(ep); err != nil {
				monitoring.Warnf("NATS commands disabled: %v", err)
			}
			pubs = append(pubs, nb)
		}
	}
	if addr := cfg.GetRedisAddr(); addr != "" {
		rs, err := bus.ConnectRedis(ctx, addr)
		if err != nil {
			monitoring.Warnf("Redis disabled: %v", err)
		} else {
			defer rs.Close()
			pubs = append(pubs, rs)
		}
	}
	b.fwd = bus.NewForwarder(udpCfg.PeerHost, pubs...)
	if b.fwd.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.fwd.Run(ctx, ep)
		}()
	}

	// gRPC feed
	if addr := cfg.GetGRPCListen(); addr != "" {
		b.feed = visualiser.NewPublisher(visualiser.Config{ListenAddr: addr}, ep, ep)
		if err := b.feed.Start(); err != nil {
			return fail(fmt.Errorf("gRPC feed: %w", err))
		}
		defer b.feed.Stop()
	}

	// HTTP
	mux := http.NewServeMux()
	api.NewServer(ep, ep, b.ctl, apiOpts...).Attach(mux)
	mux.HandleFunc("/ws", b.hub.HandleWebSocket)
	ep.AttachAdminRoutes(mux)
	b.serial.AttachAdminRoutes(mux)
	if b.database != nil {
		if err := b.database.AttachAdminRoutes(mux); err != nil {
			return fail(err)
		}
	}

	lis, err := net.Listen("tcp", cfg.GetHTTPListen())
	if err != nil {
		return fail(fmt.Errorf("failed to listen on %s: %w", cfg.GetHTTPListen(), err))
	}
	b.httpAddr = lis.Addr()
	server := &http.Server{Handler: api.LoggingMiddleware(mux)}
	serveErr := make(chan error, 1)
	go func() {
		monitoring.Infof("HTTP server listening on %s", lis.Addr())
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// capture replay
	if opts.replayPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := replay.ReplayFile(ctx, opts.replayPath, ep, opts.replay)
			if err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Errorf("replay of %s failed after %d packets: %v", opts.replayPath, stats.Packets, err)
			}
		}()
	}

	if opts.onReady != nil {
		opts.onReady(b)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		cancel()
	}

	monitoring.Infof("shutting down HTTP server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Warnf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Warnf("HTTP server force close error: %v", err)
		}
	}

	// closing the endpoint ends every subscription
	stopAll()

	if b.recorder != nil {
		written, failed := b.recorder.Counts()
		monitoring.Infof("Recorded %d readings (%d failed writes)", written, failed)
	}
	return runErr
}

// openSerial opens the configured serial console, falling back to a
// disabled mux when none is configured or it cannot be opened.
func openSerial(cfg *config.BridgeConfig, factory serialmux.SerialPortFactory) serialmux.SerialMuxInterface {
	path := cfg.GetSerialPort()
	if path == "" {
		return serialmux.NewDisabledSerialMux("no serial_port configured")
	}
	if factory == nil {
		factory = serialmux.RealSerialPortFactory{}
	}
	sm, err := serialmux.OpenSerialMux(factory, path, serialmux.PortOptions{BaudRate: cfg.GetSerialBaud()})
	if err != nil {
		monitoring.Warnf("Serial console disabled: %v", err)
		return serialmux.NewDisabledSerialMux(err.Error())
	}
	if err := sm.Initialize(); err != nil {
		monitoring.Warnf("Failed to initialise device on %s: %v", path, err)
	} else {
		monitoring.Infof("Initialised device on %s", path)
	}
	return sm
}
