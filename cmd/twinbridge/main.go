package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/twin.bridge/internal/config"
	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/replay"
	"github.com/banshee-data/twin.bridge/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON config file")
	envFile     = flag.String("env-file", ".env", "Optional .env file with TWIN_* variables")
	showVersion = flag.Bool("version", false, "Print version and exit")

	listenPort = flag.Int("listen-port", 0, "Local UDP port for telemetry (default 50195)")
	peerHost   = flag.String("peer-host", "", "Device address for commands (default 192.168.137.172)")
	peerPort   = flag.Int("peer-port", 0, "Device UDP port for commands (default 3002)")
	verbose    = flag.Bool("verbose", true, "Log every datagram and command")
	mirrorAddr = flag.String("mirror", "", "Forward a copy of every datagram to host:port")

	httpListen = flag.String("listen", "", "HTTP listen address (default 0.0.0.0:8080)")
	grpcListen = flag.String("grpc-listen", "", "gRPC feed listen address; empty disables")
	dbPath     = flag.String("db-path", "", "SQLite history path (default twin_bridge.db)")
	disableDB  = flag.Bool("disable-db", false, "Do not record history")

	serialPort = flag.String("serial-port", "", "Serial console of the device; empty disables")
	serialBaud = flag.Int("serial-baud", 0, "Serial baud rate (default 115200)")

	natsURL   = flag.String("nats-url", "", "NATS server to publish readings to; empty disables")
	redisAddr = flag.String("redis-addr", "", "Redis server to store readings in; empty disables")
	logLevel  = flag.String("log-level", "", "Log level: debug, info, warn, error or off")

	replayPath  = flag.String("replay", "", "Replay a pcap/pcapng capture into the bridge")
	replaySpeed = flag.Float64("replay-speed", 1.0, "Replay speed multiplier; 0 replays without pauses")
	replayPort  = flag.Int("replay-port", 0, "Only replay datagrams to this UDP port (default: listen port)")
)

// explicitFlags returns the names of flags given on the command line.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlags overlays the flags that were given explicitly onto cfg, so
// that a flag left at its default never masks a file or environment value.
func applyFlags(cfg *config.BridgeConfig, set map[string]bool) {
	if set["listen-port"] {
		cfg.ListenPort = listenPort
	}
	if set["peer-host"] {
		cfg.PeerHost = peerHost
	}
	if set["peer-port"] {
		cfg.PeerPort = peerPort
	}
	if set["verbose"] {
		cfg.VerboseLogging = verbose
	}
	if set["mirror"] {
		cfg.MirrorAddr = mirrorAddr
	}
	if set["listen"] {
		cfg.HTTPListen = httpListen
	}
	if set["grpc-listen"] {
		cfg.GRPCListen = grpcListen
	}
	if set["db-path"] {
		cfg.DBPath = dbPath
	}
	if set["serial-port"] {
		cfg.SerialPort = serialPort
	}
	if set["serial-baud"] {
		cfg.SerialBaud = serialBaud
	}
	if set["nats-url"] {
		cfg.NATSURL = natsURL
	}
	if set["redis-addr"] {
		cfg.RedisAddr = redisAddr
	}
	if set["log-level"] {
		cfg.LogLevel = logLevel
	}
}

// loadConfig resolves the configuration: file, then environment, then flags.
func loadConfig(path, env string, set map[string]bool) (*config.BridgeConfig, error) {
	cfg := &config.BridgeConfig{}
	if path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	var envFiles []string
	if env != "" {
		envFiles = append(envFiles, env)
	}
	if err := cfg.ApplyEnv(envFiles...); err != nil {
		return nil, err
	}
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configFile, *envFile, explicitFlags(flag.CommandLine))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	monitoring.Configure(cfg.GetLogLevel())
	monitoring.Infof("twinbridge %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := runOptions{disableDB: *disableDB}
	if *replayPath != "" {
		port := *replayPort
		if port == 0 {
			port = cfg.GetListenPort()
		}
		opts.replayPath = *replayPath
		opts.replay = replay.Config{SpeedMultiplier: *replaySpeed, Port: port}
	}

	if err := run(ctx, cfg, opts); err != nil {
		monitoring.Logger().Fatalf("twinbridge: %v", err)
	}
	monitoring.Infof("Graceful shutdown complete")
}
