// Package config loads the bridge's startup configuration. Values come from
// an optional JSON file, then TWIN_* environment variables (optionally read
// from a .env file), then command-line flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/twin.bridge/internal/udpmux"
)

// BridgeConfig is the root configuration. Every field is a pointer so a
// partial file leaves the rest at their defaults; Get* methods apply them.
type BridgeConfig struct {
	ListenPort     *int    `json:"listen_port,omitempty"`
	PeerHost       *string `json:"peer_host,omitempty"`
	PeerPort       *int    `json:"peer_port,omitempty"`
	VerboseLogging *bool   `json:"verbose_logging,omitempty"`
	ReadBuffer     *int    `json:"read_buffer,omitempty"`
	QueueSize      *int    `json:"queue_size,omitempty"`
	LogInterval    *string `json:"log_interval,omitempty"` // duration string like "1m"
	MirrorAddr     *string `json:"mirror_addr,omitempty"`

	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`

	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`

	NATSURL   *string `json:"nats_url,omitempty"`
	RedisAddr *string `json:"redis_addr,omitempty"`

	LogLevel *string `json:"log_level,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

const maxFileSize = 1 * 1024 * 1024

// LoadConfig loads a BridgeConfig from a JSON file. The file must have a
// .json extension and be at most 1 MiB.
func LoadConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &BridgeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *BridgeConfig) Validate() error {
	for name, p := range map[string]*int{"listen_port": c.ListenPort, "peer_port": c.PeerPort} {
		if p != nil && (*p < 0 || *p > 65535) {
			return fmt.Errorf("%s must be between 0 and 65535, got %d", name, *p)
		}
	}
	if c.ReadBuffer != nil && *c.ReadBuffer < 0 {
		return fmt.Errorf("read_buffer must be non-negative, got %d", *c.ReadBuffer)
	}
	if c.QueueSize != nil && *c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be non-negative, got %d", *c.QueueSize)
	}
	if c.SerialBaud != nil && *c.SerialBaud < 0 {
		return fmt.Errorf("serial_baud must be non-negative, got %d", *c.SerialBaud)
	}
	if c.LogInterval != nil && *c.LogInterval != "" {
		if _, err := time.ParseDuration(*c.LogInterval); err != nil {
			return fmt.Errorf("invalid log_interval '%s': %w", *c.LogInterval, err)
		}
	}
	if c.LogLevel != nil {
		switch strings.ToLower(*c.LogLevel) {
		case "", "off", "none", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
		default:
			return fmt.Errorf("unknown log_level %q", *c.LogLevel)
		}
	}
	return nil
}

// envVars maps each TWIN_* variable to the field it sets.
var envVars = []struct {
	name string
	set  func(c *BridgeConfig, v string) error
}{
	{"TWIN_LISTEN_PORT", func(c *BridgeConfig, v string) error { return setInt(&c.ListenPort, v) }},
	{"TWIN_PEER_HOST", func(c *BridgeConfig, v string) error { c.PeerHost = ptrString(v); return nil }},
	{"TWIN_PEER_PORT", func(c *BridgeConfig, v string) error { return setInt(&c.PeerPort, v) }},
	{"TWIN_VERBOSE", func(c *BridgeConfig, v string) error { return setBool(&c.VerboseLogging, v) }},
	{"TWIN_READ_BUFFER", func(c *BridgeConfig, v string) error { return setInt(&c.ReadBuffer, v) }},
	{"TWIN_QUEUE_SIZE", func(c *BridgeConfig, v string) error { return setInt(&c.QueueSize, v) }},
	{"TWIN_LOG_INTERVAL", func(c *BridgeConfig, v string) error { c.LogInterval = ptrString(v); return nil }},
	{"TWIN_MIRROR_ADDR", func(c *BridgeConfig, v string) error { c.MirrorAddr = ptrString(v); return nil }},
	{"TWIN_HTTP_LISTEN", func(c *BridgeConfig, v string) error { c.HTTPListen = ptrString(v); return nil }},
	{"TWIN_GRPC_LISTEN", func(c *BridgeConfig, v string) error { c.GRPCListen = ptrString(v); return nil }},
	{"TWIN_DB_PATH", func(c *BridgeConfig, v string) error { c.DBPath = ptrString(v); return nil }},
	{"TWIN_SERIAL_PORT", func(c *BridgeConfig, v string) error { c.SerialPort = ptrString(v); return nil }},
	{"TWIN_SERIAL_BAUD", func(c *BridgeConfig, v string) error { return setInt(&c.SerialBaud, v) }},
	{"TWIN_NATS_URL", func(c *BridgeConfig, v string) error { c.NATSURL = ptrString(v); return nil }},
	{"TWIN_REDIS_ADDR", func(c *BridgeConfig, v string) error { c.RedisAddr = ptrString(v); return nil }},
	{"TWIN_LOG_LEVEL", func(c *BridgeConfig, v string) error { c.LogLevel = ptrString(v); return nil }},
}

func setInt(dst **int, v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = ptrInt(n)
	return nil
}

func setBool(dst **bool, v string) error {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = ptrBool(b)
	return nil
}

// ApplyEnv loads envFiles (ignored when absent) into the process environment
// and overlays any TWIN_* variables onto c. Variables already set in the
// environment win over .env values.
func (c *BridgeConfig) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	for _, ev := range envVars {
		v, ok := os.LookupEnv(ev.name)
		if !ok {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", ev.name, v, err)
		}
	}
	return c.Validate()
}

func (c *BridgeConfig) GetListenPort() int {
	if c.ListenPort == nil {
		return udpmux.DefaultListenPort
	}
	return *c.ListenPort
}

func (c *BridgeConfig) GetPeerHost() string {
	if c.PeerHost == nil || *c.PeerHost == "" {
		return udpmux.DefaultPeerHost
	}
	return *c.PeerHost
}

func (c *BridgeConfig) GetPeerPort() int {
	if c.PeerPort == nil {
		return udpmux.DefaultPeerPort
	}
	return *c.PeerPort
}

// GetVerboseLogging defaults to true, matching the endpoint.
func (c *BridgeConfig) GetVerboseLogging() bool {
	if c.VerboseLogging == nil {
		return true
	}
	return *c.VerboseLogging
}

// GetLogInterval parses LogInterval, falling back to the endpoint default.
func (c *BridgeConfig) GetLogInterval() time.Duration {
	if c.LogInterval == nil || *c.LogInterval == "" {
		return udpmux.DefaultLogInterval
	}
	d, err := time.ParseDuration(*c.LogInterval)
	if err != nil {
		return udpmux.DefaultLogInterval
	}
	return d
}

func (c *BridgeConfig) GetHTTPListen() string {
	if c.HTTPListen == nil || *c.HTTPListen == "" {
		return "0.0.0.0:8080"
	}
	return *c.HTTPListen
}

// GetGRPCListen returns "" when the gRPC feed is disabled.
func (c *BridgeConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

func (c *BridgeConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "twin_bridge.db"
	}
	return *c.DBPath
}

// GetSerialPort returns "" when no serial console is attached.
func (c *BridgeConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *BridgeConfig) GetSerialBaud() int {
	if c.SerialBaud == nil {
		return 0
	}
	return *c.SerialBaud
}

func (c *BridgeConfig) GetNATSURL() string {
	if c.NATSURL == nil {
		return ""
	}
	return *c.NATSURL
}

func (c *BridgeConfig) GetRedisAddr() string {
	if c.RedisAddr == nil {
		return ""
	}
	return *c.RedisAddr
}

func (c *BridgeConfig) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// UDPConfig builds the endpoint configuration from the resolved values.
func (c *BridgeConfig) UDPConfig() udpmux.Config {
	cfg := udpmux.DefaultConfig()
	cfg.ListenPort = c.GetListenPort()
	cfg.PeerHost = c.GetPeerHost()
	cfg.PeerPort = c.GetPeerPort()
	cfg.Verbose = c.GetVerboseLogging()
	cfg.LogInterval = c.GetLogInterval()
	if c.ReadBuffer != nil {
		cfg.ReadBuffer = *c.ReadBuffer
	}
	if c.QueueSize != nil {
		cfg.QueueSize = *c.QueueSize
	}
	if c.MirrorAddr != nil {
		cfg.MirrorAddr = *c.MirrorAddr
	}
	return cfg
}
