// Command twin-sim stands in for the arm controller on the network. It
// sends Sensors telemetry to a bridge and obeys the commands it gets back.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/udpmux"
)

var (
	listen   = flag.String("listen", ":3002", "UDP address to receive commands on")
	bridgeTo = flag.String("bridge", "127.0.0.1:50195", "Bridge telemetry address")
	period   = flag.Duration("interval", 100*time.Millisecond, "Telemetry interval")
	seed     = flag.Uint64("seed", 1, "Seed for sensor noise")
	logLevel = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	monitoring.Configure(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	laddr, err := net.ResolveUDPAddr("udp4", *listen)
	if err != nil {
		monitoring.Logger().Fatalf("invalid listen address: %v", err)
	}
	raddr, err := net.ResolveUDPAddr("udp4", *bridgeTo)
	if err != nil {
		monitoring.Logger().Fatalf("invalid bridge address: %v", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		monitoring.Logger().Fatalf("failed to listen on %s: %v", laddr, err)
	}

	if ip, err := udpmux.LocalIPv4(); err == nil {
		monitoring.Infof("Simulated device at %s:%d, reporting to %s", ip, laddr.Port, raddr)
	}

	if err := simulate(ctx, conn, raddr, newDevice(*seed), *period); err != nil && !errors.Is(err, context.Canceled) {
		monitoring.Logger().Fatalf("simulator stopped: %v", err)
	}
}

// simulate runs the device on conn until ctx is done.
func simulate(ctx context.Context, conn *net.UDPConn, bridge *net.UDPAddr, d *device, interval time.Duration) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	defer conn.Close()

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					monitoring.Warnf("read: %v", err)
				}
				return
			}
			cmd := string(buf[:n])
			if err := d.Apply(cmd); err != nil {
				monitoring.Warnf("ignored %q from %s: %v", cmd, from, err)
				continue
			}
			s := d.State()
			monitoring.Infof("applied %q: target=%v led=%v motor=%s", cmd, s.Target, s.LED, s.Motor)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			d.Step(now.Sub(last))
			last = now
			msg := d.Sensors()
			if _, err := conn.WriteToUDP([]byte(msg), bridge); err != nil {
				monitoring.Warnf("send telemetry: %v", err)
				continue
			}
			monitoring.Debugf("sent %s", msg)
		}
	}
}
