package main

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/protocol"
)

func init() {
	monitoring.Configure("off")
}

func TestDeviceApply(t *testing.T) {
	tests := []struct {
		name    string
		command string
		check   func(t *testing.T, s State)
		wantErr bool
	}{
		{
			name:    "servo",
			command: "Servo|A:10|B:150|C:200|D:start",
			check: func(t *testing.T, s State) {
				assert.Equal(t, [3]float64{10, 150, 180}, s.Target)
				assert.Equal(t, protocol.MotorStart, s.Motor)
			},
		},
		{
			name:    "led",
			command: "LED|1\n",
			check:   func(t *testing.T, s State) { assert.True(t, s.LED) },
		},
		{
			name:    "motor",
			command: "D:start",
			check:   func(t *testing.T, s State) { assert.Equal(t, protocol.MotorStart, s.Motor) },
		},
		{name: "unknown domain", command: "Hello|1", wantErr: true},
		{name: "bad servo value", command: "Servo|A:x", wantErr: true},
		{name: "bad servo key", command: "Servo|Q:1", wantErr: true},
		{name: "bad led", command: "LED|2", wantErr: true},
		{name: "bad motor", command: "D:sideways", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(1)
			err := d.Apply(tt.command)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, d.State())
		})
	}
}

func TestDeviceStep(t *testing.T) {
	d := newDevice(1)
	require.NoError(t, d.Apply("Servo|A:150|B:90|C:0|D:start"))

	// 120 deg/s for a quarter second is 30 degrees
	d.Step(250 * time.Millisecond)
	s := d.State()
	assert.Equal(t, [3]float64{120, 90, 60}, s.Pos)
	assert.Equal(t, 0, s.Plate)

	d.Step(time.Second)
	s = d.State()
	assert.Equal(t, [3]float64{150, 90, 0}, s.Pos)
	assert.Equal(t, 2, s.Plate)

	require.NoError(t, d.Apply("D:stop"))
	d.Step(time.Second)
	assert.Equal(t, 2, d.State().Plate)
}

func TestDeviceSensorsDecodes(t *testing.T) {
	d := newDevice(7)
	msg := d.Sensors()

	delta, err := protocol.Decode(msg)
	require.NoError(t, err)
	require.NotNil(t, delta.A)
	assert.Equal(t, 90.0, *delta.A)
	require.NotNil(t, delta.Dist)
	assert.InDelta(t, 150, *delta.Dist, 20)
	require.NotNil(t, delta.Plate)
	assert.Equal(t, 0, *delta.Plate)
}

func TestSimulate(t *testing.T) {
	bridge, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer bridge.Close()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	devAddr := conn.LocalAddr().(*net.UDPAddr)

	d := newDevice(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- simulate(ctx, conn, bridge.LocalAddr().(*net.UDPAddr), d, 10*time.Millisecond) }()

	require.NoError(t, bridge.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	n, _, err := bridge.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindSensors, protocol.Classify(string(buf[:n])))

	_, err = bridge.WriteToUDP([]byte("LED|1"), devAddr)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.State().LED }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("simulate did not return")
	}
}
