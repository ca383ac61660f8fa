package udpmux

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorForwardsInboundDatagrams(t *testing.T) {
	sink := newFakeDevice(t)
	mirror, err := NewMirror(sink.conn.LocalAddr().String(), time.Second)
	require.NoError(t, err)

	e, sock := openMock(t, WithMirror(mirror))
	sock.Inject([]byte("Sensors|A:5"), device)
	sock.Inject([]byte("not telemetry"), device)

	assert.Equal(t, "Sensors|A:5", sink.recv(t))
	assert.Equal(t, "not telemetry", sink.recv(t))

	require.Eventually(t, func() bool { return e.Stats().Mirrored == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Close())
}

func TestMirrorBadAddress(t *testing.T) {
	_, err := NewMirror("not an address", time.Second)
	assert.Error(t, err)
}

func TestMirrorClosedOnBindFailure(t *testing.T) {
	sink := newFakeDevice(t)
	mirror, err := NewMirror(sink.conn.LocalAddr().String(), time.Second)
	require.NoError(t, err)

	factory := NewMockUDPSocketFactory(nil)
	factory.Error = &net.OpError{Op: "listen", Err: assert.AnError}
	_, err = Open(context.Background(), testConfig(), WithSocketFactory(factory), WithMirror(mirror))
	require.Error(t, err)

	// already closed by Open
	assert.NoError(t, mirror.Close())
}

func TestFirstIPv4(t *testing.T) {
	_, lan, _ := net.ParseCIDR("192.168.137.1/24")
	lan.IP = net.ParseIP("192.168.137.1")
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		lan,
	}
	ip, err := firstIPv4(addrs)
	require.NoError(t, err)
	assert.Equal(t, "192.168.137.1", ip.String())

	_, err = firstIPv4(addrs[:2])
	assert.ErrorIs(t, err, ErrNoIPv4)
}

func TestLocalIPv4DoesNotPanic(t *testing.T) {
	ip, err := LocalIPv4()
	if err == nil {
		assert.NotNil(t, ip.To4())
	}
}
