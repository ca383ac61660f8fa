package udpmux

import (
	"errors"
	"net"
)

// ErrNoIPv4 is returned when the host has no non-loopback IPv4 address.
var ErrNoIPv4 = errors.New("no non-loopback IPv4 address found")

// LocalIPv4 returns the first non-loopback IPv4 address of the host. The
// device firmware is configured with this address, so it is logged at
// startup.
func LocalIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	return firstIPv4(addrs)
}

func firstIPv4(addrs []net.Addr) (net.IP, error) {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, ErrNoIPv4
}
