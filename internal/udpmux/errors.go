package udpmux

import (
	"errors"
	"fmt"
	"net"
)

// ErrClosed is returned by operations on an endpoint that has been closed.
var ErrClosed = errors.New("udp endpoint closed")

// BindError reports that the listening socket could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind udp %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// SendError reports a datagram that could not be handed to the network.
type SendError struct {
	Host string
	Port int
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send udp to %s: %v", net.JoinHostPort(e.Host, fmt.Sprint(e.Port)), e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// isClosedErr reports errors produced by using a socket after Close.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
