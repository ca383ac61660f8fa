package udpmux

import (
	"net"
	"sync"
)

// UDPSocket is the subset of *net.UDPConn used by the endpoint.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadBuffer(bytes int) error
	Close() error
	LocalAddr() net.Addr
}

// UDPSocketFactory creates bound sockets.
type UDPSocketFactory interface {
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

func (RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPPacket is a datagram queued on a MockUDPSocket.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// MockUDPSocket is an in-memory UDPSocket. Reads block until a packet is
// injected or the socket is closed.
type MockUDPSocket struct {
	mu             sync.Mutex
	packets        chan MockUDPPacket
	closed         chan struct{}
	closeOnce      sync.Once
	readErrs       []error
	writes         []MockUDPPacket
	writeErr       error
	readBufferSize int
	localAddr      *net.UDPAddr
}

// NewMockUDPSocket creates a mock bound to 127.0.0.1:port.
func NewMockUDPSocket(port int) *MockUDPSocket {
	return &MockUDPSocket{
		packets:   make(chan MockUDPPacket, 256),
		closed:    make(chan struct{}),
		localAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
	}
}

// Inject queues a datagram for the next read.
func (m *MockUDPSocket) Inject(data []byte, from *net.UDPAddr) {
	m.packets <- MockUDPPacket{Data: append([]byte(nil), data...), Addr: from}
}

// FailNextRead makes the next read return err before any queued packet.
func (m *MockUDPSocket) FailNextRead(err error) {
	m.mu.Lock()
	m.readErrs = append(m.readErrs, err)
	m.mu.Unlock()
}

// FailWrites makes every write return err. nil restores success.
func (m *MockUDPSocket) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *MockUDPSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		m.mu.Unlock()
		return 0, nil, err
	}
	m.mu.Unlock()

	select {
	case <-m.closed:
		return 0, nil, net.ErrClosed
	case pkt := <-m.packets:
		return copy(b, pkt.Data), pkt.Addr, nil
	}
}

func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	select {
	case <-m.closed:
		return 0, net.ErrClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, MockUDPPacket{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

// Writes returns a copy of every datagram written so far.
func (m *MockUDPSocket) Writes() []MockUDPPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockUDPPacket(nil), m.writes...)
}

func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	m.readBufferSize = bytes
	m.mu.Unlock()
	return nil
}

// ReadBufferSize returns the last value passed to SetReadBuffer.
func (m *MockUDPSocket) ReadBufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBufferSize
}

func (m *MockUDPSocket) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// Closed reports whether Close was called.
func (m *MockUDPSocket) Closed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *MockUDPSocket) LocalAddr() net.Addr { return m.localAddr }

// MockUDPSocketFactory hands out a fixed socket and records calls.
type MockUDPSocketFactory struct {
	Socket *MockUDPSocket
	Error  error

	mu    sync.Mutex
	calls []MockListenCall
}

// MockListenCall records a call to ListenUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

func NewMockUDPSocketFactory(socket *MockUDPSocket) *MockUDPSocketFactory {
	return &MockUDPSocketFactory{Socket: socket}
}

func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.mu.Lock()
	f.calls = append(f.calls, MockListenCall{Network: network, Addr: laddr})
	f.mu.Unlock()
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Socket, nil
}

// ListenCalls returns the recorded ListenUDP calls.
func (f *MockUDPSocketFactory) ListenCalls() []MockListenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockListenCall(nil), f.calls...)
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}
