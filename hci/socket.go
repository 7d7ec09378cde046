package hci

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// responseMaxSize bounds a single read from the management socket.
const responseMaxSize = 64 * 1024

// dataWaitTime is the poll window used while waiting for socket data.
const dataWaitTime = 10 * time.Millisecond

// hciDevNone addresses the management control channel rather than a device.
const hciDevNone = 0xffff

// ReadResult classifies the outcome of a Socket.Read.
type ReadResult int

const (
	ReadOk ReadResult = iota
	ReadWouldBlock
	ReadClosed
	ReadInterrupted
	ReadError
)

// Socket owns a raw, non-blocking, close-on-exec HCI socket bound to the
// management control channel (no device). It is safe for one reader and one
// writer to use concurrently.
type Socket struct {
	mu      sync.Mutex
	fd      int
	running func() bool
}

// NewSocket creates an unconnected socket. running reports whether the
// server has not yet begun shutting down; WaitForDataOrShutdown observes it
// so the transport can be stopped without closing the descriptor out from
// under a blocked read.
func NewSocket(running func() bool) *Socket {
	if running == nil {
		running = func() bool { return true }
	}
	return &Socket{fd: -1, running: running}
}

// Connect opens and binds the management socket. An already connected socket
// is disconnected first.
func (s *Socket) Connect() error {
	s.Disconnect()

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.BTPROTO_HCI)
	if err != nil {
		return errors.Wrap(err, "can't create HCI socket")
	}

	sa := &unix.SockaddrHCI{Dev: hciDevNone, Channel: unix.HCI_CHANNEL_CONTROL}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "can't bind HCI control channel")
	}

	s.mu.Lock()
	s.fd = fd
	s.mu.Unlock()
	return nil
}

// IsConnected reports whether the socket is open.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd >= 0
}

// Disconnect closes the socket if it is open.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	fd := s.fd
	s.fd = -1
	s.mu.Unlock()

	if fd >= 0 {
		unix.Close(fd)
	}
}

func (s *Socket) currentFD() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Read fills buf from the socket. A zero-length read is treated as
// peer-closed; requesting more than the internal buffer limit is an error.
func (s *Socket) Read(buf []byte) (int, ReadResult) {
	if len(buf) > responseMaxSize {
		return 0, ReadError
	}
	fd := s.currentFD()
	if fd < 0 {
		return 0, ReadClosed
	}

	n, err := unix.Read(fd, buf)
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return 0, ReadWouldBlock
	case err == unix.EINTR:
		return 0, ReadInterrupted
	case err != nil:
		return 0, ReadError
	case n == 0:
		return 0, ReadClosed
	}
	return n, ReadOk
}

// Write sends the whole of b to the socket.
func (s *Socket) Write(b []byte) error {
	fd := s.currentFD()
	if fd < 0 {
		return errors.New("hci: socket not connected")
	}

	n, err := unix.Write(fd, b)
	if err != nil {
		return errors.Wrap(err, "hci: write")
	}
	if n != len(b) {
		return errors.Errorf("hci: short write (%d of %d bytes)", n, len(b))
	}
	return nil
}

// WaitForDataOrShutdown polls the socket in pollInterval windows until data
// is readable, the server begins shutting down, or an unrecoverable socket
// error occurs. It returns true only when data is available.
func (s *Socket) WaitForDataOrShutdown(pollInterval time.Duration) bool {
	timeout := int(pollInterval / time.Millisecond)
	for s.running() {
		fd := s.currentFD()
		if fd < 0 {
			return false
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false
		}
		if n > 0 {
			return true
		}
	}
	return false
}
