//go:build linux

package ioloop

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nmxmxh/wasabi-host/internal/hosterrors"
)

// netResource is either a listening or connected TCP socket, a plain
// discriminated struct like the rest of this module's tagged unions.
type netResource struct {
	fd         int
	isListener bool
}

// ParseIPv4Addr splits "a.b.c.d:port" into a 4-byte address and port.
func ParseIPv4Addr(addr string) (ip [4]byte, port uint16, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ip, 0, fmt.Errorf("%w: %s", hosterrors.ErrBadSocketAddress, addr)
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ip, 0, fmt.Errorf("%w: bad port in %s", hosterrors.ErrBadSocketAddress, addr)
	}
	parsed := net.ParseIP(host)
	if parsed == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return ip, 0, fmt.Errorf("%w: %s", hosterrors.ErrBadSocketAddress, addr)
		}
		parsed = resolved.IP
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ip, 0, fmt.Errorf("%w: not IPv4: %s", hosterrors.ErrBadSocketAddress, addr)
	}
	copy(ip[:], v4)
	return ip, uint16(p), nil
}

// EncodeAddr serializes an address as [a,b,c,d, port_lo, port_hi].
func EncodeAddr(ip [4]byte, port uint16) [6]byte {
	return [6]byte{ip[0], ip[1], ip[2], ip[3], byte(port), byte(port >> 8)}
}

func sockaddr(ip [4]byte, port uint16) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(port), Addr: ip}
}

// TCPListen binds addr, registers the listener with the poller, and returns
// its connection-slab index.
func (l *Loop) TCPListen(addr string) (int, error) {
	ip, port, err := ParseIPv4Addr(addr)
	if err != nil {
		return 0, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("ioloop: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("ioloop: setsockopt: %w", err)
	}
	if err := unix.Bind(fd, sockaddr(ip, port)); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("ioloop: bind: %w", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("ioloop: listen: %w", err)
	}
	idx := l.conns.insert(netResource{fd: fd, isListener: true})
	if err := l.poller.register(fd, idx); err != nil {
		l.conns.remove(idx)
		unix.Close(fd)
		return 0, fmt.Errorf("ioloop: poller register: %w", err)
	}
	return idx, nil
}

// TCPConnect opens a non-blocking connect to addr; completion is signaled
// by a writable readiness Event on the returned index.
func (l *Loop) TCPConnect(addr string) (int, error) {
	ip, port, err := ParseIPv4Addr(addr)
	if err != nil {
		return 0, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("ioloop: socket: %w", err)
	}
	err = unix.Connect(fd, sockaddr(ip, port))
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return 0, fmt.Errorf("ioloop: connect: %w", err)
	}
	idx := l.conns.insert(netResource{fd: fd})
	if err := l.poller.register(fd, idx); err != nil {
		l.conns.remove(idx)
		unix.Close(fd)
		return 0, fmt.Errorf("ioloop: poller register: %w", err)
	}
	return idx, nil
}

// TCPAccept accepts one pending connection off listenerIdx.
func (l *Loop) TCPAccept(listenerIdx int) (int, error) {
	r, err := l.conns.mustGet(listenerIdx)
	if err != nil || !r.isListener {
		return 0, fmt.Errorf("ioloop: %d is not a listener", listenerIdx)
	}
	nfd, _, err := unix.Accept4(r.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return 0, err
	}
	idx := l.conns.insert(netResource{fd: nfd})
	if err := l.poller.register(nfd, idx); err != nil {
		l.conns.remove(idx)
		unix.Close(nfd)
		return 0, fmt.Errorf("ioloop: poller register: %w", err)
	}
	return idx, nil
}

// ReadConn performs a single non-blocking read; the driver calls this
// directly in response to a readable Event rather than submitting it to
// the async worker.
func (l *Loop) ReadConn(idx int, buf []byte) (int, error) {
	r, err := l.conns.mustGet(idx)
	if err != nil {
		return 0, err
	}
	n, err := unix.Read(r.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// WriteConn performs a single non-blocking write.
func (l *Loop) WriteConn(idx int, buf []byte) (int, error) {
	r, err := l.conns.mustGet(idx)
	if err != nil {
		return 0, err
	}
	n, err := unix.Write(r.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// ShutdownConn issues a half-close: how is "r", "w", or "rw".
func (l *Loop) ShutdownConn(idx int, how string) error {
	r, err := l.conns.mustGet(idx)
	if err != nil {
		return err
	}
	switch strings.ToLower(how) {
	case "r":
		return unix.Shutdown(r.fd, unix.SHUT_RD)
	case "w":
		return unix.Shutdown(r.fd, unix.SHUT_WR)
	default:
		return unix.Shutdown(r.fd, unix.SHUT_RDWR)
	}
}

// CloseConn removes idx from the slab; double-close is a no-op. The
// underlying fd is closed, which drops the socket.
func (l *Loop) CloseConn(idx int) error {
	r, ok := l.conns.get(idx)
	if !ok {
		return nil
	}
	_ = l.poller.unregister(r.fd)
	l.conns.remove(idx)
	return unix.Close(r.fd)
}

// LocalAddr and RemoteAddr report the ends of a connected socket.
func (l *Loop) LocalAddr(idx int) ([4]byte, uint16, error) {
	r, err := l.conns.mustGet(idx)
	if err != nil {
		return [4]byte{}, 0, err
	}
	sa, err := unix.Getsockname(r.fd)
	if err != nil {
		return [4]byte{}, 0, err
	}
	return addrFromSockaddr(sa)
}

func (l *Loop) RemoteAddr(idx int) ([4]byte, uint16, error) {
	r, err := l.conns.mustGet(idx)
	if err != nil {
		return [4]byte{}, 0, err
	}
	sa, err := unix.Getpeername(r.fd)
	if err != nil {
		return [4]byte{}, 0, err
	}
	return addrFromSockaddr(sa)
}

func addrFromSockaddr(sa unix.Sockaddr) ([4]byte, uint16, error) {
	v4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return [4]byte{}, 0, fmt.Errorf("ioloop: non-IPv4 socket address")
	}
	return v4.Addr, uint16(v4.Port), nil
}

// GetError reads and clears SO_ERROR, mirroring the guest-facing
// getError import.
func (l *Loop) GetError(idx int) error {
	r, err := l.conns.mustGet(idx)
	if err != nil {
		return err
	}
	errno, err := unix.GetsockoptInt(r.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
