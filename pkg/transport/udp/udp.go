// Package udp implements the datagram socket transport backend.
package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"netsync/pkg/transport"
)

// Socket is a UDP transport bound to a local address. The sender and
// receiver handles returned by Sender/Receiver share the socket; *net.UDPConn
// is safe for concurrent use, so the two halves need no extra locking.
type Socket struct {
	conn   *net.UDPConn
	local  netip.AddrPort
	buf    [maxDatagramSize]byte
	closed atomic.Bool
}

// maxDatagramSize bounds one received datagram. 64 KiB covers the maximum
// UDP payload.
const maxDatagramSize = 64 * 1024

// New binds a UDP socket to addr. Port 0 requests an ephemeral port; the
// resolved address is available via LocalAddr. A bind failure wraps
// transport.ErrBind.
func New(addr netip.AddrPort) (*Socket, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrBind, addr, err)
	}
	return &Socket{
		conn:  conn,
		local: conn.LocalAddr().(*net.UDPAddr).AddrPort(),
	}, nil
}

// LocalAddr returns the bound address, with the ephemeral port resolved.
func (s *Socket) LocalAddr() netip.AddrPort { return s.local }

func (s *Socket) Sender() transport.PacketSender     { return s }
func (s *Socket) Receiver() transport.PacketReceiver { return s }

// Send writes one datagram to dest.
func (s *Socket) Send(payload []byte, to netip.AddrPort) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if _, err := s.conn.WriteToUDPAddrPort(payload, to); err != nil {
		return err
	}
	return nil
}

// Recv polls for the next datagram. The socket read is armed with a
// near-immediate deadline so the call returns promptly; the resulting
// timeout is the normalized "no packet pending" case, not an error. The
// deadline must be in the future: an already-expired deadline makes the
// runtime poller fail the read without attempting it, even when a
// datagram is queued.
func (s *Socket) Recv() ([]byte, netip.AddrPort, error) {
	if s.closed.Load() {
		return nil, netip.AddrPort{}, transport.ErrClosed
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return nil, netip.AddrPort{}, err
	}
	n, from, err := s.conn.ReadFromUDPAddrPort(s.buf[:])
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, netip.AddrPort{}, nil
		}
		if s.closed.Load() {
			return nil, netip.AddrPort{}, transport.ErrClosed
		}
		return nil, netip.AddrPort{}, err
	}
	payload := make([]byte, n)
	copy(payload, s.buf[:n])
	return payload, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

// Close releases the socket. Further sends and receives fail with
// transport.ErrClosed.
func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
