// Package local implements the in-process loopback transport backend, used
// when client and server live in the same process (tests, singleplayer
// hosting a listen server).
package local

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"netsync/pkg/transport"
)

// Channels are bound to synthetic loopback addresses so that packet sources
// remain distinguishable; the port is a process-wide counter, never a real
// socket.
var nextPort atomic.Uint32

func nextAddr() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), uint16(nextPort.Add(1)))
}

type packet struct {
	payload []byte
	from    netip.AddrPort
}

// queue is an unbounded FIFO. The loopback transport must never drop and
// must never block, which rules out a bounded channel in either direction.
type queue struct {
	mu      sync.Mutex
	packets []packet
}

func (q *queue) push(p packet) {
	q.mu.Lock()
	q.packets = append(q.packets, p)
	q.mu.Unlock()
}

func (q *queue) pop() (packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.packets) == 0 {
		return packet{}, false
	}
	p := q.packets[0]
	q.packets = q.packets[1:]
	return p, true
}

// Channel is a loopback endpoint. New returns a self-looping channel whose
// sends surface on its own receiver; NewPair returns two cross-connected
// endpoints. Delivery is lossless and FIFO per direction; impairment is the
// conditioner's job, never the transport's.
type Channel struct {
	local  netip.AddrPort
	rx     *queue
	peerRx *queue
	closed atomic.Bool
}

// New creates a self-looping channel: everything sent is received back on
// the same endpoint.
func New() *Channel {
	c := &Channel{local: nextAddr(), rx: &queue{}}
	c.peerRx = c.rx
	return c
}

// NewPair creates two endpoints wired to each other: a.Send surfaces on
// b.Recv and vice versa.
func NewPair() (*Channel, *Channel) {
	a := &Channel{local: nextAddr(), rx: &queue{}}
	b := &Channel{local: nextAddr(), rx: &queue{}}
	a.peerRx = b.rx
	b.peerRx = a.rx
	return a, b
}

// LocalAddr returns the synthetic address this endpoint is bound to.
func (c *Channel) LocalAddr() netip.AddrPort { return c.local }

func (c *Channel) Sender() transport.PacketSender     { return c }
func (c *Channel) Receiver() transport.PacketReceiver { return c }

// Send enqueues one packet for the peer endpoint. The destination address is
// ignored: a channel has exactly one peer. The payload is copied so callers
// may reuse their buffer.
func (c *Channel) Send(payload []byte, _ netip.AddrPort) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.peerRx.push(packet{payload: buf, from: c.local})
	return nil
}

// Recv dequeues the next pending packet, if any.
func (c *Channel) Recv() ([]byte, netip.AddrPort, error) {
	if c.closed.Load() {
		return nil, netip.AddrPort{}, transport.ErrClosed
	}
	p, ok := c.rx.pop()
	if !ok {
		return nil, netip.AddrPort{}, nil
	}
	return p.payload, p.from, nil
}

// Close marks the endpoint closed. Pending packets are discarded; further
// sends and receives fail with transport.ErrClosed.
func (c *Channel) Close() error {
	c.closed.Store(true)
	return nil
}
