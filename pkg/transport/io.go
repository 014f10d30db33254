package transport

import "net/netip"

// Io is the composed endpoint: one sender, one receiver (possibly a
// conditioner wrapping the backend's receiver), and the backend's bound local
// address. It is the only object the layers above this package touch; the
// concrete backend never leaks through it.
//
// Io holds no protocol state. Its only side effects are the underlying
// transport and the optional counters.
type Io struct {
	backend  Transport
	sender   PacketSender
	receiver PacketReceiver
	metrics  *Metrics
}

// NewIo composes an endpoint from a backend and an optional replacement
// receiver (a conditioner wrapping backend.Receiver(); pass nil to use the
// backend's receiver directly). metrics may be nil.
func NewIo(backend Transport, receiver PacketReceiver, metrics *Metrics) *Io {
	if receiver == nil {
		receiver = backend.Receiver()
	}
	return &Io{
		backend:  backend,
		sender:   backend.Sender(),
		receiver: receiver,
		metrics:  metrics,
	}
}

// LocalAddr returns the backend's bound local address.
func (io *Io) LocalAddr() netip.AddrPort { return io.backend.LocalAddr() }

// Send forwards one payload to the inner sender.
func (io *Io) Send(payload []byte, to netip.AddrPort) error {
	if err := io.sender.Send(payload, to); err != nil {
		return err
	}
	io.metrics.observeSend(len(payload))
	return nil
}

// Recv forwards to the inner receiver. A (nil, zero, nil) return means no
// packet is pending this poll.
func (io *Io) Recv() ([]byte, netip.AddrPort, error) {
	payload, from, err := io.receiver.Recv()
	if err != nil || payload == nil {
		return nil, netip.AddrPort{}, err
	}
	io.metrics.observeRecv(len(payload))
	return payload, from, nil
}

// Split exposes the sender and receiver halves so they can be driven from
// different points in the call graph. Io retains ownership; Close still
// releases the backend.
func (io *Io) Split() (PacketSender, PacketReceiver) {
	return io.sender, io.receiver
}

// Close releases the backend's resources. Sends and receives after Close
// fail with ErrClosed.
func (io *Io) Close() error { return io.backend.Close() }
