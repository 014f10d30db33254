// Package transport defines the packet transport capability interfaces for
// netsync and composes them into the Io endpoint used by everything above it.
//
// Key concepts:
// - PacketSender/PacketReceiver: the two capabilities a backend provides
// - Transport: a concrete backend (udp socket, local channel) that can be
//   split into independent sender and receiver handles over one endpoint
// - Io: the single addressable endpoint composing a sender and a
//   (possibly conditioner-wrapped) receiver, plus optional counters
package transport

import (
	"errors"
	"net/netip"
)

// ErrBind is wrapped by backend constructors when the requested local
// endpoint cannot be acquired. Fatal at startup; callers do not retry.
var ErrBind = errors.New("transport: bind failed")

// ErrUnsupported is returned when configuration selects a backend this
// build cannot construct.
var ErrUnsupported = errors.New("transport: unsupported")

// ErrClosed is returned by send/recv on a transport that has been closed.
var ErrClosed = errors.New("transport: closed")

// PacketSender writes one opaque datagram per call. Send calls on one
// endpoint are applied in call order.
type PacketSender interface {
	Send(payload []byte, to netip.AddrPort) error
}

// PacketReceiver returns the next available datagram and its source address,
// or (nil, zero, nil) when none is pending. Recv never blocks; "would block"
// is not an error.
type PacketReceiver interface {
	Recv() ([]byte, netip.AddrPort, error)
}

// Transport is a concrete packet endpoint. Sender and Receiver handles share
// the underlying endpoint and may be driven from different call sites;
// ordering between the two halves is the caller's responsibility.
type Transport interface {
	LocalAddr() netip.AddrPort
	Sender() PacketSender
	Receiver() PacketReceiver
	Close() error
}
