// Package netcode layers connection liveness on top of the raw packet
// transport: explicit keepalives while the application is quiet, and
// disconnect detection after a configurable number of silent keepalive
// intervals. It turns the connectionless transport into a virtual
// point-to-point connection with a per-peer connected/disconnected signal.
//
// The package is driven by an external tick loop: Update is called once per
// tick and expresses all waiting as timestamp comparisons, never sleeps.
package netcode

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"netsync/pkg/transport"
)

// ErrNotConnected is returned when sending to a peer that is unknown or has
// reached the terminal Disconnected phase.
var ErrNotConnected = errors.New("netcode: not connected")

// Config governs the liveness sub-protocol.
type Config struct {
	// NumDisconnectPackets is how many consecutive keepalive intervals may
	// pass without a received packet before the peer is declared gone.
	// A value of 1 makes a single dropped keepalive fatal; choose it
	// deliberately.
	NumDisconnectPackets int
	// KeepaliveSendRate is how many keepalives per second are sent while no
	// application traffic is flowing.
	KeepaliveSendRate float64
}

// DefaultConfig mirrors the stock netcode tuning: tolerate ten silent
// keepalive intervals, one keepalive every ten seconds.
func DefaultConfig() Config {
	return Config{NumDisconnectPackets: 10, KeepaliveSendRate: 1.0 / 10.0}
}

// PacketConfig paces outbound application packet flushes.
type PacketConfig struct {
	// SendInterval is the minimum spacing between flushes for one peer,
	// regardless of how fast the driving tick runs.
	SendInterval time.Duration
}

// DefaultPacketConfig flushes at most once per 100ms.
func DefaultPacketConfig() PacketConfig {
	return PacketConfig{SendInterval: 100 * time.Millisecond}
}

// Phase is the liveness state of one peer.
type Phase int

const (
	// Connecting means a connection attempt was initiated and no packet has
	// arrived from the peer yet. An attempt that stays unanswered past the
	// disconnect threshold (NumDisconnectPackets keepalive intervals) fails
	// to Disconnected, so dialing a dead address reports liveness-lost
	// instead of hanging forever.
	Connecting Phase = iota
	// Connected means at least one packet has arrived and the peer has not
	// gone silent past the disconnect threshold.
	Connected
	// Disconnected is terminal. A new connection attempt creates a fresh
	// Connection rather than reviving this one.
	Disconnected
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EventKind discriminates liveness events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
)

// Event is the liveness signal consumed by the layers above once per tick.
type Event struct {
	Kind EventKind
	Peer netip.AddrPort
	// ID identifies the connection attempt, so a reconnect to the same
	// address is distinguishable from the connection that died.
	ID uuid.UUID
}

// connection is the per-peer state owned by the Manager.
type connection struct {
	id        uuid.UUID
	peer      netip.AddrPort
	phase     Phase
	lastRecv  time.Time
	lastSend  time.Time
	lastFlush time.Time
	pending   [][]byte
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock substitutes the time source (mocked in tests).
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clk = c }
}

// WithLogger attaches a logger; zap.L() is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager owns the per-peer connection map and derives keepalive cadence and
// the disconnect timeout from configuration. It assumes a single logical
// owner drives Connect/Touch/Send/Update from one tick loop.
type Manager struct {
	sender    transport.PacketSender
	cfg       Config
	pktCfg    PacketConfig
	clk       clock.Clock
	log       *zap.Logger
	peers     map[netip.AddrPort]*connection
	events    chan Event
	keepalive time.Duration
}

// NewManager builds a Manager sending through sender. Out-of-range
// configuration falls back to the defaults.
func NewManager(sender transport.PacketSender, cfg Config, pktCfg PacketConfig, opts ...Option) *Manager {
	if cfg.NumDisconnectPackets < 1 {
		cfg.NumDisconnectPackets = DefaultConfig().NumDisconnectPackets
	}
	if cfg.KeepaliveSendRate <= 0 {
		cfg.KeepaliveSendRate = DefaultConfig().KeepaliveSendRate
	}
	if pktCfg.SendInterval <= 0 {
		pktCfg.SendInterval = DefaultPacketConfig().SendInterval
	}
	m := &Manager{
		sender:    sender,
		cfg:       cfg,
		pktCfg:    pktCfg,
		clk:       clock.New(),
		log:       zap.L(),
		peers:     make(map[netip.AddrPort]*connection),
		events:    make(chan Event, 64),
		keepalive: time.Duration(float64(time.Second) / cfg.KeepaliveSendRate),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events exposes the liveness signal. Each transition is emitted exactly
// once into a 64-slot buffer; the consumer must drain the channel once per
// tick, like the rest of this package is driven. A consumer that stops
// draining for 64 transitions starts losing events (logged, never blocking
// the tick), so Phase/IsConnected remain the authoritative fallback.
func (m *Manager) Events() <-chan Event { return m.events }

// Connect initiates a fresh connection attempt to peer and returns its id.
// Any previous connection to the same address, whatever its phase, is
// replaced by new state in the Connecting phase.
func (m *Manager) Connect(peer netip.AddrPort) uuid.UUID {
	c := &connection{
		id:        uuid.New(),
		peer:      peer,
		phase:     Connecting,
		lastRecv:  m.clk.Now(),
		lastFlush: m.clk.Now().Add(-m.pktCfg.SendInterval),
	}
	m.peers[peer] = c
	m.log.Debug("netcode connect", zap.Stringer("peer", peer), zap.Stringer("conn", c.id))
	return c.id
}

// Touch records one received packet (keepalive or application) from peer.
// The first packet completes the handshake of a Connecting peer; every
// packet refreshes the disconnect deadline. Packets from unknown or
// disconnected peers are ignored and reported as such.
func (m *Manager) Touch(peer netip.AddrPort) bool {
	c := m.peers[peer]
	if c == nil || c.phase == Disconnected {
		return false
	}
	c.lastRecv = m.clk.Now()
	if c.phase == Connecting {
		c.phase = Connected
		m.log.Info("peer connected", zap.Stringer("peer", peer), zap.Stringer("conn", c.id))
		m.emit(Event{Kind: EventConnected, Peer: peer, ID: c.id})
	}
	return true
}

// Send buffers one application payload for peer. The payload goes out on
// the next Update whose pacing gate is open; no two flushes for one peer are
// spaced closer than PacketConfig.SendInterval.
func (m *Manager) Send(peer netip.AddrPort, payload []byte) error {
	c := m.peers[peer]
	if c == nil || c.phase == Disconnected {
		return ErrNotConnected
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.pending = append(c.pending, buf)
	return nil
}

// Phase reports the liveness phase for peer; unknown peers are Disconnected.
func (m *Manager) Phase(peer netip.AddrPort) Phase {
	if c := m.peers[peer]; c != nil {
		return c.phase
	}
	return Disconnected
}

// IsConnected is the pollable form of the liveness signal.
func (m *Manager) IsConnected(peer netip.AddrPort) bool {
	return m.Phase(peer) == Connected
}

// Update advances every connection by one tick: detects disconnects, flushes
// paced application payloads, and emits keepalives for quiet links. It never
// blocks; call it once per tick.
func (m *Manager) Update() error {
	now := m.clk.Now()
	var errs []error
	for _, c := range m.peers {
		if c.phase == Disconnected {
			continue
		}

		// The silence threshold applies to both live phases: a Connected
		// peer that went quiet and a Connecting peer that never answered
		// fail the same way.
		missed := int(now.Sub(c.lastRecv) / m.keepalive)
		if missed >= m.cfg.NumDisconnectPackets {
			msg := "peer disconnected"
			if c.phase == Connecting {
				msg = "connect attempt timed out"
			}
			c.phase = Disconnected
			c.pending = nil
			m.log.Info(msg,
				zap.Stringer("peer", c.peer),
				zap.Stringer("conn", c.id),
				zap.Int("missed_keepalives", missed))
			m.emit(Event{Kind: EventDisconnected, Peer: c.peer, ID: c.id})
			continue
		}

		if len(c.pending) > 0 && now.Sub(c.lastFlush) >= m.pktCfg.SendInterval {
			for _, payload := range c.pending {
				if err := m.sender.Send(payload, c.peer); err != nil {
					errs = append(errs, fmt.Errorf("flush to %s: %w", c.peer, err))
				}
			}
			c.pending = nil
			c.lastFlush = now
			c.lastSend = now
		}

		if c.phase == Connected && now.Sub(c.lastSend) >= m.keepalive {
			// Keepalives are zero-length datagrams; any received datagram,
			// empty included, refreshes the peer's liveness.
			if err := m.sender.Send(nil, c.peer); err != nil {
				errs = append(errs, fmt.Errorf("keepalive to %s: %w", c.peer, err))
			}
			c.lastSend = now
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("liveness event dropped, consumer lagging",
			zap.Stringer("peer", ev.Peer))
	}
}
