package netcode

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentPacket struct {
	payload []byte
	to      netip.AddrPort
	at      time.Time
}

// recordingSender captures every send with the mock-clock timestamp.
type recordingSender struct {
	clk   clock.Clock
	sends []sentPacket
}

func (s *recordingSender) Send(payload []byte, to netip.AddrPort) error {
	s.sends = append(s.sends, sentPacket{payload: payload, to: to, at: s.clk.Now()})
	return nil
}

func (s *recordingSender) keepalives() int {
	n := 0
	for _, p := range s.sends {
		if len(p.payload) == 0 {
			n++
		}
	}
	return n
}

func (s *recordingSender) flushes() []sentPacket {
	var out []sentPacket
	for _, p := range s.sends {
		if len(p.payload) > 0 {
			out = append(out, p)
		}
	}
	return out
}

var peer = netip.MustParseAddrPort("127.0.0.1:40000")

func newTestManager(t *testing.T, cfg Config, pktCfg PacketConfig) (*Manager, *recordingSender, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	sender := &recordingSender{clk: mock}
	m := NewManager(sender, cfg, pktCfg, WithClock(mock), WithLogger(zap.NewNop()))
	return m, sender, mock
}

func drainEvents(m *Manager) []Event {
	var out []Event
	for {
		select {
		case ev := <-m.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestFirstPacketCompletesConnection(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig(), DefaultPacketConfig())

	id := m.Connect(peer)
	assert.Equal(t, Connecting, m.Phase(peer))
	assert.False(t, m.IsConnected(peer))

	require.True(t, m.Touch(peer))
	assert.Equal(t, Connected, m.Phase(peer))

	// event fires once, a second Touch does not repeat it
	require.True(t, m.Touch(peer))
	events := drainEvents(m)
	require.Len(t, events, 1)
	assert.Equal(t, EventConnected, events[0].Kind)
	assert.Equal(t, peer, events[0].Peer)
	assert.Equal(t, id, events[0].ID)
}

func TestTouchUnknownPeerIgnored(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig(), DefaultPacketConfig())
	assert.False(t, m.Touch(peer))
	assert.Empty(t, drainEvents(m))
}

func TestDisconnectAfterExactlyNMissedIntervals(t *testing.T) {
	// keepalive interval 1s, disconnect after 3 silent intervals
	m, _, mock := newTestManager(t,
		Config{NumDisconnectPackets: 3, KeepaliveSendRate: 1},
		DefaultPacketConfig())

	m.Connect(peer)
	m.Touch(peer)
	drainEvents(m)

	// not before: 2.5 intervals of silence keep the peer connected
	for i := 0; i < 5; i++ {
		mock.Add(500 * time.Millisecond)
		require.NoError(t, m.Update())
		assert.True(t, m.IsConnected(peer), "disconnected early at %v of silence", time.Duration(i+1)*500*time.Millisecond)
	}

	// crossing the third interval disconnects
	mock.Add(500 * time.Millisecond)
	require.NoError(t, m.Update())
	assert.Equal(t, Disconnected, m.Phase(peer))

	events := drainEvents(m)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Kind)

	// terminal: further ticks emit nothing more
	mock.Add(10 * time.Second)
	require.NoError(t, m.Update())
	assert.Empty(t, drainEvents(m))

	assert.ErrorIs(t, m.Send(peer, []byte("too late")), ErrNotConnected)
}

func TestReceivedPacketResetsDisconnectDeadline(t *testing.T) {
	m, _, mock := newTestManager(t,
		Config{NumDisconnectPackets: 3, KeepaliveSendRate: 1},
		DefaultPacketConfig())

	m.Connect(peer)
	m.Touch(peer)

	// keep touching every 2 intervals; the deadline keeps moving
	for i := 0; i < 10; i++ {
		mock.Add(2 * time.Second)
		require.NoError(t, m.Update())
		require.True(t, m.IsConnected(peer))
		m.Touch(peer)
	}
}

func TestKeepaliveCadenceWhenQuiet(t *testing.T) {
	m, sender, mock := newTestManager(t,
		Config{NumDisconnectPackets: 10, KeepaliveSendRate: 1},
		DefaultPacketConfig())

	m.Connect(peer)
	m.Touch(peer)

	// tick faster than the keepalive rate; keepalives still go out once
	// per interval
	for i := 0; i < 40; i++ {
		mock.Add(100 * time.Millisecond)
		require.NoError(t, m.Update())
	}

	kas := sender.keepalives()
	// 4 seconds of quiet at 1 keepalive/sec, plus the initial one
	assert.InDelta(t, 5, kas, 1)
	for _, p := range sender.sends {
		assert.Equal(t, peer, p.to)
	}
}

func TestApplicationTrafficSuppressesKeepalives(t *testing.T) {
	m, sender, mock := newTestManager(t,
		Config{NumDisconnectPackets: 10, KeepaliveSendRate: 1},
		PacketConfig{SendInterval: 100 * time.Millisecond})

	m.Connect(peer)
	m.Touch(peer)

	for i := 0; i < 20; i++ {
		require.NoError(t, m.Send(peer, []byte("state update")))
		mock.Add(100 * time.Millisecond)
		require.NoError(t, m.Update())
	}

	assert.NotEmpty(t, sender.flushes())
	assert.Zero(t, sender.keepalives(), "keepalives sent while application traffic was flowing")
}

func TestFlushPacingNeverFasterThanSendInterval(t *testing.T) {
	m, sender, mock := newTestManager(t,
		DefaultConfig(),
		PacketConfig{SendInterval: 100 * time.Millisecond})

	m.Connect(peer)
	m.Touch(peer)

	// drive the tick at 10ms with a payload queued every tick
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Send(peer, []byte("tick")))
		mock.Add(10 * time.Millisecond)
		require.NoError(t, m.Update())
	}
	// one more gate opening drains whatever the pacing held back
	mock.Add(100 * time.Millisecond)
	require.NoError(t, m.Update())

	flushes := sender.flushes()
	require.NotEmpty(t, flushes)
	lastFlushAt := flushes[0].at
	for _, p := range flushes[1:] {
		if p.at.Equal(lastFlushAt) {
			continue // same flush, multiple buffered payloads
		}
		spacing := p.at.Sub(lastFlushAt)
		assert.GreaterOrEqual(t, spacing, 100*time.Millisecond)
		lastFlushAt = p.at
	}
	// nothing queued is lost: every Send eventually flushed
	assert.Equal(t, 100, len(flushes))
}

func TestSendToUnknownPeer(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig(), DefaultPacketConfig())
	assert.ErrorIs(t, m.Send(peer, []byte("x")), ErrNotConnected)
}

func TestReconnectCreatesFreshConnection(t *testing.T) {
	m, _, mock := newTestManager(t,
		Config{NumDisconnectPackets: 1, KeepaliveSendRate: 1},
		DefaultPacketConfig())

	first := m.Connect(peer)
	m.Touch(peer)
	mock.Add(time.Second)
	require.NoError(t, m.Update())
	require.Equal(t, Disconnected, m.Phase(peer))
	drainEvents(m)

	second := m.Connect(peer)
	assert.NotEqual(t, first, second)
	assert.Equal(t, Connecting, m.Phase(peer))
	m.Touch(peer)
	events := drainEvents(m)
	require.Len(t, events, 1)
	assert.Equal(t, second, events[0].ID)
}

func TestUnansweredConnectTimesOut(t *testing.T) {
	m, _, mock := newTestManager(t,
		Config{NumDisconnectPackets: 3, KeepaliveSendRate: 1},
		DefaultPacketConfig())

	m.Connect(peer)
	require.Equal(t, Connecting, m.Phase(peer))

	// short of the threshold the attempt is still pending
	mock.Add(2500 * time.Millisecond)
	require.NoError(t, m.Update())
	assert.Equal(t, Connecting, m.Phase(peer))
	assert.Empty(t, drainEvents(m))

	// crossing it fails the attempt with a single liveness-lost event
	mock.Add(500 * time.Millisecond)
	require.NoError(t, m.Update())
	assert.Equal(t, Disconnected, m.Phase(peer))
	events := drainEvents(m)
	require.Len(t, events, 1)
	assert.Equal(t, EventDisconnected, events[0].Kind)

	assert.ErrorIs(t, m.Send(peer, []byte("x")), ErrNotConnected)
}

func TestEventBufferOverflowNeverBlocksTheTick(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultConfig(), DefaultPacketConfig())

	// 100 transitions against a consumer that never drains: the buffer
	// caps at 64 and the overflow is dropped, not blocked on
	for i := 0; i < 100; i++ {
		p := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(50000+i))
		m.Connect(p)
		require.True(t, m.Touch(p))
	}
	assert.Len(t, drainEvents(m), 64)
}

func TestConfigFloorFallsBackToDefaults(t *testing.T) {
	m, _, _ := newTestManager(t, Config{NumDisconnectPackets: 0, KeepaliveSendRate: -1}, PacketConfig{})
	assert.Equal(t, DefaultConfig().NumDisconnectPackets, m.cfg.NumDisconnectPackets)
	assert.Equal(t, DefaultConfig().KeepaliveSendRate, m.cfg.KeepaliveSendRate)
	assert.Equal(t, DefaultPacketConfig().SendInterval, m.pktCfg.SendInterval)
}
