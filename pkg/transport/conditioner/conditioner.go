// Package conditioner wraps a packet receiver with simulated network
// impairment: loss, latency with jitter, duplication, and the reordering
// that naturally falls out of jittered release times. It applies to the
// receive path only; sends pass through the transport untouched, matching
// how asymmetric link testing is usually set up.
package conditioner

import (
	"container/heap"
	"math/rand"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"

	"netsync/pkg/transport"
)

// Distribution selects the shape of the delay sample.
type Distribution string

const (
	// Uniform samples delay uniformly over [Latency-Jitter, Latency+Jitter].
	Uniform Distribution = "uniform"
	// Normal samples delay from N(Latency, Jitter²).
	Normal Distribution = "normal"
)

// Config holds the impairment parameters. Pure configuration, no runtime
// state; the zero value is a fully transparent conditioner.
type Config struct {
	// Latency is the base one-way delay added to every delivered packet.
	Latency time.Duration
	// Jitter spreads the delay around Latency according to Distribution.
	Jitter time.Duration
	// Loss is the probability in [0,1] that a packet is silently discarded.
	Loss float64
	// Duplicate is the probability in [0,1] that a packet is delivered a
	// second time, with an independent delay sample.
	Duplicate float64
	// Distribution is the delay sample shape; empty means Uniform.
	Distribution Distribution
	// Seed makes the impairment deterministic when non-zero.
	Seed int64
}

// Option customizes a Receiver.
type Option func(*Receiver)

// WithClock substitutes the time source. Tests use clock.NewMock to step
// release times without sleeping.
func WithClock(c clock.Clock) Option {
	return func(r *Receiver) { r.clk = c }
}

// Receiver decorates an inner PacketReceiver with impairment. It is not
// safe for concurrent use; the delay queue belongs to exactly one poller,
// like the receive half it wraps.
type Receiver struct {
	inner transport.PacketReceiver
	cfg   Config
	clk   clock.Clock
	rng   *rand.Rand
	queue delayQueue
	seq   uint64
}

// Wrap builds a conditioned receiver around inner.
func Wrap(inner transport.PacketReceiver, cfg Config, opts ...Option) *Receiver {
	r := &Receiver{inner: inner, cfg: cfg, clk: clock.New()}
	for _, opt := range opts {
		opt(r)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r.rng = rand.New(rand.NewSource(seed))
	return r
}

// Recv drains everything pending on the inner receiver into the delay queue
// (applying loss and duplication as each packet is drawn), then releases the
// earliest due packet, if any. At most one packet is returned per poll and
// the call never blocks. Inner errors are forwarded unchanged.
func (r *Receiver) Recv() ([]byte, netip.AddrPort, error) {
	for {
		payload, from, err := r.inner.Recv()
		if err != nil {
			return nil, netip.AddrPort{}, err
		}
		if payload == nil {
			break
		}
		if r.rng.Float64() < r.cfg.Loss {
			continue
		}
		r.hold(payload, from)
		if r.rng.Float64() < r.cfg.Duplicate {
			dup := make([]byte, len(payload))
			copy(dup, payload)
			r.hold(dup, from)
		}
	}

	now := r.clk.Now()
	if len(r.queue) > 0 && !r.queue[0].release.After(now) {
		e := heap.Pop(&r.queue).(*entry)
		return e.payload, e.from, nil
	}
	return nil, netip.AddrPort{}, nil
}

func (r *Receiver) hold(payload []byte, from netip.AddrPort) {
	r.seq++
	heap.Push(&r.queue, &entry{
		release: r.clk.Now().Add(r.sampleDelay()),
		payload: payload,
		from:    from,
		seq:     r.seq,
	})
}

func (r *Receiver) sampleDelay() time.Duration {
	var d time.Duration
	switch r.cfg.Distribution {
	case Normal:
		d = r.cfg.Latency + time.Duration(r.rng.NormFloat64()*float64(r.cfg.Jitter))
	default:
		d = r.cfg.Latency - r.cfg.Jitter + time.Duration(r.rng.Float64()*2*float64(r.cfg.Jitter))
	}
	if d < 0 {
		d = 0
	}
	return d
}

// entry is one held packet keyed by its scheduled release time. seq breaks
// ties so equal release times keep arrival order.
type entry struct {
	release time.Time
	payload []byte
	from    netip.AddrPort
	seq     uint64
}

type delayQueue []*entry

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool {
	if q[i].release.Equal(q[j].release) {
		return q[i].seq < q[j].seq
	}
	return q[i].release.Before(q[j].release)
}

func (q delayQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayQueue) Push(x any) { *q = append(*q, x.(*entry)) }

func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
