// Package netstack wires configuration to a running Io endpoint: it
// resolves the transport backend, wraps the receive path in a link
// conditioner when one is configured, and hands back the composed endpoint.
package netstack

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"netsync/pkg/config"
	"netsync/pkg/transport"
	"netsync/pkg/transport/conditioner"
	"netsync/pkg/transport/local"
	"netsync/pkg/transport/udp"
)

// NewIo builds the endpoint selected by cfg. metrics may be nil to disable
// instrumentation. Failures surface as errors wrapping transport.ErrBind
// (endpoint could not be acquired) or transport.ErrUnsupported (unknown
// backend kind); both are fatal at startup and not retried.
func NewIo(cfg config.IoConfig, metrics *transport.Metrics) (*transport.Io, error) {
	var backend transport.Transport
	switch cfg.Transport.Kind {
	case "udp":
		addr, err := netip.ParseAddrPort(cfg.Transport.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid address %q: %v",
				transport.ErrBind, cfg.Transport.Address, err)
		}
		backend, err = udp.New(addr)
		if err != nil {
			return nil, err
		}
	case "local":
		backend = local.New()
	default:
		return nil, fmt.Errorf("%w: transport kind %q",
			transport.ErrUnsupported, cfg.Transport.Kind)
	}

	var receiver transport.PacketReceiver
	if cfg.Conditioner != nil {
		receiver = conditioner.Wrap(backend.Receiver(), conditionerConfig(*cfg.Conditioner))
	}
	return transport.NewIo(backend, receiver, metrics), nil
}

// NewLocalIoPair builds two cross-connected loopback endpoints, for running
// both sides of a connection in one process. The conditioner, when
// configured, applies to the first endpoint's receive path only.
func NewLocalIoPair(cond *config.ConditionerConfig, metrics *transport.Metrics) (*transport.Io, *transport.Io) {
	a, b := local.NewPair()
	var receiver transport.PacketReceiver
	if cond != nil {
		receiver = conditioner.Wrap(a.Receiver(), conditionerConfig(*cond))
	}
	return transport.NewIo(a, receiver, metrics), transport.NewIo(b, nil, nil)
}

func conditionerConfig(cc config.ConditionerConfig) conditioner.Config {
	dist := conditioner.Uniform
	if strings.EqualFold(cc.Distribution, string(conditioner.Normal)) {
		dist = conditioner.Normal
	}
	return conditioner.Config{
		Latency:      time.Duration(cc.LatencyMS) * time.Millisecond,
		Jitter:       time.Duration(cc.JitterMS) * time.Millisecond,
		Loss:         cc.Loss,
		Duplicate:    cc.Duplicate,
		Distribution: dist,
		Seed:         cc.Seed,
	}
}
