package main

import (
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"netsync/pkg/config"
	"netsync/pkg/netcode"
	"netsync/pkg/netstack"
	"netsync/pkg/observability"
	"netsync/pkg/transport"
)

const tickInterval = 20 * time.Millisecond

// run is the main entry point after CLI parsing. It stands up the full
// stack (config, logger, Io, netcode manager) and drives an echo loop:
// application payloads received from a connected peer are sent back to
// their source on the next paced flush.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if opts.Listen != "" {
		cfg.Io.Transport.Address = opts.Listen
	}

	zap.L().Info("netsync-echo started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	metrics := transport.NewMetrics(prometheus.DefaultRegisterer)
	endpoint, err := netstack.NewIo(cfg.Io, metrics)
	if err != nil {
		zap.L().Error("failed to start transport", zap.Error(err))
		return 1
	}
	defer func() { _ = endpoint.Close() }()
	zap.L().Info("transport bound", zap.Stringer("local_addr", endpoint.LocalAddr()))

	mgr := netcode.NewManager(endpoint,
		netcode.Config{
			NumDisconnectPackets: cfg.Netcode.NumDisconnectPackets,
			KeepaliveSendRate:    cfg.Netcode.KeepaliveSendRate,
		},
		netcode.PacketConfig{SendInterval: cfg.Packet.SendInterval()},
		netcode.WithLogger(logger),
	)

	var peer netip.AddrPort
	dialing := opts.Peer != ""
	if dialing {
		peer, err = netip.ParseAddrPort(opts.Peer)
		if err != nil {
			zap.L().Error("invalid peer address", zap.String("peer", opts.Peer), zap.Error(err))
			return 1
		}
		mgr.Connect(peer)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	lastPing := time.Time{}
	for {
		select {
		case <-sig:
			zap.L().Info("shutting down")
			return 0
		case <-ticker.C:
		}

		// Drain every packet the conditioner released this tick.
		for {
			payload, from, err := endpoint.Recv()
			if err != nil {
				zap.L().Warn("recv", zap.Error(err))
				break
			}
			if payload == nil {
				break
			}
			if mgr.Phase(from) == netcode.Disconnected {
				// unknown or previously disconnected source: fresh connection
				mgr.Connect(from)
			}
			mgr.Touch(from)
			if len(payload) == 0 {
				continue // keepalive
			}
			if dialing {
				zap.L().Info("echo reply", zap.ByteString("payload", payload), zap.Stringer("from", from))
			} else if err := mgr.Send(from, payload); err != nil {
				zap.L().Warn("echo", zap.Stringer("peer", from), zap.Error(err))
			}
		}

		if dialing && time.Since(lastPing) >= time.Second {
			if err := mgr.Send(peer, []byte("ping")); err != nil {
				zap.L().Warn("ping", zap.Error(err))
			}
			lastPing = time.Now()
		}

		if err := mgr.Update(); err != nil {
			zap.L().Warn("netcode update", zap.Error(err))
		}

		for drained := false; !drained; {
			select {
			case ev := <-mgr.Events():
				switch ev.Kind {
				case netcode.EventConnected:
					zap.L().Info("liveness: connected", zap.Stringer("peer", ev.Peer), zap.Stringer("conn", ev.ID))
				case netcode.EventDisconnected:
					zap.L().Info("liveness: disconnected", zap.Stringer("peer", ev.Peer), zap.Stringer("conn", ev.ID))
					if dialing {
						return 0
					}
				}
			default:
				drained = true
			}
		}
	}
}
