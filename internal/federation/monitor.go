package federation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MonitorConfig tunes the peer health loop.
type MonitorConfig struct {
	Interval     time.Duration // time between sweeps
	ProbeTimeout time.Duration // per-peer probe deadline
}

// DefaultMonitorConfig probes every active peer once a minute.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     time.Minute,
		ProbeTimeout: 10 * time.Second,
	}
}

// HealthProber is the probe surface the monitor needs from the peer client.
type HealthProber interface {
	CheckHealth(ctx context.Context, peer *Peer, timeout time.Duration) (HealthStatus, time.Duration)
}

// Monitor periodically probes active peers and records their health.
type Monitor struct {
	store  PeerStore
	prober HealthProber
	cfg    MonitorConfig
	logger *zap.Logger
}

func NewMonitor(store PeerStore, prober HealthProber, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorConfig().Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultMonitorConfig().ProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{store: store, prober: prober, cfg: cfg, logger: logger}
}

// Start runs the probe loop until quit closes. Call from a goroutine.
func (m *Monitor) Start(quit <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("federation health monitor started",
		zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ticker.C:
			m.SweepOnce(context.Background())
		case <-quit:
			m.logger.Info("federation health monitor stopped")
			return
		}
	}
}

// SweepOnce probes every active peer and persists the results.
func (m *Monitor) SweepOnce(ctx context.Context) {
	peers, err := m.store.ListActive(ctx)
	if err != nil {
		m.logger.Error("health sweep: list peers", zap.Error(err))
		return
	}
	for _, peer := range peers {
		status, latency := m.prober.CheckHealth(ctx, peer, m.cfg.ProbeTimeout)
		checkedAt := time.Now().UTC()
		if err := m.store.UpdateHealth(ctx, peer.ID, status, int(latency.Milliseconds()), checkedAt); err != nil {
			m.logger.Error("health sweep: record result",
				zap.String("peer", peer.Name),
				zap.Error(err))
			continue
		}
		if status != peer.HealthStatus {
			m.logger.Info("peer health changed",
				zap.String("peer", peer.Name),
				zap.String("from", string(peer.HealthStatus)),
				zap.String("to", string(status)),
				zap.Int64("latency_ms", latency.Milliseconds()))
		}
	}
}
