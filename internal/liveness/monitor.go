package liveness

import (
	"context"
	"time"

	"owl-thermo/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DeviceStore 在线检测使用的设备存储（由 repository.DeviceRepository 实现）
type DeviceStore interface {
	ListProbeTargets(ctx context.Context) ([]models.DeviceRecord, error)
	ApplyProbeResults(ctx context.Context, results []models.ProbeResult) error
}

// SweepSummary 一轮扫描的统计
type SweepSummary struct {
	Devices int
	Online  int
	Offline int
	Changed int
}

// Monitor 设备在线检测
type Monitor struct {
	store       DeviceStore
	pinger      Pinger
	interval    time.Duration
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewMonitor 创建在线检测
func NewMonitor(store DeviceStore, pinger Pinger, interval time.Duration, concurrency int, logger *zap.Logger) *Monitor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Monitor{
		store:       store,
		pinger:      pinger,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Start 串行循环：扫描一轮，然后完整休眠一个间隔，扫描之间不会重叠
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("Liveness monitor started",
		zap.Duration("interval", m.interval),
		zap.Int("concurrency", m.concurrency),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Liveness monitor stopped")
			return
		case <-timer.C:
			if _, err := m.Sweep(ctx); err != nil {
				// 下一轮重试
				m.logger.Error("Liveness sweep failed", zap.Error(err))
			}
			timer.Reset(m.interval)
		}
	}
}

// Sweep 探测所有有 IP 的设备并在一个事务内写回结果
func (m *Monitor) Sweep(ctx context.Context) (SweepSummary, error) {
	devices, err := m.store.ListProbeTargets(ctx)
	if err != nil {
		return SweepSummary{}, err
	}

	results := make([]models.ProbeResult, len(devices))
	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)
	for i, d := range devices {
		g.Go(func() error {
			results[i] = m.probe(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	summary := SweepSummary{Devices: len(results)}
	for _, r := range results {
		if r.Online {
			summary.Online++
		} else {
			summary.Offline++
		}
		status := models.StatusOffline
		if r.Online {
			status = models.StatusOnline
		}
		if status != r.PreviousStatus {
			summary.Changed++
			m.logger.Info("Device status changed",
				zap.String("device_id", r.DeviceID),
				zap.String("ip", r.IP),
				zap.String("from", r.PreviousStatus),
				zap.String("to", status),
			)
		}
	}

	if err := m.store.ApplyProbeResults(ctx, results); err != nil {
		return summary, err
	}

	m.logger.Info("Liveness sweep completed",
		zap.Int("devices", summary.Devices),
		zap.Int("online", summary.Online),
		zap.Int("offline", summary.Offline),
		zap.Int("changed", summary.Changed),
	)
	return summary, nil
}

// probe 探测错误只影响该设备的状态
func (m *Monitor) probe(ctx context.Context, d models.DeviceRecord) models.ProbeResult {
	err := m.pinger.Ping(ctx, d.IP)
	if err != nil {
		m.logger.Debug("Device probe failed",
			zap.String("device_id", d.DeviceID),
			zap.String("ip", d.IP),
			zap.Error(err),
		)
	}
	return models.ProbeResult{
		DeviceID:       d.DeviceID,
		IP:             d.IP,
		Online:         err == nil,
		PreviousStatus: d.Status,
		CompletedAt:    m.now(),
	}
}
