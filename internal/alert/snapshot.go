package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// LatestSource 最新温度来源（由 repository.TelemetryRepository 实现）
type LatestSource interface {
	LatestTemps(ctx context.Context) ([]models.LatestTemp, error)
}

// Snapshot 每个设备最近一次非空温度的快照，由刷新循环定期整体替换
type Snapshot struct {
	source   LatestSource
	interval time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	readings    []models.LatestTemp
	refreshedAt time.Time
}

// NewSnapshot 创建快照
func NewSnapshot(source LatestSource, interval time.Duration, logger *zap.Logger) *Snapshot {
	return &Snapshot{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Refresh 重新加载快照，失败时保留旧数据
func (s *Snapshot) Refresh(ctx context.Context) error {
	readings, err := s.source.LatestTemps(ctx)
	if err != nil {
		return err
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].DeviceID < readings[j].DeviceID })

	s.mu.Lock()
	s.readings = readings
	s.refreshedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Readings 返回当前快照的副本
func (s *Snapshot) Readings() []models.LatestTemp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LatestTemp, len(s.readings))
	copy(out, s.readings)
	return out
}

// RefreshedAt 最近一次成功刷新的时间
func (s *Snapshot) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}

// Start 立即刷新一次，之后按间隔刷新直到 ctx 取消
func (s *Snapshot) Start(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("Failed to refresh latest readings", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("Failed to refresh latest readings", zap.Error(err))
				continue
			}
			s.logger.Debug("Latest readings refreshed", zap.Int("devices", len(s.Readings())))
		}
	}
}
