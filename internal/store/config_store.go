package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// ConfigStore 设备配置存储（JSON 存放在 KV 中，key = prefix + device_id）
type ConfigStore struct {
	kv     KV
	prefix string
	logger *zap.Logger
}

// NewConfigStore 创建设备配置存储
func NewConfigStore(kv KV, prefix string, logger *zap.Logger) *ConfigStore {
	return &ConfigStore{
		kv:     kv,
		prefix: prefix,
		logger: logger,
	}
}

func (s *ConfigStore) key(deviceID string) string {
	return s.prefix + deviceID
}

// Get 获取设备配置，未配置时返回默认值
func (s *ConfigStore) Get(ctx context.Context, deviceID string) (models.DeviceConfig, error) {
	raw, err := s.kv.Get(ctx, s.key(deviceID))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return models.DefaultDeviceConfig(deviceID), nil
		}
		return models.DefaultDeviceConfig(deviceID), fmt.Errorf("%w: failed to get device config: %v", models.ErrStorage, err)
	}
	return s.decode(deviceID, raw)
}

// GetAll 获取全部已保存的设备配置
func (s *ConfigStore) GetAll(ctx context.Context) (map[string]models.DeviceConfig, error) {
	keys, err := s.kv.ScanKeys(ctx, s.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan device configs: %v", models.ErrStorage, err)
	}

	out := make(map[string]models.DeviceConfig, len(keys))
	for _, k := range keys {
		deviceID := strings.TrimPrefix(k, s.prefix)
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			if errors.Is(err, ErrMiss) {
				continue
			}
			return nil, fmt.Errorf("%w: failed to get device config: %v", models.ErrStorage, err)
		}
		cfg, err := s.decode(deviceID, raw)
		if err != nil {
			s.logger.Warn("Skipping invalid device config",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			continue
		}
		out[deviceID] = cfg
	}
	return out, nil
}

// Save 校验并保存设备配置（覆盖写）
func (s *ConfigStore) Save(ctx context.Context, cfg models.DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal device config: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(cfg.DeviceID), string(data), 0); err != nil {
		return fmt.Errorf("%w: failed to save device config: %v", models.ErrStorage, err)
	}

	s.logger.Info("Device config saved",
		zap.String("device_id", cfg.DeviceID),
		zap.String("alias", cfg.Alias),
		zap.Float64("threshold", cfg.Threshold),
		zap.Int("duration", cfg.Duration),
	)
	return nil
}

func (s *ConfigStore) decode(deviceID, raw string) (models.DeviceConfig, error) {
	cfg := models.DefaultDeviceConfig(deviceID)
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return models.DefaultDeviceConfig(deviceID), fmt.Errorf("failed to unmarshal device config: %w", err)
	}
	cfg.DeviceID = deviceID
	return cfg, nil
}
