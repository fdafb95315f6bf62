package httpapi

import (
	"context"
	"errors"
	"net/http"

	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// DeviceConfigStore 设备配置存储（由 store.ConfigStore 实现）
type DeviceConfigStore interface {
	GetAll(ctx context.Context) (map[string]models.DeviceConfig, error)
	Save(ctx context.Context, cfg models.DeviceConfig) error
}

// AlertInvalidator 配置变更后清除报警状态（由 alert.Engine 实现）
type AlertInvalidator interface {
	Invalidate(ctx context.Context, deviceID string) error
}

// ConfigHandler 设备配置接口
type ConfigHandler struct {
	store       DeviceConfigStore
	invalidator AlertInvalidator
	logger      *zap.Logger
}

func NewConfigHandler(store DeviceConfigStore, invalidator AlertInvalidator, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{store: store, invalidator: invalidator, logger: logger}
}

// List GET /api/device_config
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.GetAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to load device configs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load device configs"))
		return
	}
	out := make(map[string]models.DeviceConfig, len(configs))
	for id, c := range configs {
		c.DeviceID = ""
		out[id] = c
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

// Save POST /api/device_config
// 每次保存都会清除该设备的报警状态（即使取值未变）
func (h *ConfigHandler) Save(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DeviceID  string   `json:"device_id"`
		Alias     string   `json:"alias"`
		Threshold *float64 `json:"threshold"`
		Duration  *int     `json:"duration"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	cfg := models.DefaultDeviceConfig(payload.DeviceID)
	cfg.Alias = payload.Alias
	if payload.Threshold != nil {
		cfg.Threshold = *payload.Threshold
	}
	if payload.Duration != nil {
		cfg.Duration = *payload.Duration
	}

	if err := h.store.Save(r.Context(), cfg); err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, Fail(ve.Message))
			return
		}
		h.logger.Error("Failed to save device config", zap.String("device_id", cfg.DeviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to save device config"))
		return
	}

	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(r.Context(), cfg.DeviceID); err != nil {
			h.logger.Warn("Failed to invalidate alert state", zap.String("device_id", cfg.DeviceID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, Ok(cfg))
}
