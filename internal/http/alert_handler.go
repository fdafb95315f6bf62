package httpapi

import (
	"context"
	"net/http"

	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// Notifier 报警通知（由 notifier.DingTalk 实现）
type Notifier interface {
	Send(ctx context.Context, alerts []models.AlertDescriptor) bool
}

// AlertHandler 报警接口
type AlertHandler struct {
	notifier Notifier
	ws       http.HandlerFunc
	logger   *zap.Logger
}

// NewAlertHandler ws 为空时不注册 websocket 路由
func NewAlertHandler(notifier Notifier, ws http.HandlerFunc, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{notifier: notifier, ws: ws, logger: logger}
}

// Notify POST /api/alerts/notify
// 请求体为报警描述数组，返回 {"ok": bool}
func (h *AlertHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var alerts []models.AlertDescriptor
	if err := readBodyJSON(r, maxBodyBytes, &alerts); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid body"})
		return
	}
	if len(alerts) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "no alerts"})
		return
	}

	ok := h.notifier.Send(r.Context(), alerts)
	if !ok {
		h.logger.Warn("Manual alert notification failed", zap.Int("count", len(alerts)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}
