package httpapi

import (
	"errors"
	"net/http"
	"time"

	"owl-thermo/internal/ingest"
	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// TelemetryHandler 设备遥测上报
type TelemetryHandler struct {
	service *ingest.Service
	loc     *time.Location
	logger  *zap.Logger
}

func NewTelemetryHandler(service *ingest.Service, loc *time.Location, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{service: service, loc: loc, logger: logger}
}

// Submit POST /api/telemetry
// 鉴权在读取请求体之前完成，校验在写库之前完成
func (h *TelemetryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Authenticate(r.Header.Get("X-API-Key")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
		return
	}

	body, err := readBody(r, maxBodyBytes)
	if err != nil {
		h.service.RejectInvalid()
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid data format"})
		return
	}

	payload, err := ingest.Decode(body)
	if err != nil {
		h.service.RejectInvalid()
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			resp := map[string]any{"ok": false, "error": ve.Message}
			if ve.Message == "missing fields" {
				resp["fields"] = ve.Fields
			}
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid data format"})
		return
	}

	receipt, err := h.service.Submit(r.Context(), payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"timestamp": receipt.Timestamp.In(h.loc).Format(time.RFC3339Nano),
		"record_id": receipt.RecordID,
	})
}
