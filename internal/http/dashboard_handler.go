package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"owl-thermo/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DeviceStatusLister 设备状态查询
type DeviceStatusLister interface {
	ListStatus(ctx context.Context) ([]models.DeviceStatusView, error)
}

// RecentTelemetryLister 最近遥测查询
type RecentTelemetryLister interface {
	Recent(ctx context.Context, limit int) (map[string][]models.TelemetryReading, error)
}

// TelemetryExportHeader 遥测导出表头
var TelemetryExportHeader = []string{"Device ID", "Timestamp", "Temperature (°C)"}

// DashboardHandler 看板查询接口
type DashboardHandler struct {
	devices   DeviceStatusLister
	telemetry RecentTelemetryLister
	loc       *time.Location
	logger    *zap.Logger
}

func NewDashboardHandler(devices DeviceStatusLister, telemetry RecentTelemetryLister, loc *time.Location, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{devices: devices, telemetry: telemetry, loc: loc, logger: logger}
}

// DeviceStatus GET /api/device_status
func (h *DashboardHandler) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListStatus(r.Context())
	if err != nil {
		h.logger.Error("Failed to list device status", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "database error"})
		return
	}

	out := make([]models.DeviceStatusView, 0, len(devices))
	for _, d := range devices {
		if d.LastSeen != nil {
			ts := d.LastSeen.In(h.loc)
			d.LastSeen = &ts
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

// TelemetryRecent GET /api/telemetry_recent
func (h *DashboardHandler) TelemetryRecent(w http.ResponseWriter, r *http.Request) {
	series, err := h.recentSeries(r.Context())
	if err != nil {
		h.logger.Error("Failed to query recent telemetry", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "database error"})
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// ExportTelemetry GET /api/telemetry_recent/export
func (h *DashboardHandler) ExportTelemetry(w http.ResponseWriter, r *http.Request) {
	recent, err := h.telemetry.Recent(r.Context(), models.RecentLimit)
	if err != nil {
		h.logger.Error("Failed to query recent telemetry", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "database error"})
		return
	}

	data, err := GenerateTelemetryExport(recent, h.loc)
	if err != nil {
		h.logger.Error("Failed to generate telemetry export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "export failed"})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=telemetry-recent.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// recentSeries 丢弃空温度，没有任何温度的设备不返回
func (h *DashboardHandler) recentSeries(ctx context.Context) (map[string]models.RecentSeries, error) {
	recent, err := h.telemetry.Recent(ctx, models.RecentLimit)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.RecentSeries, len(recent))
	for deviceID, readings := range recent {
		var s models.RecentSeries
		for _, t := range readings {
			if t.TempC == nil {
				continue
			}
			ts := t.Timestamp.In(h.loc)
			s.Temps = append(s.Temps, *t.TempC)
			s.Timestamps = append(s.Timestamps, ts.Format("15:04:05"))
			s.FullTimestamps = append(s.FullTimestamps, ts.Format(time.RFC3339Nano))
		}
		if len(s.Temps) > 0 {
			out[deviceID] = s
		}
	}
	return out, nil
}

// GenerateTelemetryExport 生成最近遥测的 Excel 文件（每行一条非空温度）
func GenerateTelemetryExport(recent map[string][]models.TelemetryReading, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Telemetry"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", &TelemetryExportHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "C1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for col, width := range map[string]float64{"A": 20, "B": 28, "C": 18} {
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	deviceIDs := make([]string, 0, len(recent))
	for id := range recent {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Strings(deviceIDs)

	row := 2
	for _, id := range deviceIDs {
		for _, t := range recent[id] {
			if t.TempC == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			values := []any{id, t.Timestamp.In(loc).Format("2006-01-02 15:04:05"), *t.TempC}
			if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
			row++
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	return buf.Bytes(), nil
}
