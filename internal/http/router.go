package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
	r.Handle("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "not found"})
	})
	return r
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterTelemetryRoutes 设备上报
func (r *Router) RegisterTelemetryRoutes(h *TelemetryHandler) {
	r.Handle("/api/telemetry", methodOnly(http.MethodPost, h.Submit))
}

// RegisterDashboardRoutes 看板查询
func (r *Router) RegisterDashboardRoutes(h *DashboardHandler) {
	r.Handle("/api/device_status", methodOnly(http.MethodGet, h.DeviceStatus))
	r.Handle("/api/telemetry_recent", methodOnly(http.MethodGet, h.TelemetryRecent))
	r.Handle("/api/telemetry_recent/export", methodOnly(http.MethodGet, h.ExportTelemetry))
}

// RegisterConfigRoutes 设备配置
func (r *Router) RegisterConfigRoutes(h *ConfigHandler) {
	r.Handle("/api/device_config", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			h.List(w, req)
		case http.MethodPost:
			h.Save(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// RegisterAlertRoutes 报警通知和实时推送
func (r *Router) RegisterAlertRoutes(h *AlertHandler) {
	r.Handle("/api/alerts/notify", methodOnly(http.MethodPost, h.Notify))
	if h.ws != nil {
		r.Handle("/api/alerts/ws", methodOnly(http.MethodGet, h.ws))
	}
}

// RegisterStatusRoutes 健康检查和数据库状态
func (r *Router) RegisterStatusRoutes(h *StatusHandler) {
	r.Handle("/health", methodOnly(http.MethodGet, h.Health))
	r.Handle("/api/database/status", methodOnly(http.MethodGet, h.DatabaseStatus))
}
