package httpapi

import (
	"context"
	"net/http"
	"time"

	"owl-thermo/common/database"
	"owl-thermo/internal/ingest"
)

// PoolInspector 连接池状态（由 database.ConnectionPool 实现）
type PoolInspector interface {
	Stats() database.PoolStats
	HealthCheck(ctx context.Context) database.HealthStatus
}

// StatusHandler 健康检查与数据库状态
type StatusHandler struct {
	pool     PoolInspector
	counters func() ingest.Counters
	loc      *time.Location
	now      func() time.Time
}

func NewStatusHandler(pool PoolInspector, counters func() ingest.Counters, loc *time.Location) *StatusHandler {
	return &StatusHandler{pool: pool, counters: counters, loc: loc, now: time.Now}
}

// Health GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   h.now().In(h.loc).Format(time.RFC3339),
		"database": map[string]any{
			"connection_pool": h.pool.HealthCheck(r.Context()),
			"stats":           h.pool.Stats(),
		},
	})
}

// DatabaseStatus GET /api/database/status
func (h *StatusHandler) DatabaseStatus(w http.ResponseWriter, r *http.Request) {
	var counters ingest.Counters
	if h.counters != nil {
		counters = h.counters()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": h.now().In(h.loc).Format(time.RFC3339),
		"connection_pool": map[string]any{
			"health":     h.pool.HealthCheck(r.Context()),
			"statistics": h.pool.Stats(),
		},
		"ingestion": counters,
	})
}
