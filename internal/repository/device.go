package repository

import (
	"context"
	"database/sql"
	"fmt"

	"owl-thermo/common/database"
	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 设备状态仓库
type DeviceRepository struct {
	pool   *database.ConnectionPool
	logger *zap.Logger
}

// NewDeviceRepository 创建设备状态仓库
func NewDeviceRepository(pool *database.ConnectionPool, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		pool:   pool,
		logger: logger,
	}
}

// ListProbeTargets 获取所有有 IP 的设备（在线检测对象）
func (r *DeviceRepository) ListProbeTargets(ctx context.Context) ([]models.DeviceRecord, error) {
	var devices []models.DeviceRecord
	err := r.pool.WithConn(ctx, func(conn database.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT device_id, ip, status
			FROM device_status
			WHERE ip IS NOT NULL AND ip <> ''
			ORDER BY device_id
		`)
		if err != nil {
			return fmt.Errorf("failed to query devices: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var d models.DeviceRecord
			if err := rows.Scan(&d.DeviceID, &d.IP, &d.Status); err != nil {
				return fmt.Errorf("failed to scan device: %w", err)
			}
			devices = append(devices, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ApplyProbeResults 在一个事务内写回一轮探测结果
// 在线：status=online，刷新 last_seen；离线：仅 status=offline，last_seen 保持不变
// 只在设备 ip 仍是被探测的地址时写入，扫描期间 ip 被上报改掉的设备留给下一轮
func (r *DeviceRepository) ApplyProbeResults(ctx context.Context, results []models.ProbeResult) error {
	if len(results) == 0 {
		return nil
	}
	return r.pool.WithTx(ctx, func(tx *sql.Tx) error {
		for _, res := range results {
			var (
				result sql.Result
				err    error
			)
			if res.Online {
				result, err = tx.ExecContext(ctx, `
					UPDATE device_status
					SET status = 'online', last_seen = $1
					WHERE device_id = $2 AND ip = $3
				`, res.CompletedAt, res.DeviceID, res.IP)
			} else {
				result, err = tx.ExecContext(ctx, `
					UPDATE device_status
					SET status = 'offline'
					WHERE device_id = $1 AND ip = $2
				`, res.DeviceID, res.IP)
			}
			if err != nil {
				return fmt.Errorf("failed to update device %s: %w", res.DeviceID, err)
			}
			if n, err := result.RowsAffected(); err == nil && n == 0 {
				r.logger.Debug("Skipped stale probe result",
					zap.String("device_id", res.DeviceID),
					zap.String("probed_ip", res.IP),
				)
			}
		}
		return nil
	})
}

// ListStatus 查询所有设备状态及最近一次温度
func (r *DeviceRepository) ListStatus(ctx context.Context) ([]models.DeviceStatusView, error) {
	var devices []models.DeviceStatusView
	err := r.pool.WithConn(ctx, func(conn database.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT
				d.device_id,
				COALESCE(d.fw_version, ''),
				COALESCE(d.ip, ''),
				COALESCE(d.uptime_sec, 0),
				d.status,
				d.last_seen,
				t.temp_c
			FROM device_status d
			LEFT JOIN LATERAL (
				SELECT temp_c FROM telemetry
				WHERE telemetry.device_id = d.device_id
				ORDER BY timestamp DESC
				LIMIT 1
			) t ON true
			ORDER BY d.device_id
		`)
		if err != nil {
			return fmt.Errorf("failed to query device status: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				v        models.DeviceStatusView
				lastSeen sql.NullTime
				temp     sql.NullFloat64
			)
			if err := rows.Scan(&v.DeviceID, &v.FwVersion, &v.IP, &v.UptimeSec, &v.Status, &lastSeen, &temp); err != nil {
				return fmt.Errorf("failed to scan device status: %w", err)
			}
			if lastSeen.Valid {
				ts := lastSeen.Time
				v.LastSeen = &ts
			}
			if temp.Valid {
				val := temp.Float64
				v.TempC = &val
			}
			devices = append(devices, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}
