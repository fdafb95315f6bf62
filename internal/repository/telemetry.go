package repository

import (
	"context"
	"database/sql"
	"fmt"

	"owl-thermo/common/database"
	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// TelemetryRepository 遥测数据仓库
type TelemetryRepository struct {
	pool   *database.ConnectionPool
	logger *zap.Logger
}

// NewTelemetryRepository 创建遥测数据仓库
func NewTelemetryRepository(pool *database.ConnectionPool, logger *zap.Logger) *TelemetryRepository {
	return &TelemetryRepository{
		pool:   pool,
		logger: logger,
	}
}

// Append 在一个事务内追加一条遥测记录，并同步设备元数据（ip/固件/运行时间）
// 首次出现的设备以 offline 写入，在线状态和 last_seen 只由在线检测维护
func (r *TelemetryRepository) Append(ctx context.Context, reading *models.TelemetryReading) (int64, error) {
	var id int64
	err := r.pool.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO telemetry (device_id, fw_version, ip, uptime_sec, temp_c, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`,
			reading.DeviceID,
			reading.FwVersion,
			reading.IP,
			reading.UptimeSec,
			reading.TempC,
			reading.Timestamp,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to insert telemetry: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_status (device_id, ip, fw_version, uptime_sec, status)
			VALUES ($1, $2, $3, $4, 'offline')
			ON CONFLICT (device_id)
			DO UPDATE SET ip = EXCLUDED.ip,
			              fw_version = EXCLUDED.fw_version,
			              uptime_sec = EXCLUDED.uptime_sec
		`,
			reading.DeviceID,
			reading.IP,
			reading.FwVersion,
			reading.UptimeSec,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert device status: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Recent 查询每个设备最近 limit 条遥测（按时间升序）
func (r *TelemetryRepository) Recent(ctx context.Context, limit int) (map[string][]models.TelemetryReading, error) {
	if limit <= 0 {
		limit = models.RecentLimit
	}

	result := make(map[string][]models.TelemetryReading)
	err := r.pool.WithConn(ctx, func(conn database.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, device_id, temp_c, timestamp
			FROM (
				SELECT id, device_id, temp_c, timestamp,
				       ROW_NUMBER() OVER (PARTITION BY device_id ORDER BY timestamp DESC) AS rn
				FROM telemetry
			) recent
			WHERE rn <= $1
			ORDER BY device_id, timestamp ASC
		`, limit)
		if err != nil {
			return fmt.Errorf("failed to query recent telemetry: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t    models.TelemetryReading
				temp sql.NullFloat64
			)
			if err := rows.Scan(&t.ID, &t.DeviceID, &temp, &t.Timestamp); err != nil {
				return fmt.Errorf("failed to scan telemetry: %w", err)
			}
			if temp.Valid {
				v := temp.Float64
				t.TempC = &v
			}
			result[t.DeviceID] = append(result[t.DeviceID], t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LatestTemps 查询每个设备最近一次非空温度
func (r *TelemetryRepository) LatestTemps(ctx context.Context) ([]models.LatestTemp, error) {
	var out []models.LatestTemp
	err := r.pool.WithConn(ctx, func(conn database.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT DISTINCT ON (device_id) device_id, temp_c, timestamp
			FROM telemetry
			WHERE temp_c IS NOT NULL
			ORDER BY device_id, timestamp DESC
		`)
		if err != nil {
			return fmt.Errorf("failed to query latest temperatures: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var lt models.LatestTemp
			if err := rows.Scan(&lt.DeviceID, &lt.TempC, &lt.Timestamp); err != nil {
				return fmt.Errorf("failed to scan latest temperature: %w", err)
			}
			out = append(out, lt)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
