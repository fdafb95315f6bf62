package models

import "time"

// 温度合法范围（°C）
const (
	MinTempC = -50.0
	MaxTempC = 100.0

	// RecentLimit 每个设备最近遥测的查询条数
	RecentLimit = 50
)

// TelemetryReading 遥测记录（对应 telemetry 表，只追加不修改）
type TelemetryReading struct {
	ID        int64     `json:"id" db:"id"`
	DeviceID  string    `json:"device_id" db:"device_id"`
	TempC     *float64  `json:"temp_c" db:"temp_c"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	FwVersion string    `json:"fw_version" db:"fw_version"`
	IP        string    `json:"ip" db:"ip"`
	UptimeSec int64     `json:"uptime_sec" db:"uptime_sec"`
}

// RecentSeries 单个设备最近遥测（按时间升序的平行数组）
type RecentSeries struct {
	Temps          []float64 `json:"temps"`
	Timestamps     []string  `json:"timestamps"`
	FullTimestamps []string  `json:"full_timestamps"`
}

// LatestTemp 设备最近一次有效温度（报警评估使用）
type LatestTemp struct {
	DeviceID  string
	TempC     float64
	Timestamp time.Time
}
