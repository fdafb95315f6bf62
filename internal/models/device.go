package models

import "time"

// 设备在线状态
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DeviceRecord 设备状态（对应 device_status 表）
// 由遥测写入和在线检测共同 upsert，从不删除
type DeviceRecord struct {
	DeviceID  string     `json:"device_id" db:"device_id"`
	IP        string     `json:"ip" db:"ip"`
	FwVersion string     `json:"fw_version" db:"fw_version"`
	UptimeSec int64      `json:"uptime_sec" db:"uptime_sec"`
	Status    string     `json:"status" db:"status"`
	LastSeen  *time.Time `json:"last_seen" db:"last_seen"`
}

// DeviceStatusView 设备状态查询结果（附带最近一次温度）
type DeviceStatusView struct {
	DeviceRecord
	TempC *float64 `json:"temp_c"`
}

// ProbeResult 单个设备的一次探测结果
type ProbeResult struct {
	DeviceID       string
	IP             string
	Online         bool
	PreviousStatus string
	CompletedAt    time.Time
}
