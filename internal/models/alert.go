package models

import "time"

// AlertState 设备报警状态（仅在最新温度高于阈值期间存在）
type AlertState struct {
	StartTime time.Time `json:"start_time"`
	Alerted   bool      `json:"alerted"`
	Threshold float64   `json:"threshold"`
	Duration  int       `json:"duration"`
}

// AlertDescriptor 一条待通知的报警描述
type AlertDescriptor struct {
	DeviceID    string  `json:"device_id"`
	Alias       string  `json:"alias"`
	Temperature float64 `json:"temperature"`
	Threshold   float64 `json:"threshold"`
	Duration    int     `json:"duration"`
}

// DisplayName 优先使用别名
func (d AlertDescriptor) DisplayName() string {
	if d.Alias != "" {
		return d.Alias + "(" + d.DeviceID + ")"
	}
	return d.DeviceID
}

// AlertEvent 一次 Pending→Alerting 转换产生的报警事件
type AlertEvent struct {
	EventID     string    `json:"event_id"`
	TriggeredAt time.Time `json:"triggered_at"`
	AlertDescriptor
}
