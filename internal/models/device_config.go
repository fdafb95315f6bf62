package models

// DeviceConfig 默认值与合法范围
const (
	DefaultThreshold = 50.0
	DefaultDuration  = 10

	MinThreshold = 0.0
	MaxThreshold = 150.0
	MinDuration  = 1
	MaxDuration  = 300
)

// DeviceConfig 设备配置（别名 + 报警阈值/持续时长）
type DeviceConfig struct {
	DeviceID  string  `json:"device_id,omitempty"`
	Alias     string  `json:"alias"`
	Threshold float64 `json:"threshold"`
	Duration  int     `json:"duration"` // 秒
}

// DefaultDeviceConfig 返回未配置设备的默认配置
func DefaultDeviceConfig(deviceID string) DeviceConfig {
	return DeviceConfig{
		DeviceID:  deviceID,
		Alias:     "",
		Threshold: DefaultThreshold,
		Duration:  DefaultDuration,
	}
}

// Validate 写入边界的范围校验
func (c DeviceConfig) Validate() error {
	if c.DeviceID == "" {
		return NewValidationError("device_id is required", "device_id")
	}
	if c.Threshold < MinThreshold || c.Threshold > MaxThreshold {
		return NewValidationError("threshold must be between 0 and 150", "threshold")
	}
	if c.Duration < MinDuration || c.Duration > MaxDuration {
		return NewValidationError("duration must be between 1 and 300", "duration")
	}
	return nil
}
