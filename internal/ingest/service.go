package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"owl-thermo/internal/models"

	"go.uber.org/zap"
)

// 上报 JSON 的必需字段（按此顺序报告缺失）
var requiredFields = []string{"deviceId", "fwVersion", "ip", "uptimeSec", "tempC"}

// TelemetryAppender 遥测写入（由 repository.TelemetryRepository 实现）
type TelemetryAppender interface {
	Append(ctx context.Context, reading *models.TelemetryReading) (int64, error)
}

// Payload 设备上报的遥测数据
type Payload struct {
	DeviceID  string   `json:"deviceId"`
	FwVersion string   `json:"fwVersion"`
	IP        string   `json:"ip"`
	UptimeSec int64    `json:"uptimeSec"`
	TempC     *float64 `json:"tempC"`
}

// Receipt 写入成功的回执
type Receipt struct {
	RecordID  int64
	Timestamp time.Time
}

// Counters 写入结果计数（仅用于诊断）
type Counters struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// Service 遥测写入服务
type Service struct {
	apiKey string
	repo   TelemetryAppender
	logger *zap.Logger
	now    func() time.Time

	success atomic.Int64
	failure atomic.Int64
}

// NewService 创建遥测写入服务
func NewService(apiKey string, repo TelemetryAppender, logger *zap.Logger) *Service {
	return &Service{
		apiKey: apiKey,
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Authenticate 校验共享密钥（必须完全一致）
func (s *Service) Authenticate(key string) error {
	if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
		s.failure.Add(1)
		return models.ErrUnauthorized
	}
	return nil
}

// Decode 解析并校验上报数据，失败时返回 *models.ValidationError
func Decode(body []byte) (*Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, models.NewValidationError("invalid data format")
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := raw[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, models.NewValidationError("missing fields", missing...)
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, models.NewValidationError("invalid data format")
	}
	if strings.TrimSpace(p.DeviceID) == "" {
		return nil, models.NewValidationError("invalid data format", "deviceId")
	}
	if p.TempC != nil && (*p.TempC < models.MinTempC || *p.TempC > models.MaxTempC) {
		return nil, models.NewValidationError("invalid temperature", "tempC")
	}
	return &p, nil
}

// Submit 写入一条遥测，返回记录 ID 和服务端时间
func (s *Service) Submit(ctx context.Context, p *Payload) (*Receipt, error) {
	ts := s.now()
	reading := &models.TelemetryReading{
		DeviceID:  p.DeviceID,
		TempC:     p.TempC,
		Timestamp: ts,
		FwVersion: p.FwVersion,
		IP:        p.IP,
		UptimeSec: p.UptimeSec,
	}

	id, err := s.repo.Append(ctx, reading)
	if err != nil {
		s.failure.Add(1)
		s.logger.Error("Failed to store telemetry",
			zap.String("device_id", p.DeviceID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to store telemetry: %w", err)
	}

	s.success.Add(1)
	s.logger.Debug("Telemetry stored",
		zap.String("device_id", p.DeviceID),
		zap.Int64("record_id", id),
	)
	return &Receipt{RecordID: id, Timestamp: ts}, nil
}

// Ingest 解析并写入，供不经过 HTTP 鉴权的通道（MQTT）使用
func (s *Service) Ingest(ctx context.Context, body []byte) (*Receipt, error) {
	p, err := Decode(body)
	if err != nil {
		s.failure.Add(1)
		return nil, err
	}
	return s.Submit(ctx, p)
}

// RejectInvalid 记录一次校验失败
func (s *Service) RejectInvalid() {
	s.failure.Add(1)
}

// Counters 当前计数
func (s *Service) Counters() Counters {
	return Counters{
		Success: s.success.Load(),
		Failure: s.failure.Load(),
	}
}
