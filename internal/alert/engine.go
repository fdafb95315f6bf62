package alert

import (
	"context"
	"sync"
	"time"

	"owl-thermo/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sinkTimeout 单个下游发布的超时
const sinkTimeout = 10 * time.Second

// ConfigSource 设备配置来源（由 store.ConfigStore 实现）
type ConfigSource interface {
	GetAll(ctx context.Context) (map[string]models.DeviceConfig, error)
}

// ReadingSource 最新温度快照（由 Snapshot 实现）
type ReadingSource interface {
	Readings() []models.LatestTemp
}

// Engine 温度报警状态机
//
// 每个设备：Normal（无状态）→ Pending（超过阈值开始计时）→ Alerting（持续达到 duration，发出一次报警）；
// 最新温度 <= 阈值时立即删除状态回到 Normal。
// 状态只由评估 goroutine 读写，配置变更通过 Invalidate 排队清除。
type Engine struct {
	readings ReadingSource
	configs  ConfigSource
	states   StateStore
	sinks    []Sink
	interval time.Duration
	logger   *zap.Logger

	now   func() time.Time
	newID func() string

	invalidate chan string
	active     map[string]models.AlertState
	loaded     bool

	inflight sync.WaitGroup
}

// NewEngine 创建报警引擎
func NewEngine(readings ReadingSource, configs ConfigSource, states StateStore, interval time.Duration, logger *zap.Logger, sinks ...Sink) *Engine {
	return &Engine{
		readings:   readings,
		configs:    configs,
		states:     states,
		sinks:      sinks,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		invalidate: make(chan string, 64),
		active:     make(map[string]models.AlertState),
	}
}

// Invalidate 设备配置保存后调用，下一次评估前删除该设备的报警状态
func (e *Engine) Invalidate(ctx context.Context, deviceID string) error {
	select {
	case e.invalidate <- deviceID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 评估循环，直到 ctx 取消
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Alert engine started",
		zap.Duration("eval_interval", e.interval),
		zap.Int("sinks", len(e.sinks)),
	)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Alert engine stopped")
			return
		case id := <-e.invalidate:
			e.clear(ctx, id)
		case <-ticker.C:
			e.safeTick(ctx)
		}
	}
}

// Wait 等待已发出的下游发布完成
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// State 查询设备当前状态（仅在评估 goroutine 或测试中调用）
func (e *Engine) State(deviceID string) (models.AlertState, bool) {
	st, ok := e.active[deviceID]
	return st, ok
}

func (e *Engine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Alert tick panicked", zap.Any("panic", r))
		}
	}()
	e.Tick(ctx)
}

// Tick 执行一次评估，返回本次触发的报警事件（同一 tick 内合并为一批）
func (e *Engine) Tick(ctx context.Context) []models.AlertEvent {
	e.ensureLoaded(ctx)
	e.drainInvalidations(ctx)

	configs, err := e.configs.GetAll(ctx)
	if err != nil {
		e.logger.Warn("Failed to load device configs, using defaults", zap.Error(err))
		configs = nil
	}

	now := e.now()
	var batch []models.AlertEvent
	for _, r := range e.readings.Readings() {
		cfg, ok := configs[r.DeviceID]
		if !ok {
			cfg = models.DefaultDeviceConfig(r.DeviceID)
		}
		if ev, fired := e.evaluate(ctx, now, r, cfg); fired {
			batch = append(batch, ev)
		}
	}

	if len(batch) > 0 {
		e.logger.Info("Alerts triggered", zap.Int("count", len(batch)))
		e.publish(ctx, batch)
	}
	return batch
}

// evaluate 按优先级应用状态转换规则
func (e *Engine) evaluate(ctx context.Context, now time.Time, r models.LatestTemp, cfg models.DeviceConfig) (models.AlertEvent, bool) {
	st, exists := e.active[r.DeviceID]

	if r.TempC <= cfg.Threshold {
		if exists {
			e.logger.Info("Device temperature recovered",
				zap.String("device_id", r.DeviceID),
				zap.Float64("temp_c", r.TempC),
				zap.Float64("threshold", cfg.Threshold),
				zap.Bool("was_alerting", st.Alerted),
			)
			e.clear(ctx, r.DeviceID)
		}
		return models.AlertEvent{}, false
	}

	if !exists {
		st = models.AlertState{
			StartTime: now,
			Threshold: cfg.Threshold,
			Duration:  cfg.Duration,
		}
		e.put(ctx, r.DeviceID, st)
		e.logger.Info("Device temperature above threshold",
			zap.String("device_id", r.DeviceID),
			zap.Float64("temp_c", r.TempC),
			zap.Float64("threshold", cfg.Threshold),
		)
		return models.AlertEvent{}, false
	}

	if st.Alerted || now.Sub(st.StartTime) < time.Duration(cfg.Duration)*time.Second {
		return models.AlertEvent{}, false
	}

	st.Alerted = true
	e.put(ctx, r.DeviceID, st)
	return models.AlertEvent{
		EventID:     e.newID(),
		TriggeredAt: now,
		AlertDescriptor: models.AlertDescriptor{
			DeviceID:    r.DeviceID,
			Alias:       cfg.Alias,
			Temperature: r.TempC,
			Threshold:   cfg.Threshold,
			Duration:    cfg.Duration,
		},
	}, true
}

func (e *Engine) ensureLoaded(ctx context.Context) {
	if e.loaded {
		return
	}
	states, err := e.states.Load(ctx)
	if err != nil {
		e.logger.Error("Failed to load alert states", zap.Error(err))
		return
	}
	for id, st := range states {
		if _, ok := e.active[id]; !ok {
			e.active[id] = st
		}
	}
	e.loaded = true
	if len(states) > 0 {
		e.logger.Info("Alert states restored", zap.Int("count", len(states)))
	}
}

func (e *Engine) drainInvalidations(ctx context.Context) {
	for {
		select {
		case id := <-e.invalidate:
			e.clear(ctx, id)
		default:
			return
		}
	}
}

func (e *Engine) put(ctx context.Context, deviceID string, st models.AlertState) {
	e.active[deviceID] = st
	if err := e.states.Save(ctx, deviceID, st); err != nil {
		e.logger.Warn("Failed to persist alert state", zap.String("device_id", deviceID), zap.Error(err))
	}
}

func (e *Engine) clear(ctx context.Context, deviceID string) {
	delete(e.active, deviceID)
	if err := e.states.Delete(ctx, deviceID); err != nil {
		e.logger.Warn("Failed to delete alert state", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// publish 每个下游独立 goroutine 发布，不阻塞评估
func (e *Engine) publish(ctx context.Context, batch []models.AlertEvent) {
	base := context.WithoutCancel(ctx)
	for _, s := range e.sinks {
		e.inflight.Add(1)
		go func(s Sink) {
			defer e.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Alert sink panicked", zap.String("sink", s.Name()), zap.Any("panic", r))
				}
			}()

			sctx, cancel := context.WithTimeout(base, sinkTimeout)
			defer cancel()
			if err := s.Publish(sctx, batch); err != nil {
				e.logger.Error("Failed to publish alerts",
					zap.String("sink", s.Name()),
					zap.Int("count", len(batch)),
					zap.Error(err),
				)
			}
		}(s)
	}
}
