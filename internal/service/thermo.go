package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"owl-thermo/common/database"
	mqttcommon "owl-thermo/common/mqtt"
	rediscommon "owl-thermo/common/redis"
	"owl-thermo/internal/alert"
	"owl-thermo/internal/config"
	httpapi "owl-thermo/internal/http"
	"owl-thermo/internal/ingest"
	"owl-thermo/internal/liveness"
	"owl-thermo/internal/notifier"
	"owl-thermo/internal/realtime"
	"owl-thermo/internal/repository"
	"owl-thermo/internal/store"

	"go.uber.org/zap"
)

// 启动自检重试
const (
	startupRetries    = 3
	startupRetryDelay = 5 * time.Second
)

// ThermoService 温度监控服务（整合各层）
type ThermoService struct {
	config      *config.Config
	logger      *zap.Logger
	pool        *database.ConnectionPool
	redisClient *rediscommon.Client
	mqttClient  *mqttcommon.Client

	telemetryRepo *repository.TelemetryRepository
	deviceRepo    *repository.DeviceRepository
	configStore   *store.ConfigStore
	ingest        *ingest.Service
	consumer      *ingest.MQTTConsumer
	monitor       *liveness.Monitor
	snapshot      *alert.Snapshot
	engine        *alert.Engine
	hub           *realtime.Hub
	dingtalk      *notifier.DingTalk
	server        *Server

	wg sync.WaitGroup
}

// NewThermoService 启动自检并组装服务
func NewThermoService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ThermoService, error) {
	// 1. 配置检查
	if missing := cfg.Check(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	// 2. 连接数据库（带重试）并建表
	var pool *database.ConnectionPool
	err := withRetry(ctx, startupRetries, startupRetryDelay, logger, "database", func() error {
		p, err := database.NewConnectionPool(ctx, &cfg.Database, logger)
		if err != nil {
			return err
		}
		if err := p.WithConn(ctx, func(conn database.Conn) error {
			_, err := conn.ExecContext(ctx, "SELECT 1")
			return err
		}); err != nil {
			_ = p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, pool, logger); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	s := &ThermoService{
		config: cfg,
		logger: logger,
		pool:   pool,
	}

	// 3. Redis（可选）
	if cfg.RedisEnabled {
		client, err := rediscommon.Connect(ctx, &cfg.Redis, logger)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.redisClient = client
	}

	// 4. Repository / Store
	s.telemetryRepo = repository.NewTelemetryRepository(pool, logger)
	s.deviceRepo = repository.NewDeviceRepository(pool, logger)
	s.configStore = store.NewConfigStore(s.newKV(cfg.ConfigStore.Backend), cfg.ConfigStore.KeyPrefix, logger)

	// 5. 写入、在线检测
	s.ingest = ingest.NewService(cfg.APIKey, s.telemetryRepo, logger)
	pinger := liveness.NewSystemPinger(cfg.Liveness.PingTimeout)
	s.monitor = liveness.NewMonitor(s.deviceRepo, pinger, cfg.Liveness.Interval, cfg.Liveness.Concurrency, logger)

	// 6. 报警：快照 + 状态机 + 下游
	s.hub = realtime.NewHub(logger)
	s.dingtalk = notifier.NewDingTalk(notifier.Config{
		Webhook: cfg.DingTalk.Webhook,
		Secret:  cfg.DingTalk.Secret,
		Keyword: cfg.DingTalk.Keyword,
		Timeout: cfg.DingTalk.Timeout,
	}, logger)
	sinks := []alert.Sink{alert.NewNotifierSink(s.dingtalk), s.hub}
	if s.redisClient != nil {
		sinks = append(sinks, alert.NewStreamSink(s.redisClient, cfg.Alert.StreamName, cfg.Alert.StreamMaxLen))
	}
	var states alert.StateStore = alert.NewMemoryStateStore()
	if cfg.Alert.StateBackend == config.BackendRedis {
		states = alert.NewKVStateStore(s.newKV(config.BackendRedis), cfg.Alert.StateKeyPrefix)
	}
	s.snapshot = alert.NewSnapshot(s.telemetryRepo, cfg.Alert.RefreshInterval, logger)
	s.engine = alert.NewEngine(s.snapshot, s.configStore, states, cfg.Alert.EvalInterval, logger, sinks...)

	// 7. MQTT（可选）
	if cfg.MQTT.Enabled {
		client, err := mqttcommon.NewClient(&cfg.MQTT.MQTTConfig, logger)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.mqttClient = client
		s.consumer = ingest.NewMQTTConsumer(client, cfg.MQTT.Topic, cfg.MQTT.QoS, s.ingest, logger)
	}

	// 8. HTTP
	router := httpapi.NewRouter(logger)
	router.RegisterTelemetryRoutes(httpapi.NewTelemetryHandler(s.ingest, cfg.Location, logger))
	router.RegisterDashboardRoutes(httpapi.NewDashboardHandler(s.deviceRepo, s.telemetryRepo, cfg.Location, logger))
	router.RegisterConfigRoutes(httpapi.NewConfigHandler(s.configStore, s.engine, logger))
	router.RegisterAlertRoutes(httpapi.NewAlertHandler(s.dingtalk, s.hub.ServeWS, logger))
	router.RegisterStatusRoutes(httpapi.NewStatusHandler(pool, s.ingest.Counters, cfg.Location))
	s.server = NewServer(cfg.HTTP.Addr, router, logger)

	logger.Info("Startup self-check passed",
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		zap.String("alert_state_backend", cfg.Alert.StateBackend),
		zap.String("config_store_backend", cfg.ConfigStore.Backend),
		zap.Bool("dingtalk_configured", cfg.DingTalk.Webhook != ""),
	)
	return s, nil
}

// newKV 未启用 Redis 时回落到内存实现
func (s *ThermoService) newKV(backend string) store.KV {
	if backend == config.BackendRedis && s.redisClient != nil {
		return store.NewRedisKV(s.redisClient)
	}
	return store.NewMemoryKV()
}

// Start 启动后台循环和 HTTP 服务，阻塞直到 ctx 取消或 HTTP 服务出错
func (s *ThermoService) Start(ctx context.Context) error {
	s.logger.Info("Starting owl-thermo service")

	s.goLoop(func() { s.hub.Run(ctx) })
	s.goLoop(func() { s.snapshot.Start(ctx) })
	s.goLoop(func() { s.engine.Run(ctx) })
	s.goLoop(func() { s.monitor.Start(ctx) })
	if s.consumer != nil {
		s.goLoop(func() {
			if err := s.consumer.Start(ctx); err != nil {
				s.logger.Error("MQTT consumer stopped with error", zap.Error(err))
			}
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Start() }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}
}

func (s *ThermoService) goLoop(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop 停止服务：先关 HTTP，再等待后台循环退出，最后释放连接
func (s *ThermoService) Stop() {
	s.logger.Info("Stopping owl-thermo service")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.server.Stop(ctx); err != nil {
			s.logger.Error("Failed to stop http server", zap.Error(err))
		}
		cancel()
	}
	if s.consumer != nil {
		s.consumer.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	s.wg.Wait()
	if s.engine != nil {
		s.engine.Wait()
	}

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
}

// withRetry 启动阶段的重试，每次失败后等待 delay
func withRetry(ctx context.Context, attempts int, delay time.Duration, logger *zap.Logger, what string, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		logger.Warn("Startup check failed",
			zap.String("component", what),
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
