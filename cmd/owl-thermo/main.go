package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"owl-thermo/common/logger"
	"owl-thermo/internal/config"
	"owl-thermo/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.Load()

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "owl-thermo")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 启动自检并创建服务
	thermoService, err := service.NewThermoService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create owl-thermo service", zap.Error(err))
	}

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		if err := thermoService.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serviceErrChan:
		log.Error("Service error", zap.Error(err))
	}

	cancel()
	thermoService.Stop()
	log.Info("owl-thermo service stopped")
}
