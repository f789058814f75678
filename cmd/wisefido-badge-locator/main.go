package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-badge-locator/common/logger"
	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/service"

	"go.uber.org/zap"
)

const serviceName = "wisefido-badge-locator"

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting wisefido-badge-locator service",
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("anchor_topic", cfg.Locator.Topics.Anchor),
		zap.String("profile", cfg.Positioning.Profile),
	)

	// 创建服务
	locatorService, err := service.NewLocatorService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create locator service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := locatorService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start locator service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := locatorService.Stop(shutdownCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
