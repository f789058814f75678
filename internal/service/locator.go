package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"wisefido-badge-locator/common/database"
	mqttcommon "wisefido-badge-locator/common/mqtt"
	rediscommon "wisefido-badge-locator/common/redis"
	"wisefido-badge-locator/internal/cache"
	"wisefido-badge-locator/internal/config"
	"wisefido-badge-locator/internal/consumer"
	"wisefido-badge-locator/internal/metrics"
	"wisefido-badge-locator/internal/positioning"
	"wisefido-badge-locator/internal/repository"
	"wisefido-badge-locator/internal/zones"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// directoryCacheSize 工牌目录本地缓存条目数
const directoryCacheSize = 1024

// LocatorService 工牌定位服务
type LocatorService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	pipeline      *positioning.Pipeline
	directory     *consumer.CachedDirectory
	alerts        *repository.AlertStore
	mqttConsumer  *consumer.MQTTConsumer
	eventConsumer *consumer.SubjectEventConsumer
	metricsServer *http.Server

	wg sync.WaitGroup
}

// NewLocatorService 建立外部连接并组装服务
func NewLocatorService(cfg *config.Config, logger *zap.Logger) (*LocatorService, error) {
	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.Migrate(db, cfg.Database.Driver, logger); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	s := &LocatorService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
	}
	if err := s.wire(mqttClient); err != nil {
		s.Stop(context.Background())
		return nil, err
	}
	return s, nil
}

// wire 组装流水线、推送、告警与消费者
func (s *LocatorService) wire(subscriber consumer.Subscriber) error {
	cfg := s.config
	driver := cfg.Database.Driver

	store, err := repository.NewPositionStore(s.db, driver, s.logger)
	if err != nil {
		return err
	}
	zoneMap, err := zones.NewMap(cfg.Positioning.Zones)
	if err != nil {
		return fmt.Errorf("failed to load zones: %w", err)
	}

	metrics.Init()

	s.alerts = repository.NewAlertStore(s.db, driver, s.logger)
	publisher := consumer.NewPositionPublisher(cfg, s.redis, zoneMap, s.logger)
	alerter := NewZoneAlerter(zoneMap, s.alerts, s.logger)

	positionCache := cache.NewLRUPositionCache(cfg.Positioning.Cache.Capacity, cfg.Positioning.Cache.TTL)
	s.pipeline = positioning.NewPipeline(cfg.Positioning, store, positionCache, s.logger,
		positioning.WithRecorder(metrics.PipelineRecorder{}),
		positioning.WithAcceptedHook(publisher.OnAccepted),
		positioning.WithAcceptedHook(alerter.OnAccepted),
	)

	badges := repository.NewBadgeDirectory(s.db, driver, s.logger)
	s.directory = consumer.NewCachedDirectory(badges, directoryCacheSize, cfg.Locator.DirectoryCacheTTL)

	s.mqttConsumer = consumer.NewMQTTConsumer(cfg, subscriber, s.directory, s.pipeline, s.logger)
	s.eventConsumer = consumer.NewSubjectEventConsumer(cfg, s.redis, s.pipeline, s.directory, s.logger)

	if cfg.Locator.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metricsServer = &http.Server{
			Addr:              cfg.Locator.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	s.logger.Info("Locator service wired",
		zap.String("db_driver", driver),
		zap.String("profile", cfg.Positioning.Profile),
		zap.Int("zones", zoneMap.Len()),
	)
	return nil
}

// Start 启动消费者与指标服务
func (s *LocatorService) Start(ctx context.Context) error {
	s.logger.Info("Starting locator service components")

	if s.metricsServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("Metrics server listening", zap.String("addr", s.metricsServer.Addr))
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.eventConsumer.Start(ctx); err != nil {
			s.logger.Error("Subject event consumer stopped with error", zap.Error(err))
		}
	}()

	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	s.logger.Info("Locator service started successfully")
	return nil
}

// Pipeline 定位流水线
func (s *LocatorService) Pipeline() *positioning.Pipeline {
	return s.pipeline
}

// Alerts 区域告警存储
func (s *LocatorService) Alerts() *repository.AlertStore {
	return s.alerts
}

// Stop 停止服务；调用前应先取消 Start 使用的 ctx
func (s *LocatorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping locator service")

	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Stop(); err != nil {
			s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
		}
	}

	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error stopping metrics server", zap.Error(err))
		}
		cancel()
	}

	s.wg.Wait()

	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if s.redis != nil {
		rediscommon.Close(s.redis)
	}

	// 关闭数据库
	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("Locator service stopped")
	return nil
}
