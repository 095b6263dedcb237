package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-care/internal/common/database"
	mqttcommon "wisefido-care/internal/common/mqtt"
	rediscommon "wisefido-care/internal/common/redis"
	"wisefido-care/internal/config"
	"wisefido-care/internal/consumer"
	"wisefido-care/internal/publisher"
	"wisefido-care/internal/repository"
	"wisefido-care/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CareService 健康检测服务：装配存储、住户锁、广播和命令消费者
type CareService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	consumer   *consumer.MQTTConsumer
	encounters *EncounterService
}

// NewCareService 创建健康检测服务
func NewCareService(cfg *config.Config, logger *zap.Logger) (*CareService, error) {
	s := &CareService{config: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 存储
	var repo repository.CareRepository
	switch cfg.Care.Storage {
	case config.StorageMemory:
		mem := repository.NewMemoryCareRepository()
		if err := mem.SeedDemoData(time.Now()); err != nil {
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
		repo = mem
		logger.Info("Using in-memory care storage with demo residents")
	default:
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		repo = repository.NewPostgresCareRepository(db, cfg.TenantID, logger)
	}

	// 住户锁 + 结果事件流
	var kv store.KV
	var publishers []publisher.Publisher
	if cfg.Care.RedisEnabled {
		redisClient := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, redisClient); err != nil {
			s.closeResources()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = redisClient
		kv = store.NewRedisKV(redisClient)
		if cfg.Care.Stream != "" {
			publishers = append(publishers, publisher.NewStreamPublisher(redisClient, cfg.Care.Stream, cfg.Care.StreamMaxLen, logger))
		}
	} else {
		logger.Warn("Redis disabled, encounter locks are process-local")
		kv = store.NewMemoryKV()
	}

	// MQTT：结果/提醒广播
	if cfg.Care.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.closeResources()
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		s.mqttClient = mqttClient
		publishers = append(publishers, publisher.NewMQTTPublisher(
			mqttClient, cfg.MQTT.QoS, cfg.Care.Topics.Outcome, cfg.Care.Topics.Nudge, logger,
		))
	}

	lock := store.NewEncounterLock(kv, cfg.TenantID, cfg.Care.LockTTL)
	s.encounters = NewEncounterService(repo, lock, publisher.NewMultiPublisher(logger, publishers...), logger,
		WithComplianceWindowDays(cfg.Care.ComplianceWindowDays),
	)

	// 命令消费者
	if s.mqttClient != nil {
		s.consumer = consumer.NewMQTTConsumer(
			s.mqttClient, s.encounters, cfg.Care.Topics.Command, cfg.Care.Topics.State, cfg.MQTT.QoS, logger,
		)
	}

	return s, nil
}

// Encounters 检测服务（供命令消费者之外的调用方使用）
func (s *CareService) Encounters() *EncounterService {
	return s.encounters
}

// Start 启动服务，阻塞到 ctx 取消
func (s *CareService) Start(ctx context.Context) error {
	s.logger.Info("Starting care service components",
		zap.String("tenant_id", s.config.TenantID),
		zap.String("storage", s.config.Care.Storage),
	)

	if s.consumer == nil {
		s.logger.Warn("MQTT disabled, no command consumer running")
		<-ctx.Done()
		return nil
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *CareService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping care service")

	// 先停消费，再释放进行中检测的锁
	if s.consumer != nil {
		if err := s.consumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}
	if s.encounters != nil {
		s.encounters.Shutdown(ctx)
	}

	s.closeResources()
	s.logger.Info("Care service stopped")
	return nil
}

func (s *CareService) closeResources() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redis != nil {
		if err := rediscommon.Close(s.redis); err != nil {
			s.logger.Warn("Error closing redis", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Warn("Error closing database", zap.Error(err))
		}
	}
}
