package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-care/internal/common/config"
)

// 存储方式
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config 健康检测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	TenantID string

	// 检测服务特定配置
	Care struct {
		Storage              string        // postgres | memory
		ComplianceWindowDays int           // 打卡审计窗口（天），默认 7
		LockTTL              time.Duration // 住户检测锁兜底过期，默认 30 分钟

		RedisEnabled bool
		MQTTEnabled  bool

		Stream       string // 结果事件流，如 "care:encounters"
		StreamMaxLen int64

		Topics struct {
			Command string // 外壳下发命令，如 "wisefido/care/+/command"
			State   string // 检测快照，如 "wisefido/care/{resident_id}/state"
			Outcome string // 检测结果，如 "wisefido/care/{resident_id}/outcome"
			Nudge   string // 依从性提醒，如 "wisefido/care/{resident_id}/nudge"
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-care"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.TenantID = getEnv("TENANT_ID", "")

	cfg.Care.Storage = getEnv("CARE_STORAGE", StoragePostgres)
	cfg.Care.ComplianceWindowDays = getEnvInt("CARE_COMPLIANCE_WINDOW_DAYS", 7)
	cfg.Care.LockTTL = time.Duration(getEnvInt("CARE_LOCK_TTL_SEC", 1800)) * time.Second
	cfg.Care.RedisEnabled = getEnvBool("CARE_REDIS_ENABLED", true)
	cfg.Care.MQTTEnabled = getEnvBool("CARE_MQTT_ENABLED", true)
	cfg.Care.Stream = getEnv("CARE_STREAM", "care:encounters")
	cfg.Care.StreamMaxLen = int64(getEnvInt("CARE_STREAM_MAXLEN", 10000))
	cfg.Care.Topics.Command = getEnv("CARE_TOPIC_COMMAND", "wisefido/care/+/command")
	cfg.Care.Topics.State = getEnv("CARE_TOPIC_STATE", "wisefido/care/{resident_id}/state")
	cfg.Care.Topics.Outcome = getEnv("CARE_TOPIC_OUTCOME", "wisefido/care/{resident_id}/outcome")
	cfg.Care.Topics.Nudge = getEnv("CARE_TOPIC_NUDGE", "wisefido/care/{resident_id}/nudge")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置组合
func (c *Config) Validate() error {
	switch c.Care.Storage {
	case StoragePostgres:
		if c.TenantID == "" {
			return fmt.Errorf("TENANT_ID environment variable is required for %s storage", StoragePostgres)
		}
	case StorageMemory:
		if c.TenantID == "" {
			c.TenantID = "local"
		}
	default:
		return fmt.Errorf("unknown CARE_STORAGE %q (want %s or %s)", c.Care.Storage, StoragePostgres, StorageMemory)
	}
	if c.Care.ComplianceWindowDays <= 0 {
		return fmt.Errorf("CARE_COMPLIANCE_WINDOW_DAYS must be positive, got %d", c.Care.ComplianceWindowDays)
	}
	if c.Care.LockTTL <= 0 {
		return fmt.Errorf("CARE_LOCK_TTL_SEC must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}
