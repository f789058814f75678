package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-badge-locator/common/config"

	"gopkg.in/yaml.v3"
)

// Config 工牌定位服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 定位服务特定配置
	Locator struct {
		// MQTT 主题
		Topics struct {
			Anchor string // 基站 RSSI 批次主题，如 "anchors/+/rssi"
		}

		// Redis Streams 配置
		Stream struct {
			Position      string // 位置更新输出流，如 "badge:position:stream"
			PositionMax   int64  // 输出流近似最大长度
			SubjectEvents string // subject 变更事件流，如 "subject:events"
		}
		ConsumerGroup string // 消费者组名称
		ConsumerName  string // 消费者名称
		BatchSize     int64  // 批量处理大小

		// Redis 缓存配置
		Cache struct {
			RealtimeKeyPrefix string // 实时位置缓存键前缀，如 "badge:position:"
			RealtimeTTL       int    // 实时位置 TTL（秒）
		}

		DirectoryCacheTTL time.Duration // 工牌 → subject 映射的本地缓存时间
		MetricsAddr       string        // Prometheus 监听地址，空字符串表示关闭
	}

	Positioning PositioningConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
//
// 顺序：默认值 → CALIBRATION_FILE（YAML profile）→ 环境变量覆盖 → 校验
func Load() (*Config, error) {
	cfg := &Config{}

	// 数据库（默认值，DB_* 环境变量覆盖）
	cfg.Database = config.DatabaseConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "owlrd",
		SSLMode:  "disable",
		Path:     "badge-locator.db",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.Database.Path = getEnv("SQLITE_PATH", cfg.Database.Path)

	// Redis
	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	// MQTT
	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-badge-locator",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	// 定位服务
	cfg.Locator.Topics.Anchor = getEnv("ANCHOR_TOPIC", "anchors/+/rssi")
	cfg.Locator.Stream.Position = getEnv("POSITION_STREAM", "badge:position:stream")
	cfg.Locator.Stream.PositionMax = 10000
	cfg.Locator.Stream.SubjectEvents = getEnv("SUBJECT_EVENT_STREAM", "subject:events")
	cfg.Locator.ConsumerGroup = getEnv("CONSUMER_GROUP", "badge-locator-group")
	cfg.Locator.ConsumerName = getEnv("CONSUMER_NAME", "badge-locator-1")
	cfg.Locator.BatchSize = 10
	cfg.Locator.Cache.RealtimeKeyPrefix = getEnv("CACHE_REALTIME_PREFIX", "badge:position:")
	cfg.Locator.Cache.RealtimeTTL = 60
	cfg.Locator.DirectoryCacheTTL = 5 * time.Minute
	cfg.Locator.MetricsAddr = getEnv("METRICS_ADDR", ":9108")

	// 定位 profile
	cfg.Positioning = DefaultPositioning()
	if path := os.Getenv("CALIBRATION_FILE"); path != "" {
		profile, err := LoadProfile(path, cfg.Positioning)
		if err != nil {
			return nil, err
		}
		cfg.Positioning = profile
	}
	cfg.Positioning.Window = getEnvDuration("WINDOW_SECONDS", time.Second, cfg.Positioning.Window)
	cfg.Positioning.Cache.Capacity = getEnvInt("CACHE_CAPACITY", cfg.Positioning.Cache.Capacity)
	cfg.Positioning.Cache.TTL = getEnvDuration("CACHE_TTL_MS", time.Millisecond, cfg.Positioning.Cache.TTL)
	cfg.Positioning.Zone.Width = getEnvFloat("ZONE_WIDTH", cfg.Positioning.Zone.Width)
	cfg.Positioning.Zone.Height = getEnvFloat("ZONE_HEIGHT", cfg.Positioning.Zone.Height)
	cfg.Positioning.Solver.MaxIterations = getEnvInt("SOLVER_MAX_ITERATIONS", cfg.Positioning.Solver.MaxIterations)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Locator.Topics.Anchor == "" {
		return fmt.Errorf("anchor topic is empty")
	}
	if err := c.Positioning.Validate(); err != nil {
		return fmt.Errorf("invalid positioning profile %q: %w", c.Positioning.Profile, err)
	}
	return nil
}

// LoadProfile 读取 YAML profile，未出现的字段保留 base 中的值
func LoadProfile(path string, base PositioningConfig) (PositioningConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read calibration file %s: %w", path, err)
	}
	return ParseProfile(data, base)
}

// ParseProfile 解析 YAML profile
func ParseProfile(data []byte, base PositioningConfig) (PositioningConfig, error) {
	profile := base
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return base, fmt.Errorf("failed to parse calibration profile: %w", err)
	}
	return profile, nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration 解析以 unit 为单位的数值（允许小数，如 WINDOW_SECONDS=1.5）
func getEnvDuration(key string, unit time.Duration, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			return time.Duration(v * float64(unit))
		}
	}
	return defaultValue
}
