package config

import (
	"os"
	"strconv"
	"time"

	commoncfg "owl-thermo/common/config"
)

// 存储后端
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config owl-thermo 服务配置
type Config struct {
	HTTP struct {
		Addr string
	}
	// APIKey 设备上报使用的共享密钥（X-API-Key）
	APIKey string

	Database commoncfg.DatabaseConfig

	RedisEnabled bool
	Redis        commoncfg.RedisConfig

	MQTT struct {
		Enabled bool
		Topic   string
		commoncfg.MQTTConfig
	}

	Liveness struct {
		Interval    time.Duration // 扫描间隔
		PingTimeout time.Duration
		Concurrency int
	}

	Alert struct {
		EvalInterval    time.Duration // 状态机评估间隔
		RefreshInterval time.Duration // 最新温度快照刷新间隔
		StateBackend    string        // memory / redis
		StateKeyPrefix  string
		StreamName      string
		StreamMaxLen    int64
	}

	ConfigStore struct {
		Backend   string // memory / redis
		KeyPrefix string
	}

	DingTalk struct {
		Webhook string
		Secret  string
		Keyword string
		Timeout time.Duration
	}

	// Location 对外展示时间使用的时区
	Location *time.Location

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":"+getEnv("PORT", "5000"))
	cfg.APIKey = getEnv("API_KEY", "")

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "thermo"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MinConns = 2
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")
	cfg.Database.URI = getEnv("PG_URI", "")

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "thermo/+/telemetry")
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "owl-thermo"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Liveness.Interval = parseSeconds(getEnv("DEVICE_STATUS_UPDATE_INTERVAL", "30"), 30)
	cfg.Liveness.PingTimeout = parseDuration(getEnv("PING_TIMEOUT", "1s"), time.Second)
	cfg.Liveness.Concurrency = parseInt(getEnv("LIVENESS_CONCURRENCY", "8"), 8)

	cfg.Alert.EvalInterval = parseSeconds(getEnv("ALERT_EVAL_INTERVAL", "1"), 1)
	cfg.Alert.RefreshInterval = parseSeconds(getEnv("REFRESH_INTERVAL", "10"), 10)
	cfg.Alert.StateBackend = getEnv("ALERT_STATE_BACKEND", BackendMemory)
	cfg.Alert.StateKeyPrefix = getEnv("ALERT_STATE_PREFIX", "thermo:alert:state:")
	cfg.Alert.StreamName = getEnv("ALERT_STREAM", "thermo:alert:stream")
	cfg.Alert.StreamMaxLen = int64(parseInt(getEnv("ALERT_STREAM_MAXLEN", "1000"), 1000))

	cfg.ConfigStore.Backend = getEnv("CONFIG_STORE_BACKEND", BackendMemory)
	cfg.ConfigStore.KeyPrefix = getEnv("CONFIG_STORE_PREFIX", "thermo:device:config:")

	cfg.DingTalk.Webhook = getEnv("DINGTALK_WEBHOOK", "")
	cfg.DingTalk.Secret = getEnv("DINGTALK_SECRET", "")
	cfg.DingTalk.Keyword = getEnv("DINGTALK_KEYWORD", "")
	cfg.DingTalk.Timeout = parseDuration(getEnv("NOTIFY_TIMEOUT", "5s"), 5*time.Second)

	// 默认北京时间（UTC+8）
	offset := parseInt(getEnv("TZ_OFFSET_HOURS", "8"), 8)
	cfg.Location = time.FixedZone("UTC"+strconv.Itoa(offset), offset*3600)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

// Check 启动自检：必需配置是否齐全
func (c *Config) Check() []string {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "API_KEY")
	}
	if c.Database.URI == "" && c.Database.Host == "" {
		missing = append(missing, "PG_URI")
	}
	if (c.Alert.StateBackend == BackendRedis || c.ConfigStore.Backend == BackendRedis) && !c.RedisEnabled {
		missing = append(missing, "REDIS_ENABLED")
	}
	return missing
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// parseSeconds 解析整数秒，非法或非正数时使用默认值
func parseSeconds(s string, def int) time.Duration {
	n := parseInt(s, def)
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
