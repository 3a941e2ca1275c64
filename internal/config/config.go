package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-kiosk/common/config"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// 推送通道类型
const (
	TransportMQTT      = "mqtt"
	TransportRedis     = "redis"
	TransportWebSocket = "websocket"
)

// 目录缓存类型
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CameraConfig 单个摄像头（快照地址 + 朝向）
type CameraConfig struct {
	Facing string // "environment"（后置）或 "user"（前置）
	URL    string
}

// Config 签到看板配置（显示站与扫码站共用）
type Config struct {
	Station struct {
		ID   string // 站点 ID，未设置时自动生成
		Name string
	}

	DBEnabled bool
	Database  config.DatabaseConfig
	Redis     config.RedisConfig
	MQTT      config.MQTTConfig

	// 推送通道
	Push struct {
		Transport     string // mqtt | redis | websocket
		EventName     string // 签到事件名（websocket 命名事件过滤）
		Stream        string // Redis Streams 名称
		ConsumerGroup string // 消费者组前缀，实际组名为 前缀:站点ID
		BatchSize     int64
		Block         time.Duration
		WebSocketURL  string
		QueueSize     int
	}

	// 目录服务
	Directory struct {
		BaseURL       string
		Timeout       time.Duration
		RetryCount    int
		EnrichTimeout time.Duration
		Cache         string // memory | redis
		CacheTTL      time.Duration
		KeyPrefix     string
	}

	// 显示流水线
	Pipeline struct {
		DedupWindow time.Duration // 去重窗口（默认 5000ms）
		HideWindow  time.Duration // 自动隐藏窗口（默认 10000ms）
		RecentLimit int           // 最近列表软上限，0 表示不限
	}

	// 语音播报
	Announcer struct {
		Enabled           bool
		Command           string // espeak-ng 兼容命令
		Lang              string
		VoiceMarkers      []string
		KeepaliveInterval time.Duration
		Greeting          string
		UnlockPhrase      string
	}

	// 扫码
	Capture struct {
		Cameras     []CameraConfig
		Tick        time.Duration
		FrameWidth  int
		FrameHeight int
		Cooldown    time.Duration
		SubmitURL   string
	}

	HTTP struct {
		Addr         string
		AllowOrigins []string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（.env 文件可选，环境变量优先）
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Station.ID = getEnv("STATION_ID", "")
	if cfg.Station.ID == "" {
		cfg.Station.ID = "station-" + uuid.NewString()[:8]
	}
	cfg.Station.Name = getEnv("STATION_NAME", cfg.Station.ID)

	cfg.DBEnabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "wisefido_kiosk"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-kiosk-" + cfg.Station.ID
	cfg.MQTT.Topic = "kiosk/checkin"
	cfg.MQTT.QoS = 1
	cfg.MQTT.ConnectTimeout = 5 * time.Second
	cfg.MQTT.MaxReconnectInterval = 30 * time.Second
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Push.Transport = getEnv("PUSH_TRANSPORT", TransportMQTT)
	cfg.Push.EventName = getEnv("PUSH_EVENT_NAME", "checkin")
	cfg.Push.Stream = getEnv("PUSH_STREAM", "checkin:events")
	cfg.Push.ConsumerGroup = getEnv("PUSH_CONSUMER_GROUP", "kiosk-display")
	cfg.Push.BatchSize = int64(getEnvInt("PUSH_BATCH_SIZE", 10))
	cfg.Push.Block = getEnvMillis("PUSH_BLOCK_MS", 5000)
	cfg.Push.WebSocketURL = getEnv("PUSH_WS_URL", "ws://localhost:8080/ws")
	cfg.Push.QueueSize = getEnvInt("PUSH_QUEUE_SIZE", 64)

	cfg.Directory.BaseURL = getEnv("DIRECTORY_BASE_URL", "http://localhost:8080/api/v1")
	cfg.Directory.Timeout = getEnvMillis("DIRECTORY_TIMEOUT_MS", 5000)
	cfg.Directory.RetryCount = getEnvInt("DIRECTORY_RETRY_COUNT", 2)
	cfg.Directory.EnrichTimeout = getEnvMillis("DIRECTORY_ENRICH_TIMEOUT_MS", 8000)
	cfg.Directory.Cache = getEnv("DIRECTORY_CACHE", CacheMemory)
	cfg.Directory.CacheTTL = getEnvMillis("DIRECTORY_CACHE_TTL_MS", 12*60*60*1000)
	cfg.Directory.KeyPrefix = getEnv("DIRECTORY_KEY_PREFIX", "kiosk:directory:")

	cfg.Pipeline.DedupWindow = getEnvMillis("DEDUP_WINDOW_MS", 5000)
	cfg.Pipeline.HideWindow = getEnvMillis("HIDE_WINDOW_MS", 10000)
	cfg.Pipeline.RecentLimit = getEnvInt("RECENT_LIMIT", 0)

	cfg.Announcer.Enabled = getEnv("ANNOUNCER_ENABLED", "true") == "true"
	cfg.Announcer.Command = getEnv("ANNOUNCER_COMMAND", "espeak-ng")
	cfg.Announcer.Lang = getEnv("ANNOUNCER_LANG", "en-US")
	cfg.Announcer.VoiceMarkers = splitList(getEnv("ANNOUNCER_VOICE_MARKERS", "Google,Microsoft,Natural,Neural"))
	cfg.Announcer.KeepaliveInterval = getEnvMillis("KEEPALIVE_INTERVAL_MS", 10000)
	cfg.Announcer.Greeting = getEnv("ANNOUNCER_GREETING", "Welcome")
	cfg.Announcer.UnlockPhrase = getEnv("ANNOUNCER_UNLOCK_PHRASE", "Sound enabled")

	cameras, err := parseCameras(getEnv("CAPTURE_CAMERAS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Capture.Cameras = cameras
	cfg.Capture.Tick = getEnvMillis("CAPTURE_TICK_MS", 33)
	cfg.Capture.FrameWidth = getEnvInt("CAPTURE_FRAME_WIDTH", 640)
	cfg.Capture.FrameHeight = getEnvInt("CAPTURE_FRAME_HEIGHT", 480)
	cfg.Capture.Cooldown = getEnvMillis("CAPTURE_COOLDOWN_MS", 2000)
	cfg.Capture.SubmitURL = getEnv("CHECKIN_SUBMIT_URL", "http://localhost:8080/api/v1/checkins")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")
	cfg.HTTP.AllowOrigins = splitList(getEnv("HTTP_ALLOW_ORIGINS", "http://localhost:5173"))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Push.Transport {
	case TransportMQTT, TransportRedis, TransportWebSocket:
	default:
		return fmt.Errorf("unsupported push transport: %s", c.Push.Transport)
	}
	switch c.Directory.Cache {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("unsupported directory cache: %s", c.Directory.Cache)
	}
	if c.Pipeline.DedupWindow <= 0 {
		return fmt.Errorf("dedup window must be positive")
	}
	if c.Pipeline.HideWindow <= 0 {
		return fmt.Errorf("hide window must be positive")
	}
	if c.Capture.FrameWidth <= 0 || c.Capture.FrameHeight <= 0 {
		return fmt.Errorf("invalid capture frame size %dx%d", c.Capture.FrameWidth, c.Capture.FrameHeight)
	}
	if c.Capture.Tick <= 0 {
		return fmt.Errorf("capture tick must be positive")
	}
	return nil
}

// parseCameras 解析 "environment=http://cam1/snap.jpg,user=http://cam2/snap.jpg"
// 未写朝向的条目视为朝向未知
func parseCameras(raw string) ([]CameraConfig, error) {
	var cameras []CameraConfig
	for _, item := range splitList(raw) {
		facing, url, found := strings.Cut(item, "=")
		facing = strings.TrimSpace(facing)
		url = strings.TrimSpace(url)
		// URL 查询串里也可能有 "="，只认已知朝向前缀
		if !found || (facing != "environment" && facing != "user") {
			cameras = append(cameras, CameraConfig{URL: item})
			continue
		}
		if url == "" {
			return nil, fmt.Errorf("camera %q has empty url", facing)
		}
		cameras = append(cameras, CameraConfig{Facing: facing, URL: url})
	}
	return cameras, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvMillis(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMillis)) * time.Millisecond
}
