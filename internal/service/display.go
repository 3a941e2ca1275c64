package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-kiosk/common/database"
	rediscommon "wisefido-kiosk/common/redis"
	"wisefido-kiosk/internal/announcer"
	"wisefido-kiosk/internal/clock"
	"wisefido-kiosk/internal/config"
	"wisefido-kiosk/internal/consumer"
	"wisefido-kiosk/internal/directory"
	"wisefido-kiosk/internal/display"
	httpapi "wisefido-kiosk/internal/http"
	"wisefido-kiosk/internal/models"
	"wisefido-kiosk/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DisplayService 显示站：推送通道 → 去重补全 → 显示状态机 + 语音播报
type DisplayService struct {
	config *config.Config
	logger *zap.Logger

	redisClient *redis.Client
	db          *sql.DB
	arrivals    *repository.ArrivalLogRepository

	cache     *directory.SnapshotCache
	machine   *display.Machine
	scheduler *announcer.Scheduler
	consumer  *consumer.Consumer
	source    consumer.Source

	handler *httpapi.KioskHandler
	server  *httpapi.Server
}

// NewDisplayService 按配置组装显示站
func NewDisplayService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DisplayService, error) {
	s := &DisplayService{config: cfg, logger: logger}
	clk := clock.New()

	// Redis 在目录缓存或推送通道需要时才连接
	if cfg.Directory.Cache == config.CacheRedis || cfg.Push.Transport == config.TransportRedis {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
			_ = rediscommon.Close(s.redisClient)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	// 到达记录可选，数据库不可用时仅记录告警
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			logger.Warn("DB enabled but connection failed, arrival log disabled", zap.Error(err))
		} else {
			repo := repository.NewArrivalLogRepository(db, logger)
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.Warn("Failed to ensure arrival schema, arrival log disabled", zap.Error(err))
				_ = database.Close(db)
			} else {
				s.db = db
				s.arrivals = repo
			}
		}
	}

	var store directory.KVStore = directory.NewMemoryStore()
	if cfg.Directory.Cache == config.CacheRedis {
		store = directory.NewRedisStore(s.redisClient)
	}
	fetcher := directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.Timeout, cfg.Directory.RetryCount, logger)
	s.cache = directory.NewSnapshotCache(fetcher, store, cfg.Directory.CacheTTL, cfg.Directory.KeyPrefix, logger)

	s.machine = display.NewMachine(cfg.Pipeline.HideWindow, cfg.Pipeline.RecentLimit, clk, logger)

	var engine announcer.Engine = announcer.NopEngine{}
	if cfg.Announcer.Enabled {
		engine = announcer.NewCommandEngine(cfg.Announcer.Command, logger)
	}
	s.scheduler = announcer.NewScheduler(engine, announcer.Options{
		Lang:              cfg.Announcer.Lang,
		VoiceMarkers:      cfg.Announcer.VoiceMarkers,
		KeepaliveInterval: cfg.Announcer.KeepaliveInterval,
		UnlockPhrase:      cfg.Announcer.UnlockPhrase,
	}, clk, logger)

	// 接口值不能直接用 nil 指针赋值
	var recorder consumer.ArrivalRecorder
	if s.arrivals != nil {
		recorder = s.arrivals
	}
	s.consumer = consumer.NewConsumer(consumer.Options{
		StationID:     cfg.Station.ID,
		DedupWindow:   cfg.Pipeline.DedupWindow,
		EnrichTimeout: cfg.Directory.EnrichTimeout,
		QueueSize:     cfg.Push.QueueSize,
		Greeting:      cfg.Announcer.Greeting,
	}, s.cache, s.machine, s.scheduler, recorder, clk, logger)

	switch cfg.Push.Transport {
	case config.TransportMQTT:
		s.source = consumer.NewMQTTSource(&cfg.MQTT, logger)
	case config.TransportRedis:
		s.source = consumer.NewRedisStreamSource(s.redisClient, cfg.Push.Stream, cfg.Push.ConsumerGroup,
			cfg.Station.ID, cfg.Push.BatchSize, cfg.Push.Block, logger)
	case config.TransportWebSocket:
		s.source = consumer.NewWebSocketSource(cfg.Push.WebSocketURL, cfg.Push.EventName, logger)
	default:
		s.closeStores()
		return nil, fmt.Errorf("unsupported push transport: %s", cfg.Push.Transport)
	}

	s.handler = httpapi.NewKioskHandler(cfg.Station.ID, s.machine, s.scheduler, s.consumer, logger)
	router := httpapi.NewRouter(s.handler, cfg.HTTP.AllowOrigins, logger)
	s.server = httpapi.NewServer(cfg.HTTP.Addr, router, logger)

	return s, nil
}

// Start 启动显示站，阻塞直到 ctx 取消或 HTTP 服务出错
func (s *DisplayService) Start(ctx context.Context) error {
	s.logger.Info("Starting kiosk display station",
		zap.String("station_id", s.config.Station.ID),
		zap.String("transport", s.source.Name()),
		zap.Bool("arrival_log", s.arrivals != nil),
	)

	s.seed(ctx)
	s.scheduler.Start(ctx)
	s.consumer.Start(ctx)

	if err := s.source.Start(ctx, s.consumer.Receive, s.consumer.SetConnectionState); err != nil {
		return fmt.Errorf("failed to start %s push channel: %w", s.source.Name(), err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.server.Start()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// seed 用目录快照填充最近列表，目录不可用时退回本站到达记录
func (s *DisplayService) seed(ctx context.Context) {
	records, err := s.cache.LoadAll(ctx)
	if err == nil {
		s.machine.Seed(records)
		return
	}
	s.logger.Warn("Directory snapshot unavailable, starting with partial roster", zap.Error(err))

	if s.arrivals == nil {
		return
	}
	recent, err := s.arrivals.RecentArrivals(ctx, s.config.Station.ID, s.config.Pipeline.RecentLimit)
	if err != nil {
		s.logger.Warn("Failed to load recent arrivals", zap.Error(err))
		return
	}
	s.machine.Seed(recent)
}

// Stop 停止显示站：先断开推送通道，再停止定时器与播报，最后关闭存储连接
func (s *DisplayService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping kiosk display station")

	var errs []error
	s.handler.Close()
	if err := s.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := s.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("push channel: %w", err))
	}
	s.consumer.Stop()
	s.scheduler.Close()
	s.machine.Close()
	if err := s.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *DisplayService) closeStores() error {
	var errs []error
	if err := rediscommon.Close(s.redisClient); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}

// ConnectionState 推送通道连接状态
func (s *DisplayService) ConnectionState() models.ConnectionState {
	return s.consumer.ConnectionState()
}
