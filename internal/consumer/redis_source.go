package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	commonredis "wisefido-kiosk/common/redis"
	"wisefido-kiosk/internal/kioskerr"
	"wisefido-kiosk/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// RedisStreamSource 通过 Redis Streams 接收签到通知
// 每个显示站使用独立的消费者组，因此每个站都能收到全部事件
type RedisStreamSource struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisStreamSource 创建 Redis Streams 推送通道，组名为 groupPrefix:stationID
func NewRedisStreamSource(client *redis.Client, stream, groupPrefix, stationID string, batchSize int64, block time.Duration, logger *zap.Logger) *RedisStreamSource {
	return &RedisStreamSource{
		client:    client,
		stream:    stream,
		group:     groupPrefix + ":" + stationID,
		consumer:  stationID,
		batchSize: batchSize,
		block:     block,
		logger:    logger,
	}
}

func (s *RedisStreamSource) Name() string { return "redis" }

func (s *RedisStreamSource) Start(ctx context.Context, handler Handler, onState StateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("redis stream source already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx, handler, onState)
	return nil
}

func (s *RedisStreamSource) run(ctx context.Context, handler Handler, onState StateFunc) {
	defer close(s.done)

	backoff := minBackoff
	groupReady := false
	onState(models.ConnectionConnecting)

	for {
		if ctx.Err() != nil {
			return
		}

		if !groupReady {
			// "$"：只消费本站启动之后的事件
			if err := commonredis.CreateConsumerGroup(ctx, s.client, s.stream, s.group, "$"); err != nil {
				backoff = s.fail(ctx, onState, "create group", err, backoff)
				continue
			}
			groupReady = true
		}

		messages, err := commonredis.ReadFromStream(ctx, s.client, s.stream, s.group, s.consumer, s.batchSize, s.block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// 组可能随 stream 一起被删除
			groupReady = false
			backoff = s.fail(ctx, onState, "read", err, backoff)
			continue
		}

		backoff = minBackoff
		onState(models.ConnectionConnected)

		for _, msg := range messages {
			s.dispatch(ctx, msg, handler)
		}
	}
}

func (s *RedisStreamSource) dispatch(ctx context.Context, msg commonredis.StreamMessage, handler Handler) {
	n, err := decodeStreamMessage(msg.Values)
	if err != nil {
		s.logger.Warn("Invalid checkin stream message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	} else {
		handler(n)
	}

	// 无法解析的消息同样确认，避免反复投递
	if err := commonredis.Ack(ctx, s.client, s.stream, s.group, msg.ID); err != nil {
		s.logger.Warn("Failed to ack checkin message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

// decodeStreamMessage 支持 data 字段携带 JSON，或字段直接平铺
func decodeStreamMessage(values map[string]interface{}) (models.CheckinNotification, error) {
	if data, ok := values["data"].(string); ok {
		return models.ParseNotification([]byte(data))
	}
	return models.NotificationFromMap(values)
}

func (s *RedisStreamSource) fail(ctx context.Context, onState StateFunc, op string, err error, backoff time.Duration) time.Duration {
	onState(models.ConnectionDisconnected)
	s.logger.Warn("Push channel unavailable, retrying",
		zap.Error(&kioskerr.ChannelError{Op: "redis " + op, Err: err}),
		zap.Duration("backoff", backoff),
	)

	if sleepCtx(ctx, backoff) {
		onState(models.ConnectionConnecting)
	}
	return nextBackoff(backoff)
}

// Stop 取消读取并等待后台 goroutine 退出
// go-redis 的阻塞读取不随 ctx 中断，最长等待一个 block 周期
func (s *RedisStreamSource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
