package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-kiosk/internal/kioskerr"
	"wisefido-kiosk/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsEnvelope 命名事件帧 {"event": "checkin", "data": {...}}
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebSocketSource 通过 WebSocket 命名事件接收签到通知，断线后自行重连
type WebSocketSource struct {
	url       string
	eventName string
	dialer    *websocket.Dialer
	logger    *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebSocketSource 创建 WebSocket 推送通道，eventName 为空时接收所有事件
func NewWebSocketSource(url, eventName string, logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{
		url:       url,
		eventName: eventName,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Start(ctx context.Context, handler Handler, onState StateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("websocket source already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx, handler, onState)
	return nil
}

func (s *WebSocketSource) run(ctx context.Context, handler Handler, onState StateFunc) {
	defer close(s.done)

	backoff := minBackoff
	for ctx.Err() == nil {
		onState(models.ConnectionConnecting)

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			onState(models.ConnectionDisconnected)
			s.logger.Warn("Push channel unavailable, retrying",
				zap.Error(&kioskerr.ChannelError{Op: "websocket dial", Err: err}),
				zap.Duration("backoff", backoff),
			)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()

		backoff = minBackoff
		onState(models.ConnectionConnected)
		err = s.readLoop(conn, handler)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()

		onState(models.ConnectionDisconnected)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Push channel dropped",
			zap.Error(&kioskerr.ChannelError{Op: "websocket read", Err: err}),
		)
	}
}

func (s *WebSocketSource) readLoop(conn *websocket.Conn, handler Handler) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		n, ok, err := s.decode(payload)
		if err != nil {
			s.logger.Warn("Invalid checkin frame", zap.Error(err))
			continue
		}
		if ok {
			handler(n)
		}
	}
}

// decode 非目标事件返回 ok=false
// 不带 event 字段的帧按裸通知处理
func (s *WebSocketSource) decode(payload []byte) (models.CheckinNotification, bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.CheckinNotification{}, false, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if env.Event == "" {
		n, err := models.ParseNotification(payload)
		return n, err == nil, err
	}
	if s.eventName != "" && env.Event != s.eventName {
		return models.CheckinNotification{}, false, nil
	}
	n, err := models.ParseNotification(env.Data)
	return n, err == nil, err
}

// Stop 关闭连接并等待后台 goroutine 退出
func (s *WebSocketSource) Stop() error {
	s.mu.Lock()
	cancel, done, conn := s.cancel, s.done, s.conn
	s.cancel = nil
	if cancel != nil {
		cancel()
	}
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-done
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
