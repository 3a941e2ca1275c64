package consumer

import (
	"context"
	"fmt"
	"sync"

	"wisefido-kiosk/common/config"
	"wisefido-kiosk/common/mqtt"
	"wisefido-kiosk/internal/kioskerr"
	"wisefido-kiosk/internal/models"

	"go.uber.org/zap"
)

// MQTTSource 通过 MQTT 主题接收签到通知
// 自动重连由 paho 客户端负责，连接状态来自其生命周期回调
type MQTTSource struct {
	cfg    *config.MQTTConfig
	logger *zap.Logger

	mu      sync.Mutex
	client  *mqtt.Client
	handler Handler
	stopped bool
}

// NewMQTTSource 创建 MQTT 推送通道
func NewMQTTSource(cfg *config.MQTTConfig, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{cfg: cfg, logger: logger}
}

func (s *MQTTSource) Name() string { return "mqtt" }

func (s *MQTTSource) Start(_ context.Context, handler Handler, onState StateFunc) error {
	s.mu.Lock()
	s.handler = handler
	s.stopped = false
	s.mu.Unlock()

	onState(models.ConnectionConnecting)

	client, err := mqtt.NewClient(s.cfg, s.logger, mqtt.Hooks{
		OnConnect: func(c *mqtt.Client) {
			// clean session：每次重连都要重新订阅
			if err := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage); err != nil {
				s.logger.Error("Failed to subscribe checkin topic",
					zap.String("topic", s.cfg.Topic),
					zap.Error(err),
				)
				onState(models.ConnectionDisconnected)
				return
			}
			onState(models.ConnectionConnected)
		},
		OnConnectionLost: func(err error) {
			s.logger.Warn("Push channel dropped",
				zap.Error(&kioskerr.ChannelError{Op: "mqtt", Err: err}),
			)
			onState(models.ConnectionDisconnected)
		},
		OnReconnecting: func() {
			onState(models.ConnectionConnecting)
		},
	})
	if err != nil {
		onState(models.ConnectionDisconnected)
		return &kioskerr.ChannelError{Op: "mqtt connect", Err: err}
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *MQTTSource) handleMessage(topic string, payload []byte) error {
	n, err := models.ParseNotification(payload)
	if err != nil {
		return fmt.Errorf("invalid checkin message on %s: %w", topic, err)
	}

	s.mu.Lock()
	handler, stopped := s.handler, s.stopped
	s.mu.Unlock()
	if stopped || handler == nil {
		return nil
	}
	handler(n)
	return nil
}

func (s *MQTTSource) Stop() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.stopped = true
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Unsubscribe(s.cfg.Topic); err != nil {
		s.logger.Debug("Failed to unsubscribe on stop", zap.Error(err))
	}
	client.Disconnect()
	return nil
}
