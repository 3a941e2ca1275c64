package mqtt

import (
	"fmt"
	"time"

	"wisefido-kiosk/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数类型
type MessageHandler func(topic string, payload []byte) error

// Hooks 连接生命周期回调（均在 paho 内部 goroutine 中调用）
type Hooks struct {
	OnConnect        func(c *Client) // 每次（重新）连接成功后调用，clean session 下需在此重新订阅
	OnConnectionLost func(err error)
	OnReconnecting   func()
}

// Client MQTT客户端封装
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewClient 创建MQTT客户端并发起连接
//
// 连接超时不视为错误：客户端启用了 ConnectRetry，会在后台继续重连，
// 连接状态通过 Hooks 通知调用方。
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger, hooks Hooks) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	c := &Client{
		config: cfg,
		logger: logger,
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	if cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT connection established",
			zap.String("broker", cfg.Broker),
			zap.String("client_id", cfg.ClientID),
		)
		if hooks.OnConnect != nil {
			hooks.OnConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, waiting for automatic reconnection",
			zap.String("broker", cfg.Broker),
			zap.Error(err),
		)
		if hooks.OnConnectionLost != nil {
			hooks.OnConnectionLost(err)
		}
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		if hooks.OnReconnecting != nil {
			hooks.OnReconnecting()
		}
	})

	c.client = mqtt.NewClient(opts)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		logger.Warn("MQTT connect timeout, retrying in background",
			zap.String("broker", cfg.Broker),
			zap.Duration("timeout", timeout),
		)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return c, nil
}

// Subscribe 订阅主题
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			// 记录错误，但不中断处理
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
