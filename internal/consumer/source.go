package consumer

import (
	"context"

	"wisefido-kiosk/internal/models"
)

// Handler 收到签到通知时调用（按到达顺序）
type Handler func(n models.CheckinNotification)

// StateFunc 通道连接状态变化时调用
type StateFunc func(state models.ConnectionState)

// Source 推送通道
// Start 不阻塞，连接与重连在后台进行；Stop 同步返回，之后不再调用 handler
type Source interface {
	Name() string
	Start(ctx context.Context, handler Handler, onState StateFunc) error
	Stop() error
}
