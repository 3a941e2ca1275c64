package models

// ConnectionState 推送通道连接状态（仅由通道生命周期信号驱动）
type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
)

func (s ConnectionState) String() string { return string(s) }
