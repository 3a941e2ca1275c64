// Package kioskerr 签到看板的错误分类
//
// 四类错误都在发生的组件边界被捕获，转换为可见状态（连接指示）或静默降级路径，
// 都不会终止显示站进程。
package kioskerr

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied 摄像头权限被拒绝
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrCameraNotFound 没有满足约束的摄像头
	ErrCameraNotFound = errors.New("no camera matches the constraints")
	// ErrNotFound 目录中不存在该记录
	ErrNotFound = errors.New("record not found")
	// ErrUnknownCredential 扫到的凭证无法对应到未签到的人
	ErrUnknownCredential = errors.New("credential does not resolve to a pending subject")
)

// DeviceError 摄像头不可用或被拒绝（可恢复，转人工确认）
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("device error: %s: %v", e.Op, e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// NetworkError 目录请求失败（可恢复，退回缓存或最小记录）
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ChannelError 推送连接断开（显示为断线指示，重连由通道自身负责）
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string { return fmt.Sprintf("channel error: %s: %v", e.Op, e.Err) }
func (e *ChannelError) Unwrap() error { return e.Err }

// AnnouncementError 语音引擎出错（可恢复，走降级播报）
type AnnouncementError struct {
	Op  string
	Err error
}

func (e *AnnouncementError) Error() string {
	return fmt.Sprintf("announcement error: %s: %v", e.Op, e.Err)
}
func (e *AnnouncementError) Unwrap() error { return e.Err }

// IsDeviceError 判断是否为设备错误
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// IsNetworkError 判断是否为网络错误
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
