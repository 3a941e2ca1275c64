package capture

import (
	"context"
	"image"
)

// 摄像头朝向
const (
	FacingEnvironment = "environment" // 后置
	FacingUser        = "user"        // 前置
	FacingAny         = ""
)

// Constraints 打开摄像头的约束
type Constraints struct {
	Facing string
}

// Device 摄像头授权与取流
// 权限被拒绝时返回 kioskerr.ErrPermissionDenied，无匹配设备时返回 kioskerr.ErrCameraNotFound
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream 实时视频流
type Stream interface {
	// Ready 设备已开始输出帧
	Ready() bool
	// Frame 当前帧
	Frame() (image.Image, error)
	// Stop 停止所有轨道，可重复调用
	Stop() error
}

// Sink 实时预览输出
type Sink interface {
	Attach(s Stream)
	Detach()
}

// NopSink 无预览
type NopSink struct{}

func (NopSink) Attach(Stream) {}
func (NopSink) Detach()       {}
