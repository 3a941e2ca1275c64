package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // 注册 JPEG 解码
	_ "image/png"  // 注册 PNG 解码
	"net/http"
	"sync"
	"time"

	"wisefido-kiosk/internal/kioskerr"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Camera 网络摄像头（快照地址 + 朝向）
type Camera struct {
	Facing string
	URL    string
}

// SnapshotDevice 轮询网络摄像头快照地址的设备
type SnapshotDevice struct {
	cameras    []Camera
	interval   time.Duration
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewSnapshotDevice 创建快照摄像头设备，interval 为取帧间隔
func NewSnapshotDevice(cameras []Camera, interval time.Duration, logger *zap.Logger) *SnapshotDevice {
	httpClient := resty.New().
		SetTimeout(5 * time.Second).
		SetHeader("Accept", "image/jpeg, image/png")

	return &SnapshotDevice{
		cameras:    cameras,
		interval:   interval,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Open 选择满足约束的第一个摄像头，取到第一帧前即返回
// 首次探测遇到 401/403 视为权限被拒绝
func (d *SnapshotDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	var cam *Camera
	for i := range d.cameras {
		if c.Facing == FacingAny || d.cameras[i].Facing == c.Facing {
			cam = &d.cameras[i]
			break
		}
	}
	if cam == nil {
		return nil, kioskerr.ErrCameraNotFound
	}

	resp, err := d.httpClient.R().SetContext(ctx).Head(cam.URL)
	if err != nil {
		return nil, fmt.Errorf("camera %s unreachable: %w", cam.URL, err)
	}
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, kioskerr.ErrPermissionDenied
	case http.StatusNotFound:
		return nil, kioskerr.ErrCameraNotFound
	}

	// 取帧 goroutine 的生命周期属于流本身，不随 Open 的 ctx 结束
	streamCtx, cancel := context.WithCancel(context.Background())
	s := &snapshotStream{
		url:        cam.URL,
		interval:   d.interval,
		httpClient: d.httpClient,
		logger:     d.logger,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.poll(streamCtx)

	d.logger.Info("Camera opened",
		zap.String("facing", cam.Facing),
		zap.String("url", cam.URL),
	)
	return s, nil
}

// snapshotStream 后台持续拉取快照，保留最新一帧
type snapshotStream struct {
	url        string
	interval   time.Duration
	httpClient *resty.Client
	logger     *zap.Logger

	mu     sync.RWMutex
	latest image.Image
	err    error

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (s *snapshotStream) poll(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		img, err := s.fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if err == nil {
			s.latest = img
		}
		s.err = err
		s.mu.Unlock()
		if err != nil {
			s.logger.Debug("Failed to fetch camera frame", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *snapshotStream) fetch(ctx context.Context) (image.Image, error) {
	resp, err := s.httpClient.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("camera returned status %d", resp.StatusCode())
	}
	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode camera frame: %w", err)
	}
	return img, nil
}

func (s *snapshotStream) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest != nil
}

func (s *snapshotStream) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		if s.err != nil {
			return nil, s.err
		}
		return nil, fmt.Errorf("no frame yet")
	}
	return s.latest, nil
}

// Stop 停止取帧并等待 goroutine 退出
func (s *snapshotStream) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
