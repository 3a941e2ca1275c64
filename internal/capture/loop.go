package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"wisefido-kiosk/internal/clock"
	"wisefido-kiosk/internal/kioskerr"

	"go.uber.org/zap"
)

// State 采样循环状态
// idle → requesting → scanning → (decoded | stopped | error) → idle
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateScanning   State = "scanning"
	StateDecoded    State = "decoded"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

var (
	// ErrBusy 上一次扫码尚未结束
	ErrBusy = errors.New("capture loop is not idle")
	// ErrStopped 摄像头申请期间被 Stop
	ErrStopped = errors.New("capture loop stopped before the camera opened")
)

// Options 采样循环配置
type Options struct {
	Tick        time.Duration // 采样间隔，约等于一帧
	FrameWidth  int
	FrameHeight int
}

// DecodeFunc 帧识别函数
type DecodeFunc func(img image.Image) (string, bool)

// Loop 扫码采样循环，摄像头在其生命周期内只属于它
type Loop struct {
	device Device
	sink   Sink
	opts   Options
	decode DecodeFunc
	clock  clock.Clock
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	lastOutcome State
	stream      Stream
	session     *session
}

// session 一次扫码
type session struct {
	cancel   context.CancelFunc
	done     chan struct{}
	released bool
	opening  bool // device.Open 进行中，由 Start 负责回到 idle
}

// NewLoop 创建采样循环
func NewLoop(device Device, sink Sink, opts Options, clk clock.Clock, logger *zap.Logger) *Loop {
	if sink == nil {
		sink = NopSink{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		device: device,
		sink:   sink,
		opts:   opts,
		decode: Decode,
		clock:  clk,
		logger: logger,
		state:  StateIdle,
	}
}

// Start 申请摄像头（优先后置，失败退回任意摄像头）并开始采样
// 识别成功时 onResult 恰好调用一次，调用前摄像头已释放
// 摄像头不可用时返回 *kioskerr.DeviceError；申请期间被 Stop 时返回 ErrStopped，已打开的流立即释放
func (l *Loop) Start(ctx context.Context, onResult func(text string)) error {
	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return ErrBusy
	}
	// 会话在申请前建立，Stop 在申请期间也能找到并取消它
	ctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{}), opening: true}
	l.session = s
	l.state = StateRequesting
	l.mu.Unlock()

	stream, err := l.open(ctx)

	l.mu.Lock()
	s.opening = false
	if s.released {
		l.state = StateIdle
		l.mu.Unlock()
		if stream != nil {
			if stopErr := stream.Stop(); stopErr != nil {
				l.logger.Warn("Failed to stop camera stream", zap.Error(stopErr))
			}
		}
		close(s.done)
		l.logger.Info("Capture loop stopped while requesting camera")
		return ErrStopped
	}
	if err != nil {
		s.released = true
		cancel()
		l.session = nil
		l.lastOutcome = StateError
		l.state = StateIdle
		l.mu.Unlock()
		close(s.done)
		l.logger.Warn("Camera unavailable", zap.Error(err))
		return err
	}

	l.stream = stream
	l.sink.Attach(stream)
	l.state = StateScanning
	l.mu.Unlock()

	// ticker 在返回前创建，保证调用方推进时钟时已就绪
	ticker := l.clock.NewTicker(l.opts.Tick)
	go l.run(ctx, s, stream, ticker, onResult)

	l.logger.Info("Capture loop started")
	return nil
}

func (l *Loop) open(ctx context.Context) (Stream, error) {
	stream, err := l.device.Open(ctx, Constraints{Facing: FacingEnvironment})
	if err == nil {
		return stream, nil
	}
	// 权限被拒绝时换摄像头没有意义
	if errors.Is(err, kioskerr.ErrPermissionDenied) {
		return nil, &kioskerr.DeviceError{Op: "open camera", Err: err}
	}

	l.logger.Debug("Rear camera unavailable, trying any camera", zap.Error(err))
	stream, err = l.device.Open(ctx, Constraints{Facing: FacingAny})
	if err != nil {
		return nil, &kioskerr.DeviceError{Op: "open camera", Err: err}
	}
	return stream, nil
}

func (l *Loop) run(ctx context.Context, s *session, stream Stream, ticker clock.Ticker, onResult func(string)) {
	defer close(s.done)
	defer ticker.Stop()

	raster := NewRasterizer(l.opts.FrameWidth, l.opts.FrameHeight)
	for {
		select {
		case <-ctx.Done():
			l.release(s, StateStopped)
			return
		case <-ticker.C():
		}

		// 设备尚未出帧，等下一次
		if !stream.Ready() {
			continue
		}
		frame, err := stream.Frame()
		if err != nil {
			l.logger.Debug("Failed to read frame", zap.Error(err))
			continue
		}

		text, ok := l.decode(raster.Rasterize(frame))
		if !ok {
			continue
		}

		// Stop 可能已抢先释放，此时不再回调
		if !l.release(s, StateDecoded) {
			return
		}
		l.logger.Info("Credential decoded")
		onResult(text)
		return
	}
}

// release 停止所有轨道、解除预览并回到 idle，只有第一次调用生效
func (l *Loop) release(s *session, outcome State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	s.cancel()

	if l.stream != nil {
		if err := l.stream.Stop(); err != nil {
			l.logger.Warn("Failed to stop camera stream", zap.Error(err))
		}
		l.sink.Detach()
		l.stream = nil
	}
	if l.session == s {
		l.session = nil
	}

	// 终止状态只记录在 lastOutcome，循环立即回到 idle
	l.lastOutcome = outcome
	if !s.opening {
		l.state = StateIdle
	}
	return true
}

// Stop 取消采样并同步释放摄像头，可重复调用
// 申请期间调用时等待申请返回并释放已打开的流；在 onResult 内调用也是安全的
func (l *Loop) Stop() {
	l.mu.Lock()
	s := l.session
	l.mu.Unlock()
	if s == nil {
		return
	}

	if l.release(s, StateStopped) {
		l.logger.Info("Capture loop stopped")
	}
	<-s.done
}

// State 当前状态
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// LastOutcome 上一次扫码的结束状态（decoded / stopped / error）
func (l *Loop) LastOutcome() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastOutcome
}

// Stream 当前持有的视频流，释放后为 nil
func (l *Loop) Stream() Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream
}
