package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"wisefido-kiosk/internal/capture"
	"wisefido-kiosk/internal/config"
	"wisefido-kiosk/internal/kioskerr"
	"wisefido-kiosk/internal/submission"

	"go.uber.org/zap"
)

// 扫码站对访客显示的提示
const (
	msgScanReady      = "Ready to scan."
	msgSubmitted      = "Check-in received."
	msgCheckinFailed  = "Check-in failed. Please see the front desk."
	msgNetworkFailed  = "Check-in could not be sent. Please try again."
	msgManualFallback = "Camera unavailable. Type the credential and press Enter."
)

// ScanLoop 扫码采样循环
type ScanLoop interface {
	Start(ctx context.Context, onResult func(text string)) error
	Stop()
}

// Submitter 签到提交
type Submitter interface {
	Submit(ctx context.Context, credential string, manual bool) error
}

// ScannerService 扫码站：采样循环 → 解码 → 提交，摄像头不可用时转为手动输入
type ScannerService struct {
	loop      ScanLoop
	submitter Submitter
	cooldown  time.Duration
	input     io.Reader
	output    io.Writer
	logger    *zap.Logger
}

// NewScannerService 按配置组装扫码站，手动输入从 input 读取，提示写到 output
func NewScannerService(cfg *config.Config, input io.Reader, output io.Writer, logger *zap.Logger) (*ScannerService, error) {
	if len(cfg.Capture.Cameras) == 0 {
		logger.Warn("No cameras configured, scanner will use manual confirmation")
	}
	cameras := make([]capture.Camera, 0, len(cfg.Capture.Cameras))
	for _, c := range cfg.Capture.Cameras {
		cameras = append(cameras, capture.Camera{Facing: c.Facing, URL: c.URL})
	}

	device := capture.NewSnapshotDevice(cameras, cfg.Capture.Tick, logger)
	loop := capture.NewLoop(device, nil, capture.Options{
		Tick:        cfg.Capture.Tick,
		FrameWidth:  cfg.Capture.FrameWidth,
		FrameHeight: cfg.Capture.FrameHeight,
	}, nil, logger)
	submitter := submission.NewClient(cfg.Capture.SubmitURL, cfg.Station.ID, cfg.Directory.Timeout, logger)

	return newScannerService(loop, submitter, cfg.Capture.Cooldown, input, output, logger), nil
}

func newScannerService(loop ScanLoop, submitter Submitter, cooldown time.Duration, input io.Reader, output io.Writer, logger *zap.Logger) *ScannerService {
	return &ScannerService{
		loop:      loop,
		submitter: submitter,
		cooldown:  cooldown,
		input:     input,
		output:    output,
		logger:    logger,
	}
}

// Start 循环扫码直到 ctx 取消；摄像头不可用时转入手动输入直到输入结束
func (s *ScannerService) Start(ctx context.Context) error {
	for {
		text, err := s.scanOnce(ctx)
		if err != nil {
			// Stop 在摄像头申请期间到达也视为正常退出
			if ctx.Err() != nil || errors.Is(err, capture.ErrStopped) {
				return nil
			}
			if kioskerr.IsDeviceError(err) {
				s.logger.Warn("Falling back to manual confirmation", zap.Error(err))
				return s.manual(ctx)
			}
			return err
		}

		s.submit(ctx, text, false)
		if !sleepCtx(ctx, s.cooldown) {
			return nil
		}
	}
}

// scanOnce 扫一次码，摄像头在回调前已释放
func (s *ScannerService) scanOnce(ctx context.Context) (string, error) {
	results := make(chan string, 1)
	if err := s.loop.Start(ctx, func(text string) { results <- text }); err != nil {
		return "", err
	}
	s.say(msgScanReady)

	select {
	case text := <-results:
		return text, nil
	case <-ctx.Done():
		s.loop.Stop()
		return "", ctx.Err()
	}
}

// manual 手动确认：每行一个凭证，空行忽略
func (s *ScannerService) manual(ctx context.Context) error {
	s.say(msgManualFallback)

	// 读取阻塞且不可取消，放在独立 goroutine
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read manual input: %w", err)
			}
			return nil
		case line := <-lines:
			credential := strings.TrimSpace(line)
			if credential == "" {
				continue
			}
			s.submit(ctx, credential, true)
		}
	}
}

func (s *ScannerService) submit(ctx context.Context, credential string, manual bool) {
	err := s.submitter.Submit(ctx, credential, manual)
	switch {
	case err == nil:
		s.say(msgSubmitted)
	case errors.Is(err, kioskerr.ErrUnknownCredential):
		// 不区分原因，避免泄露名单信息
		s.logger.Info("Credential rejected", zap.Bool("manual", manual))
		s.say(msgCheckinFailed)
	default:
		s.logger.Warn("Failed to submit checkin", zap.Bool("manual", manual), zap.Error(err))
		s.say(msgNetworkFailed)
	}
}

func (s *ScannerService) say(msg string) {
	if s.output != nil {
		_, _ = fmt.Fprintln(s.output, msg)
	}
}

// Stop 释放摄像头
func (s *ScannerService) Stop(_ context.Context) error {
	s.loop.Stop()
	s.logger.Info("Kiosk scanner stopped")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
