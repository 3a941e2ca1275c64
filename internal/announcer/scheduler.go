package announcer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-kiosk/internal/clock"
	"wisefido-kiosk/internal/kioskerr"

	"go.uber.org/zap"
)

// ErrVoiceNotFound 指定的音色不在当前列表中
var ErrVoiceNotFound = errors.New("voice not available")

// Options 播报调度配置
type Options struct {
	Lang              string
	VoiceMarkers      []string
	KeepaliveInterval time.Duration
	UnlockPhrase      string
}

// SoundState 提供给看板界面的播报状态（未解锁时界面显示"开启声音"提示）
type SoundState struct {
	Unlocked   bool   `json:"unlocked"`
	Muted      bool   `json:"muted"`
	Voice      *Voice `json:"voice,omitempty"`
	UserPicked bool   `json:"user_picked"`
	VoiceCount int    `json:"voice_count"`
}

// Scheduler 播报调度器（每个进程一个）
// 所有对引擎的调用在锁内串行，保证任一时刻只有一条播报
type Scheduler struct {
	mu     sync.Mutex
	engine Engine
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	unlocked bool
	muted    bool
	voices   []Voice
	loaded   bool   // 已尝试加载音色列表，之后只由 VoicesChanged 刷新
	voice    *Voice // 缓存的选择结果
	picked   string // 用户显式选择的音色 ID

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler 创建播报调度器
func NewScheduler(engine Engine, opts Options, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		engine: engine,
		opts:   opts,
		clock:  clk,
		logger: logger,
	}
}

// Start 加载音色并启动保活
// 保活与静音无关，一直运行到 Close
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.VoicesChanged(ctx)

	if s.opts.KeepaliveInterval <= 0 {
		close(s.done)
		return
	}
	ticker := s.clock.NewTicker(s.opts.KeepaliveInterval)
	go s.keepalive(ctx, ticker)
}

func (s *Scheduler) keepalive(ctx context.Context, ticker clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.mu.Lock()
			err := s.engine.Resume()
			s.mu.Unlock()
			if err != nil {
				s.logger.Warn("Speech engine keepalive failed",
					zap.Error(&kioskerr.AnnouncementError{Op: "resume", Err: err}),
				)
			}
		}
	}
}

// Close 停止保活并取消正在进行的播报
func (s *Scheduler) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Cancel(); err != nil {
		s.logger.Debug("Failed to cancel utterance on close", zap.Error(err))
	}
}

// Unlock 用户手势解锁，每个会话只生效一次
// 首次调用返回 true 并播报解锁提示语，之后的调用不改变任何状态
func (s *Scheduler) Unlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlocked {
		return false
	}
	s.unlocked = true
	s.logger.Info("Announcements unlocked")

	if s.opts.UnlockPhrase != "" {
		s.speakLocked(s.opts.UnlockPhrase)
	}
	return true
}

// Speak 播报文本：静音或未解锁时不做任何事
// 否则先取消当前播报再播报这一条（后到者覆盖，不排队）
func (s *Scheduler) Speak(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked || s.muted || text == "" {
		return
	}
	s.speakLocked(text)
}

func (s *Scheduler) speakLocked(text string) {
	if s.muted {
		return
	}
	ctx := context.Background()

	u := Utterance{Text: text, Lang: s.opts.Lang}
	if v := s.currentVoiceLocked(ctx); v != nil {
		u.VoiceID = v.ID
		u.Lang = v.Lang
	}

	err := s.cancelAndSpeak(ctx, u)
	if err == nil {
		return
	}
	s.logger.Warn("Primary speak path failed, using default voice", zap.Error(err))

	// 降级：默认音色、默认区域的单条播报
	if fallbackErr := s.cancelAndSpeak(ctx, Utterance{Text: text}); fallbackErr != nil {
		s.logger.Error("Announcement failed",
			zap.Error(&kioskerr.AnnouncementError{Op: "speak", Err: fallbackErr}),
		)
	}
}

func (s *Scheduler) cancelAndSpeak(ctx context.Context, u Utterance) error {
	if err := s.engine.Cancel(); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if err := s.engine.Speak(ctx, u); err != nil {
		return fmt.Errorf("speak: %w", err)
	}
	return nil
}

// currentVoiceLocked 返回缓存的音色，首次使用时加载音色列表
// 加载失败或列表为空时不在每次播报时重试
func (s *Scheduler) currentVoiceLocked(ctx context.Context) *Voice {
	if !s.loaded {
		s.reloadLocked(ctx)
	}
	return s.voice
}

// VoicesChanged 引擎音色列表变化时重新加载并重新选择
func (s *Scheduler) VoicesChanged(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadLocked(ctx)
}

func (s *Scheduler) reloadLocked(ctx context.Context) {
	s.loaded = true
	voices, err := s.engine.Voices(ctx)
	if err != nil {
		s.logger.Warn("Failed to list voices",
			zap.Error(&kioskerr.AnnouncementError{Op: "voices", Err: err}),
		)
		return
	}
	s.voices = voices
	s.selectLocked()
}

// selectLocked 用户显式选择优先，其次按启发式选择
func (s *Scheduler) selectLocked() {
	if s.picked != "" {
		for _, v := range s.voices {
			if v.ID == s.picked {
				picked := v
				s.voice = &picked
				return
			}
		}
		// 用户选择的音色已不在列表中
		s.picked = ""
	}

	v, ok := SelectVoice(s.voices, s.opts.Lang, s.opts.VoiceMarkers)
	if !ok {
		s.voice = nil
		return
	}
	s.voice = &v
	s.logger.Debug("Voice selected",
		zap.String("voice_id", v.ID),
		zap.String("voice_name", v.Name),
		zap.String("lang", v.Lang),
	)
}

// PickVoice 用户显式选择音色（按 ID 或名称）
func (s *Scheduler) PickVoice(idOrName string) (Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.voices {
		if v.ID == idOrName || v.Name == idOrName {
			s.picked = v.ID
			s.selectLocked()
			return v, nil
		}
	}
	return Voice{}, fmt.Errorf("%w: %q", ErrVoiceNotFound, idOrName)
}

// SetMuted 静音时同时取消正在进行的播报
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if muted {
		if err := s.engine.Cancel(); err != nil {
			s.logger.Debug("Failed to cancel utterance on mute", zap.Error(err))
		}
	}
}

// Voices 当前音色列表快照
func (s *Scheduler) Voices() []Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// State 播报状态快照
func (s *Scheduler) State() SoundState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SoundState{
		Unlocked:   s.unlocked,
		Muted:      s.muted,
		UserPicked: s.picked != "",
		VoiceCount: len(s.voices),
	}
	if s.voice != nil {
		v := *s.voice
		st.Voice = &v
	}
	return st
}
