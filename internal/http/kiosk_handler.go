package httpapi

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"wisefido-kiosk/internal/announcer"
	"wisefido-kiosk/internal/display"
	"wisefido-kiosk/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DisplayView 显示状态机的只读视图
type DisplayView interface {
	Snapshot() display.Snapshot
	Subscribe(obs display.Observer) func()
}

// SoundControl 播报调度器的屏幕控制面
type SoundControl interface {
	Unlock() bool
	SetMuted(muted bool)
	Voices() []announcer.Voice
	PickVoice(idOrName string) (announcer.Voice, error)
	State() announcer.SoundState
}

// ConnectionView 推送通道连接状态
type ConnectionView interface {
	ConnectionState() models.ConnectionState
}

// KioskView 看板屏幕一次性拉取的完整状态
type KioskView struct {
	StationID  string                 `json:"station_id"`
	Display    display.Snapshot       `json:"display"`
	Connection models.ConnectionState `json:"connection"`
	Sound      announcer.SoundState   `json:"sound"`
}

// KioskHandler 看板屏幕接口
type KioskHandler struct {
	stationID  string
	display    DisplayView
	sound      SoundControl
	connection ConnectionView
	logger     *zap.Logger

	// 关闭时结束所有 SSE 连接，避免 Shutdown 等待长连接
	done      chan struct{}
	closeOnce sync.Once
}

// NewKioskHandler 创建看板接口
func NewKioskHandler(stationID string, view DisplayView, sound SoundControl, conn ConnectionView, logger *zap.Logger) *KioskHandler {
	return &KioskHandler{
		stationID:  stationID,
		display:    view,
		sound:      sound,
		connection: conn,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Close 结束所有进行中的 SSE 连接
func (h *KioskHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *KioskHandler) view() KioskView {
	return KioskView{
		StationID:  h.stationID,
		Display:    h.display.Snapshot(),
		Connection: h.connection.ConnectionState(),
		Sound:      h.sound.State(),
	}
}

// GetDisplay GET /api/v1/display
func (h *KioskHandler) GetDisplay(c *gin.Context) {
	ok(c, h.view())
}

// StreamDisplay GET /api/v1/display/stream
// 先推送当前快照，之后每次状态变化推送一次；客户端跟不上时丢弃中间状态
func (h *KioskHandler) StreamDisplay(c *gin.Context) {
	updates := make(chan display.Snapshot, 8)
	unsubscribe := h.display.Subscribe(func(s display.Snapshot) {
		// 观察者在状态机锁内被调用，不能阻塞
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("display", h.display.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.done:
			return false
		case s := <-updates:
			c.SSEvent("display", s)
			return true
		}
	})
}

// Unlock POST /api/v1/sound/unlock
// 屏幕上的"开启声音"手势，重复调用不会再次播报
func (h *KioskHandler) Unlock(c *gin.Context) {
	first := h.sound.Unlock()
	ok(c, gin.H{
		"unlocked": true,
		"first":    first,
		"sound":    h.sound.State(),
	})
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

// Mute POST /api/v1/sound/mute
func (h *KioskHandler) Mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ResultBadRequest, "muted is required")
		return
	}
	h.sound.SetMuted(*req.Muted)
	h.logger.Info("Announcements mute changed", zap.Bool("muted", *req.Muted))
	ok(c, h.sound.State())
}

// ListVoices GET /api/v1/sound/voices
func (h *KioskHandler) ListVoices(c *gin.Context) {
	ok(c, gin.H{
		"voices": h.sound.Voices(),
		"sound":  h.sound.State(),
	})
}

type pickVoiceRequest struct {
	Voice string `json:"voice" binding:"required"`
}

// PickVoice POST /api/v1/sound/voice
func (h *KioskHandler) PickVoice(c *gin.Context) {
	var req pickVoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ResultBadRequest, "voice is required")
		return
	}
	v, err := h.sound.PickVoice(req.Voice)
	if errors.Is(err, announcer.ErrVoiceNotFound) {
		fail(c, http.StatusNotFound, ResultNotFound, err.Error())
		return
	}
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ResultError, "failed to pick voice")
		return
	}
	ok(c, v)
}
