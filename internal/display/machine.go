// Package display 看板显示状态机：当前签到记录、最近列表与自动隐藏定时器
package display

import (
	"sync"
	"time"

	"wisefido-kiosk/internal/clock"
	"wisefido-kiosk/internal/models"

	"go.uber.org/zap"
)

// State 显示状态
type State string

const (
	StateEmpty   State = "empty"
	StateShowing State = "showing"
	StateHiding  State = "hiding"
)

// Snapshot 某一时刻的显示状态（不可变副本）
type Snapshot struct {
	State   State                  `json:"state"`
	Current *models.DisplayRecord  `json:"current,omitempty"`
	Recent  []models.DisplayRecord `json:"recent"`
	ShownAt *time.Time             `json:"shown_at,omitempty"`
	HideAt  *time.Time             `json:"hide_at,omitempty"`
}

// Observer 状态变化回调
// 在状态机锁内同步调用，不得回调 Machine，耗时操作需自行转交
type Observer func(Snapshot)

// Machine 显示状态机
// 同一时刻至多一条当前记录，只有一个隐藏定时器
type Machine struct {
	mu         sync.Mutex
	clock      clock.Clock
	hideWindow time.Duration
	logger     *zap.Logger

	state   State
	current *models.DisplayRecord
	shownAt time.Time
	recent  *RecentList

	timer      clock.Timer
	generation uint64 // 每次 Show 递增，过期回调据此忽略旧定时器

	observers map[int]Observer
	nextObsID int
	closed    bool
}

// NewMachine 创建显示状态机
func NewMachine(hideWindow time.Duration, recentLimit int, clk clock.Clock, logger *zap.Logger) *Machine {
	if clk == nil {
		clk = clock.New()
	}
	return &Machine{
		clock:      clk,
		hideWindow: hideWindow,
		logger:     logger,
		state:      StateEmpty,
		recent:     NewRecentList(recentLimit),
		observers:  make(map[int]Observer),
	}
}

// Show 设置当前记录并重启隐藏定时器
// 替换正在显示的记录时，旧记录不会再被显示
func (m *Machine) Show(rec models.DisplayRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	m.generation++
	gen := m.generation

	r := rec
	m.current = &r
	m.shownAt = m.clock.Now()
	m.state = StateShowing
	m.recent.Push(rec)
	m.timer = m.clock.AfterFunc(m.hideWindow, func() { m.expire(gen) })

	m.logger.Debug("Display showing record",
		zap.String("subject_id", rec.ID),
		zap.Duration("hide_window", m.hideWindow),
	)
	m.notifyLocked()
}

// Seed 用启动时加载的数据填充最近列表，当前记录保持为空
func (m *Machine) Seed(recent []models.DisplayRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.recent.Replace(recent)
	m.notifyLocked()
}

func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// 定时器已被新的 Show 取代
	if m.closed || gen != m.generation {
		return
	}

	m.state = StateHiding
	m.notifyLocked()

	m.current = nil
	m.timer = nil
	m.state = StateEmpty
	m.logger.Debug("Display hidden after timeout")
	m.notifyLocked()
}

// Snapshot 返回当前状态
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:  m.state,
		Recent: m.recent.Items(),
	}
	if m.current != nil {
		cur := *m.current
		snap.Current = &cur
		shown := m.shownAt
		hide := shown.Add(m.hideWindow)
		snap.ShownAt = &shown
		snap.HideAt = &hide
	}
	return snap
}

// Subscribe 注册状态观察者，返回取消函数
func (m *Machine) Subscribe(obs Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = obs
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

func (m *Machine) notifyLocked() {
	if len(m.observers) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, obs := range m.observers {
		obs(snap)
	}
}

// Close 停止隐藏定时器并移除所有观察者
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	m.observers = make(map[int]Observer)
}
