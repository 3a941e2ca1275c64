// Package consumer 签到事件消费：去重、按序补全并分发到显示与播报
package consumer

import (
	"context"
	"sync"
	"time"

	"wisefido-kiosk/internal/clock"
	"wisefido-kiosk/internal/models"

	"go.uber.org/zap"
)

// Enricher 目录补全
type Enricher interface {
	LoadByID(ctx context.Context, id string) (models.DisplayRecord, error)
	Lookup(ctx context.Context, id string) (models.DisplayRecord, bool)
}

// Display 显示状态机
type Display interface {
	Show(rec models.DisplayRecord)
}

// Announcer 语音播报
type Announcer interface {
	Speak(text string)
}

// ArrivalRecorder 到达记录（可选）
type ArrivalRecorder interface {
	RecordArrival(ctx context.Context, stationID string, rec models.DisplayRecord, receivedAt time.Time) error
}

// Options 消费者配置
type Options struct {
	StationID     string
	DedupWindow   time.Duration
	EnrichTimeout time.Duration
	QueueSize     int
	Greeting      string
}

// DedupEntry 单槽去重记录（只记住最近一个主体）
type DedupEntry struct {
	SubjectID   string
	LastShownAt time.Time
}

type arrival struct {
	n          models.CheckinNotification
	receivedAt time.Time
}

// pending 正在补全的通知，done 关闭后 rec 可读
type pending struct {
	arrival
	rec  models.DisplayRecord
	done chan struct{}
}

// Consumer 签到事件消费者
//
// intake goroutine 按到达顺序完成过滤、去重并发起并发补全，
// applier goroutine 按同样的顺序等待补全结果并应用，
// 因此较慢的查询不会覆盖之后到达的记录。
type Consumer struct {
	opts      Options
	enricher  Enricher
	display   Display
	announcer Announcer
	recorder  ArrivalRecorder
	clock     clock.Clock
	logger    *zap.Logger

	intake  chan arrival
	ordered chan *pending

	dedup DedupEntry // 仅 intake goroutine 访问

	stateMu   sync.RWMutex
	state     models.ConnectionState
	stateSubs []StateFunc

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewConsumer 创建消费者，recorder 可为 nil
func NewConsumer(
	opts Options,
	enricher Enricher,
	display Display,
	announcer Announcer,
	recorder ArrivalRecorder,
	clk clock.Clock,
	logger *zap.Logger,
) *Consumer {
	if clk == nil {
		clk = clock.New()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Consumer{
		opts:      opts,
		enricher:  enricher,
		display:   display,
		announcer: announcer,
		recorder:  recorder,
		clock:     clk,
		logger:    logger,
		intake:    make(chan arrival, opts.QueueSize),
		ordered:   make(chan *pending, opts.QueueSize),
		state:     models.ConnectionConnecting,
		stopped:   make(chan struct{}),
	}
}

// Start 启动处理 goroutine
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.runIntake(ctx)
	go c.runApplier(ctx)
	go func() {
		<-ctx.Done()
		c.markStopped()
	}()

	c.logger.Info("Checkin consumer started",
		zap.String("station_id", c.opts.StationID),
		zap.Duration("dedup_window", c.opts.DedupWindow),
	)
}

// Stop 停止处理并等待 goroutine 退出，进行中的补全被取消
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	c.markStopped()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.logger.Info("Checkin consumer stopped")
}

func (c *Consumer) markStopped() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Receive 接收一条通知，到达时间在此刻记录
// 可作为 Source 的 Handler
func (c *Consumer) Receive(n models.CheckinNotification) {
	a := arrival{n: n, receivedAt: c.clock.Now()}
	select {
	case <-c.stopped:
		c.logger.Debug("Dropping notification after stop", zap.String("subject_id", n.SubjectID))
	case c.intake <- a:
	}
}

func (c *Consumer) runIntake(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.ordered)

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-c.intake:
			p, ok := c.admit(a)
			if !ok {
				continue
			}
			c.wg.Add(1)
			go c.enrich(ctx, p)
			select {
			case c.ordered <- p:
			case <-ctx.Done():
				return
			}
		}
	}
}

// admit 过滤签退与窗口内重复，通过时更新去重记录
// 边界：间隔恰好等于窗口时不视为重复
func (c *Consumer) admit(a arrival) (*pending, bool) {
	if !a.n.CheckedIn {
		c.logger.Debug("Ignoring non-arrival notification", zap.String("subject_id", a.n.SubjectID))
		return nil, false
	}

	if c.dedup.SubjectID == a.n.SubjectID && a.receivedAt.Sub(c.dedup.LastShownAt) < c.opts.DedupWindow {
		c.logger.Debug("Duplicate notification discarded",
			zap.String("subject_id", a.n.SubjectID),
			zap.Duration("since_last", a.receivedAt.Sub(c.dedup.LastShownAt)),
		)
		return nil, false
	}

	c.dedup = DedupEntry{SubjectID: a.n.SubjectID, LastShownAt: a.receivedAt}
	return &pending{arrival: a, done: make(chan struct{})}, true
}

// enrich 补全顺序：目录查询 > 缓存 > 仅凭通知的最小记录
func (c *Consumer) enrich(ctx context.Context, p *pending) {
	defer c.wg.Done()
	defer close(p.done)

	lookupCtx := ctx
	if c.opts.EnrichTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, c.opts.EnrichTimeout)
		defer cancel()
	}

	rec, err := c.enricher.LoadByID(lookupCtx, p.n.SubjectID)
	if err != nil {
		cached, ok := c.enricher.Lookup(ctx, p.n.SubjectID)
		if ok {
			rec = cached
		} else {
			rec = models.MinimalRecord(p.n)
		}
		c.logger.Warn("Directory lookup failed, using fallback record",
			zap.String("subject_id", p.n.SubjectID),
			zap.Bool("from_cache", ok),
			zap.Error(err),
		)
	}

	p.rec = rec.WithCheckin(p.n.CheckinTime, p.receivedAt)
}

func (c *Consumer) runApplier(ctx context.Context) {
	defer c.wg.Done()

	for p := range c.ordered {
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.apply(ctx, p)
	}
}

func (c *Consumer) apply(ctx context.Context, p *pending) {
	rec := p.rec
	c.logger.Info("Arrival announced",
		zap.String("subject_id", rec.ID),
		zap.String("trace_id", p.n.TraceID),
	)

	c.display.Show(rec)
	c.announcer.Speak(rec.Summary(c.opts.Greeting))

	if c.recorder != nil {
		if err := c.recorder.RecordArrival(ctx, c.opts.StationID, rec, p.receivedAt); err != nil {
			c.logger.Warn("Failed to record arrival",
				zap.String("subject_id", rec.ID),
				zap.Error(err),
			)
		}
	}
}

// SetConnectionState 通道生命周期信号，可作为 Source 的 StateFunc
func (c *Consumer) SetConnectionState(state models.ConnectionState) {
	c.stateMu.Lock()
	if c.state == state {
		c.stateMu.Unlock()
		return
	}
	c.state = state
	subs := append([]StateFunc(nil), c.stateSubs...)
	c.stateMu.Unlock()

	c.logger.Info("Push channel state changed", zap.String("state", state.String()))
	for _, fn := range subs {
		fn(state)
	}
}

// ConnectionState 当前连接状态
func (c *Consumer) ConnectionState() models.ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// OnConnectionState 订阅连接状态变化
func (c *Consumer) OnConnectionState(fn StateFunc) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.stateSubs = append(c.stateSubs, fn)
}
