package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake 手动推进的时钟
// AfterFunc 回调在调用 Advance 的 goroutine 中同步执行
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	seq     uint64
}

type fakeWaiter struct {
	at      time.Time
	seq     uint64
	period  time.Duration
	fn      func()
	ch      chan time.Time
	stopped bool
	fake    *Fake
}

// NewFake 创建起始于 start 的假时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.add(d, 0, fn, nil)
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	return fakeTicker{f.add(d, d, nil, make(chan time.Time, 1))}
}

func (f *Fake) add(d, period time.Duration, fn func(), ch chan time.Time) *fakeWaiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	w := &fakeWaiter{at: f.now.Add(d), seq: f.seq, period: period, fn: fn, ch: ch, fake: f}
	f.waiters = append(f.waiters, w)
	return w
}

// Pending 未触发、未停止的定时器数量
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// Advance 推进时间并按到期顺序触发定时器
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		w := f.nextDue(target)
		if w == nil {
			break
		}
		f.now = w.at
		fn := w.fn
		if w.period > 0 {
			select {
			case w.ch <- w.at:
			default:
			}
			w.at = w.at.Add(w.period)
		} else {
			w.stopped = true
			f.remove(w)
		}
		if fn != nil {
			f.mu.Unlock()
			fn()
			f.mu.Lock()
		}
	}
	f.now = target
	f.mu.Unlock()
}

func (f *Fake) nextDue(target time.Time) *fakeWaiter {
	var due []*fakeWaiter
	for _, w := range f.waiters {
		if !w.stopped && !w.at.After(target) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (f *Fake) remove(target *fakeWaiter) {
	for i, w := range f.waiters {
		if w == target {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

func (w *fakeWaiter) Stop() bool {
	w.fake.mu.Lock()
	defer w.fake.mu.Unlock()
	if w.stopped {
		return false
	}
	w.stopped = true
	w.fake.remove(w)
	return true
}

type fakeTicker struct{ w *fakeWaiter }

func (t fakeTicker) C() <-chan time.Time { return t.w.ch }
func (t fakeTicker) Stop()               { t.w.Stop() }
