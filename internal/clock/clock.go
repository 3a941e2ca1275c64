// Package clock 可替换的时间源，显示站的定时器（自动隐藏、保活、去重）都经由它，
// 测试中用 Fake 精确推进时间。
package clock

import "time"

// Clock 时间源
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer 一次性定时器
type Timer interface {
	Stop() bool
}

// Ticker 周期定时器
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real 系统时钟
type Real struct{}

// New 返回系统时钟
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (Real) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
