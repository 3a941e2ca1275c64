// Package announcer 语音播报：解锁门控、音色选择、保活与"先取消再播报"的单槽调度
package announcer

import "context"

// Voice 语音引擎提供的音色
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Utterance 一次播报
// VoiceID 与 Lang 为空时使用引擎默认音色
type Utterance struct {
	Text    string
	VoiceID string
	Lang    string
}

// Engine 语音合成引擎
// Speak 启动播报后立即返回，Cancel 终止正在播报的内容
type Engine interface {
	Voices(ctx context.Context) ([]Voice, error)
	Speak(ctx context.Context, u Utterance) error
	Cancel() error
	Resume() error
}

// NopEngine 关闭语音时使用
type NopEngine struct{}

func (NopEngine) Voices(context.Context) ([]Voice, error) { return nil, nil }
func (NopEngine) Speak(context.Context, Utterance) error  { return nil }
func (NopEngine) Cancel() error                           { return nil }
func (NopEngine) Resume() error                           { return nil }
