package models

import (
	"strings"
	"time"
)

// DisplayRecord 看板展示记录（由目录数据规范化得到的扁平结构）
// 值对象：一旦构建不再原地修改，更新时整体替换
type DisplayRecord struct {
	ID          string     `json:"id"`
	Code        string     `json:"code,omitempty"`
	FullName    string     `json:"full_name"`
	Unit        string     `json:"unit,omitempty"`
	Position    string     `json:"position,omitempty"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	CheckedIn   bool       `json:"checked_in"`
	CheckinTime *time.Time `json:"checkin_time,omitempty"`
}

// MinimalRecord 目录查询失败时仅凭通知构建的最小记录
func MinimalRecord(n CheckinNotification) DisplayRecord {
	rec := DisplayRecord{
		ID:        n.SubjectID,
		CheckedIn: n.CheckedIn,
	}
	if n.CheckinTime != nil {
		t := *n.CheckinTime
		rec.CheckinTime = &t
	}
	return rec
}

// WithCheckin 返回标记为已签到的副本
// 签到时间优先级：记录自带时间 > 通知时间 > now
func (r DisplayRecord) WithCheckin(notified *time.Time, now time.Time) DisplayRecord {
	out := r
	out.CheckedIn = true
	switch {
	case r.CheckinTime != nil:
		t := *r.CheckinTime
		out.CheckinTime = &t
	case notified != nil:
		t := *notified
		out.CheckinTime = &t
	default:
		t := now
		out.CheckinTime = &t
	}
	return out
}

// DisplayName 展示用姓名，缺失时退回编码或 ID
func (r DisplayRecord) DisplayName() string {
	switch {
	case r.FullName != "":
		return r.FullName
	case r.Code != "":
		return r.Code
	default:
		return r.ID
	}
}

// Summary 播报文本，如 "Welcome, Jane Doe, Engineering"
func (r DisplayRecord) Summary(greeting string) string {
	parts := make([]string, 0, 3)
	if greeting != "" {
		parts = append(parts, greeting)
	}
	parts = append(parts, r.DisplayName())
	if r.Unit != "" {
		parts = append(parts, r.Unit)
	}
	return strings.Join(parts, ", ")
}
