package display

import "wisefido-kiosk/internal/models"

// RecentList 最近签到列表（新的在前，按 ID 去重）
// 非并发安全，由 Machine 持锁访问
type RecentList struct {
	items []models.DisplayRecord
	limit int // 0 表示不限
}

// NewRecentList 创建最近列表
func NewRecentList(limit int) *RecentList {
	return &RecentList{limit: limit}
}

// Push 插入记录，已存在的 ID 移到最前而不是重复
func (l *RecentList) Push(rec models.DisplayRecord) {
	out := make([]models.DisplayRecord, 0, len(l.items)+1)
	out = append(out, rec)
	for _, item := range l.items {
		if item.ID != rec.ID {
			out = append(out, item)
		}
	}
	if l.limit > 0 && len(out) > l.limit {
		out = out[:l.limit]
	}
	l.items = out
}

// Replace 整体替换（用于启动时的种子数据），同样去重与截断
func (l *RecentList) Replace(records []models.DisplayRecord) {
	l.items = nil
	for i := len(records) - 1; i >= 0; i-- {
		l.Push(records[i])
	}
}

// Items 返回副本
func (l *RecentList) Items() []models.DisplayRecord {
	out := make([]models.DisplayRecord, len(l.items))
	copy(out, l.items)
	return out
}

func (l *RecentList) Len() int { return len(l.items) }
