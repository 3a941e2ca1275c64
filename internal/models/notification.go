package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CheckinNotification 推送通道上的签到通知（瞬态，不落库）
type CheckinNotification struct {
	SubjectID   string     `json:"subject_id"`
	CheckedIn   bool       `json:"checked_in"`
	CheckinTime *time.Time `json:"checkin_time,omitempty"`
	TraceID     string     `json:"trace_id,omitempty"`
}

// ParseNotification 解析签到通知
// 兼容 subjectId/subject_id/id、checkedIn/checked_in、checkinTime/checkin_time，
// ID 可以是字符串或数字，时间可以是 RFC3339 字符串或 unix 秒/毫秒
func ParseNotification(payload []byte) (CheckinNotification, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return CheckinNotification{}, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return NotificationFromMap(raw)
}

// NotificationFromMap 从已解码的字段表构建通知（Redis Streams 平铺字段也走这里）
func NotificationFromMap(raw map[string]interface{}) (CheckinNotification, error) {
	var n CheckinNotification

	n.SubjectID = firstString(raw, "subjectId", "subject_id", "id")
	if n.SubjectID == "" {
		return CheckinNotification{}, fmt.Errorf("invalid notification: missing subject id")
	}

	n.CheckedIn = firstBool(raw, "checkedIn", "checked_in")

	for _, key := range []string{"checkinTime", "checkin_time"} {
		if v, ok := raw[key]; ok && v != nil {
			t, err := ParseTime(v)
			if err != nil {
				return CheckinNotification{}, fmt.Errorf("invalid notification %s: %w", key, err)
			}
			n.CheckinTime = t
			break
		}
	}

	n.TraceID = firstString(raw, "traceId", "trace_id")
	return n, nil
}

// ParseTime 解析 RFC3339 字符串、数字字符串或 unix 时间戳（秒或毫秒）
// 空值返回 nil
func ParseTime(v interface{}) (*time.Time, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return &t, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTime(n), nil
		}
		return nil, fmt.Errorf("unsupported time format %q", s)
	case float64:
		return unixTime(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return unixTime(f), nil
	default:
		return nil, fmt.Errorf("unsupported time type %T", v)
	}
}

// 大于 1e12 视为毫秒
func unixTime(n float64) *time.Time {
	var t time.Time
	if n > 1e12 {
		t = time.UnixMilli(int64(n)).UTC()
	} else {
		t = time.Unix(int64(n), 0).UTC()
	}
	return &t
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s := ScalarString(raw[key]); s != "" {
			return s
		}
	}
	return ""
}

func firstBool(raw map[string]interface{}, keys ...string) bool {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		case float64:
			return v != 0
		}
	}
	return false
}

// ScalarString 把 JSON 标量转为字符串（数字 ID 按整数格式输出）
func ScalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
