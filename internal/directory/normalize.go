package directory

import (
	"fmt"
	"strconv"
	"strings"

	"wisefido-kiosk/internal/models"
)

// 各字段可接受的键名（驼峰与下划线两种写法）
var (
	idKeys       = []string{"id", "userId", "user_id", "personId", "person_id"}
	codeKeys     = []string{"code", "userCode", "user_code", "employeeCode", "employee_code"}
	nameKeys     = []string{"fullName", "full_name", "name", "displayName", "display_name"}
	unitKeys     = []string{"unit", "unitName", "unit_name", "department", "dept"}
	positionKeys = []string{"position", "title", "jobTitle", "job_title"}
	emailKeys    = []string{"email", "mail"}
	phoneKeys    = []string{"phone", "mobile", "phoneNumber", "phone_number"}
	avatarKeys   = []string{"avatarUrl", "avatar_url", "avatar", "photoUrl", "photo_url"}
	checkedKeys  = []string{"checkedIn", "checked_in"}
	timeKeys     = []string{"checkinTime", "checkin_time"}

	personInfoKeys = []string{"personInfo", "person_info"}
	accountKeys    = []string{"account"}
)

// Normalize 把目录返回的异构结构规范化为 DisplayRecord
//
// 支持三种形状：嵌套 personInfo 对象、嵌套 account 对象、扁平对象，也可以是前两者的组合。
// 同一字段的优先级：personInfo > account > 顶层字段。缺失字段保持零值。
func Normalize(raw map[string]interface{}) (models.DisplayRecord, error) {
	sources := make([]map[string]interface{}, 0, 3)
	if sub := firstObject(raw, personInfoKeys...); sub != nil {
		sources = append(sources, sub)
	}
	if sub := firstObject(raw, accountKeys...); sub != nil {
		sources = append(sources, sub)
	}
	sources = append(sources, raw)

	rec := models.DisplayRecord{
		ID:        pickString(sources, idKeys),
		Code:      pickString(sources, codeKeys),
		FullName:  pickString(sources, nameKeys),
		Unit:      pickString(sources, unitKeys),
		Position:  pickString(sources, positionKeys),
		Email:     pickString(sources, emailKeys),
		Phone:     pickString(sources, phoneKeys),
		AvatarURL: pickString(sources, avatarKeys),
		CheckedIn: pickBool(sources, checkedKeys),
	}
	if rec.ID == "" {
		return models.DisplayRecord{}, fmt.Errorf("directory record has no id")
	}

	if v, ok := pick(sources, timeKeys); ok {
		t, err := models.ParseTime(v)
		if err != nil {
			return models.DisplayRecord{}, fmt.Errorf("directory record %s: invalid checkin time: %w", rec.ID, err)
		}
		rec.CheckinTime = t
	}
	return rec, nil
}

func firstObject(raw map[string]interface{}, keys ...string) map[string]interface{} {
	for _, key := range keys {
		if obj, ok := raw[key].(map[string]interface{}); ok {
			return obj
		}
	}
	return nil
}

// pick 按来源优先级、再按键名顺序取第一个非空值
func pick(sources []map[string]interface{}, keys []string) (interface{}, bool) {
	for _, src := range sources {
		for _, key := range keys {
			v, ok := src[key]
			if !ok || v == nil {
				continue
			}
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func pickString(sources []map[string]interface{}, keys []string) string {
	v, ok := pick(sources, keys)
	if !ok {
		return ""
	}
	return strings.TrimSpace(models.ScalarString(v))
}

func pickBool(sources []map[string]interface{}, keys []string) bool {
	v, ok := pick(sources, keys)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	}
	return false
}
