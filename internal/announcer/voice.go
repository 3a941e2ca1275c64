package announcer

import "strings"

// SelectVoice 按固定优先级从音色快照中选择
//  1. 语言匹配（区域一致、主语言一致或名称包含目标语言）的候选池，无匹配时用全部音色
//  2. 候选池内名称命中厂商标记的优先（按标记顺序）
//  3. 否则取候选池第一个
//
// 音色列表为空时返回 false
func SelectVoice(voices []Voice, lang string, markers []string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}

	pool := matchLanguage(voices, lang)
	if len(pool) == 0 {
		pool = voices
	}

	for _, marker := range markers {
		m := strings.ToLower(strings.TrimSpace(marker))
		if m == "" {
			continue
		}
		for _, v := range pool {
			if strings.Contains(strings.ToLower(v.Name), m) {
				return v, true
			}
		}
	}
	return pool[0], true
}

func matchLanguage(voices []Voice, lang string) []Voice {
	target := normalizeLocale(lang)
	if target == "" {
		return nil
	}
	primary, _, _ := strings.Cut(target, "-")

	var pool []Voice
	for _, v := range voices {
		locale := normalizeLocale(v.Lang)
		vp, _, _ := strings.Cut(locale, "-")
		switch {
		case locale == target, vp == primary,
			strings.Contains(strings.ToLower(v.Name), target):
			pool = append(pool, v)
		}
	}
	return pool
}

func normalizeLocale(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}
