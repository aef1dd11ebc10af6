package intent

import (
	"sort"
	"strings"
)

// verbEndings expand a noun keyword into its imperative forms, so "퇴원"
// also matches "퇴원시켜줘" without listing every conjugation by hand.
var verbEndings = []string{
	"해", "해줘", "해주세요", "해요", "하세요", "하자", "하겠", "하겠습니다",
	"시켜", "시켜줘", "시켜주세요",
}

func expandKeywords(base []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(kw string) {
		if !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}
	for _, kw := range base {
		add(kw)
		if strings.HasSuffix(kw, "해") || strings.HasSuffix(kw, "해줘") || strings.HasSuffix(kw, "해주세요") {
			continue
		}
		for _, ending := range verbEndings {
			add(kw + ending)
		}
	}
	return out
}

// Keyword tables for the domain/type/action decomposition pass. These only
// narrow the search over registry keys; they never produce a key themselves.
var (
	domainKeywords = map[string][]string{
		"student":    {"학생", "대상", "회원", "원생", "수강생"},
		"attendance": {"출결", "출석", "지각", "결석", "조퇴", "나온", "안온", "불참"},
		"billing":    {"수납", "청구", "결제", "납부", "연체", "환불", "미납", "미결제", "돈", "요금", "비용"},
		"message":    {"문자", "메시지", "알림", "공지"},
		"class":      {"반", "수업", "클래스"},
		"schedule":   {"일정", "스케줄", "시간표"},
		"report":     {"리포트", "보고서", "요약", "현황"},
	}
	typeKeywords = map[string][]string{
		"query": {"조회", "검색", "찾기", "확인", "보기"},
		"exec":  {"실행", "처리", "해", "시켜", "하기"},
		"draft": {"초안", "작성", "만들기"},
	}
	actionKeywords = map[string][]string{
		"discharge": {"퇴원"},
		"pause":     {"휴원"},
		"late":      {"지각", "늦은", "늦게 온"},
		"absent":    {"결석", "안온", "안나온", "불참"},
		"overdue_list": {
			"연체", "미납", "돈 안낸", "납부 안한", "결제 안한", "미결제",
		},
		"issue_invoices":    {"청구서", "인보이스"},
		"send_payment_link": {"결제 링크", "납부 링크"},
	}
)

func containsAny(message string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(message, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Fallback resolves an intent from raw user text when the model reply
// carried no parseable intent. Pass one matches each registry item's
// explicit keyword list (with verb-ending expansion); pass two decomposes
// registry keys into domain/type/action keyword sets. Both passes only
// select existing registry keys. No match returns ok=false, which the
// caller treats as "reply without structured intent".
func Fallback(message string) (Intent, bool) {
	lower := strings.ToLower(strings.TrimSpace(message))
	if lower == "" {
		return Intent{}, false
	}

	keys := make([]string, 0, len(Registry))
	for key := range Registry {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		item := Registry[key]
		if containsAny(lower, expandKeywords(item.Keywords)) {
			return resolved(item), true
		}
	}

	for _, key := range keys {
		item := Registry[key]
		parts := strings.SplitN(key, ".", 3)
		if len(parts) != 3 {
			continue
		}
		domainKw := domainKeywords[parts[0]]
		typeKw := typeKeywords[parts[1]]
		actionKw := actionKeywords[parts[2]]

		hasDomain := len(domainKw) == 0 || containsAny(lower, domainKw)
		hasType := len(typeKw) == 0 || containsAny(lower, typeKw)
		hasAction := len(actionKw) > 0 && containsAny(lower, actionKw)

		if (hasDomain && hasAction) || (hasDomain && hasType && len(actionKw) == 0) {
			return resolved(item), true
		}
	}
	return Intent{}, false
}

func resolved(item RegistryItem) Intent {
	out := Intent{Key: item.Key, Level: item.Level, Params: map[string]any{}}
	if item.Level == LevelL2 {
		out.Class = item.Class
	}
	return out
}
