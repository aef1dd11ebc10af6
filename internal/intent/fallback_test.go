package intent

import "testing"

func TestFallbackKeywordMatch(t *testing.T) {
	cases := []struct {
		message string
		key     string
	}{
		{"지각한 학생 조회", "attendance.query.late"},
		{"김철수 퇴원시켜줘", "student.exec.discharge"},
		{"돈 안낸 학생 목록 보여줘", "billing.query.overdue_list"},
		{"휴원 처리해주세요", "student.exec.pause"},
		{"월간 리포트 만들어줘", "report.exec.generate_monthly_report"},
	}
	for _, tc := range cases {
		in, ok := Fallback(tc.message)
		if !ok {
			t.Fatalf("%q: no intent resolved", tc.message)
		}
		if in.Key != tc.key {
			t.Fatalf("%q: want %s, got %s", tc.message, tc.key, in.Key)
		}
		item := Registry[in.Key]
		if in.Level != item.Level || in.Class != item.Class && item.Level == LevelL2 {
			t.Fatalf("%q: level/class must come from registry, got %+v", tc.message, in)
		}
	}
}

func TestFallbackNeverFabricates(t *testing.T) {
	for _, message := range []string{"", "안녕하세요", "오늘 날씨 어때?", "the weather is nice"} {
		if in, ok := Fallback(message); ok {
			if _, registered := Registry[in.Key]; !registered {
				t.Fatalf("%q: fabricated key %s", message, in.Key)
			}
		}
	}
	if _, ok := Fallback("안녕하세요"); ok {
		t.Fatal("greeting must not resolve to an intent")
	}
}

func TestFallbackVerbEndingExpansion(t *testing.T) {
	for _, message := range []string{"퇴원해", "퇴원해줘", "퇴원해주세요", "퇴원시켜", "퇴원시켜주세요"} {
		in, ok := Fallback(message)
		if !ok || in.Key != "student.exec.discharge" {
			t.Fatalf("%q: got %+v ok=%v", message, in, ok)
		}
	}
}
