package intent

import (
	"errors"
	"strings"
	"testing"
)

func TestParseFencedBlock(t *testing.T) {
	reply := "네, 김철수 학생 퇴원 처리를 준비하겠습니다.\n\n```json\n" +
		`{"intent_key":"student.exec.discharge","automation_level":"L2","execution_class":"B","params":{"name":"김철수","date":"오늘"}}` +
		"\n```"
	in, err := Parse(reply)
	if err != nil {
		t.Fatal(err)
	}
	if in.Key != "student.exec.discharge" || in.Level != LevelL2 || in.Class != ClassB {
		t.Fatalf("got %+v", in)
	}
	if in.Params["name"] != "김철수" {
		t.Fatalf("params lost: %v", in.Params)
	}
}

func TestParseBareJSON(t *testing.T) {
	reply := `지각 학생을 조회합니다. {"intent_key":"attendance.query.late","automation_level":"L0","params":{"date":"today"}}`
	in, err := Parse(reply)
	if err != nil {
		t.Fatal(err)
	}
	if in.Key != "attendance.query.late" || in.Level != LevelL0 || in.Class != "" {
		t.Fatalf("got %+v", in)
	}
}

func TestParseTriesMultipleBlocks(t *testing.T) {
	reply := "```json\n{\"intent_key\":\"nope.nope.nope\",\"automation_level\":\"L0\",\"params\":{}}\n```\n" +
		"```json\n{\"intent_key\":\"billing.query.overdue_list\",\"automation_level\":\"L0\",\"params\":{}}\n```"
	in, err := Parse(reply)
	if err != nil {
		t.Fatal(err)
	}
	if in.Key != "billing.query.overdue_list" {
		t.Fatalf("got %+v", in)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		code  string
	}{
		{"empty", "   ", ErrNoJSONFound},
		{"no json", "안녕하세요, 무엇을 도와드릴까요?", ErrNoJSONFound},
		{"unknown key", `{"intent_key":"student.exec.explode","automation_level":"L2","execution_class":"B","params":{}}`, ErrIntentNotFound},
		{"level mismatch", `{"intent_key":"attendance.query.late","automation_level":"L2","execution_class":"A","params":{}}`, ErrInvalidLevel},
		{"l2 without class", `{"intent_key":"student.exec.discharge","automation_level":"L2","params":{}}`, ErrInvalidClass},
		{"class mismatch", `{"intent_key":"student.exec.discharge","automation_level":"L2","execution_class":"A","params":{}}`, ErrInvalidClass},
		{"l0 with class", `{"intent_key":"attendance.query.late","automation_level":"L0","execution_class":"A","params":{}}`, ErrInvalidClass},
		{"bad level", `{"intent_key":"attendance.query.late","automation_level":"L9","params":{}}`, ErrInvalidLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.reply)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if perr.Code != tc.code {
				t.Fatalf("want %s, got %s (%s)", tc.code, perr.Code, perr.Message)
			}
		})
	}
}

func TestStripIntentJSON(t *testing.T) {
	reply := "김철수 학생을 퇴원 처리하겠습니다.\n\n```json\n" +
		`{"intent_key":"student.exec.discharge","automation_level":"L2","execution_class":"B","params":{}}` +
		"\n```"
	clean := StripIntentJSON(reply)
	if strings.Contains(clean, "intent_key") || strings.Contains(clean, "```") {
		t.Fatalf("intent JSON left in reply: %q", clean)
	}
	if !strings.Contains(clean, "퇴원 처리") {
		t.Fatalf("natural language lost: %q", clean)
	}

	// code blocks without an intent stay put
	reply = "예시 코드입니다.\n```\nSELECT 1;\n```"
	if got := StripIntentJSON(reply); !strings.Contains(got, "SELECT 1;") {
		t.Fatalf("non-intent block removed: %q", got)
	}
}

func TestRegistryClosedWorld(t *testing.T) {
	for key, item := range Registry {
		if item.Key != key {
			t.Fatalf("registry key mismatch: %q vs %q", key, item.Key)
		}
		switch item.Level {
		case LevelL0:
			if item.Class != "" || item.Card != nil {
				t.Fatalf("%s: L0 must not carry class or card", key)
			}
		case LevelL1:
			if item.Class != "" {
				t.Fatalf("%s: L1 must not carry execution_class", key)
			}
			if item.Card == nil {
				t.Fatalf("%s: L1 must carry a card spec", key)
			}
		case LevelL2:
			if item.Class != ClassA && item.Class != ClassB {
				t.Fatalf("%s: L2 requires execution_class", key)
			}
			if item.Card == nil {
				t.Fatalf("%s: L2 must carry a card spec", key)
			}
			if item.Class == ClassA && item.EventType == "" {
				t.Fatalf("%s: L2-A requires an event_type", key)
			}
			if item.Class == ClassB && item.ActionKey == "" {
				t.Fatalf("%s: L2-B requires an action_key", key)
			}
		default:
			t.Fatalf("%s: bad level %q", key, item.Level)
		}
	}
}
