// Package intent holds the closed conversational intent registry and the
// machinery that maps free text onto it: the model-output parser, the
// deterministic keyword fallback, and param normalization. Nothing in this
// package ever invents an intent key; resolution only selects from the
// registry.
package intent

// Automation levels. L0 runs synchronously and leaves no artifact, L1
// creates a deferred work item, L2 creates a work item whose effect needs
// approval before it runs.
const (
	LevelL0 = "L0"
	LevelL1 = "L1"
	LevelL2 = "L2"
)

// Execution classes, L2 only. A is an outbound notification, B mutates
// domain state.
const (
	ClassA = "A"
	ClassB = "B"
)

// CardSpec describes the work item an L1/L2 intent produces.
type CardSpec struct {
	TaskType   string
	Trigger    string
	EntityType string // student, class or tenant
	Window     string // "day" or "month"
}

type RegistryItem struct {
	Key         string
	Description string
	Level       string
	Class       string // set iff Level == LevelL2

	// EventType links an L2-A intent to the automation event catalog.
	// ActionKey links an L2-B intent to the domain action it requests.
	EventType string
	ActionKey string

	Card *CardSpec // nil for L0

	// Keywords feed the fallback matcher.
	Keywords []string
}

// Registry is the closed set of conversational intents. An intent key not
// present here is rejected at parse time.
var Registry = map[string]RegistryItem{
	"student.query.search": {
		Key:         "student.query.search",
		Description: "학생 검색",
		Level:       LevelL0,
		Keywords:    []string{"검색", "찾기", "찾아", "찾아줘", "검색해", "검색해줘"},
	},
	"student.exec.discharge": {
		Key:         "student.exec.discharge",
		Description: "학생 퇴원 처리 실행",
		Level:       LevelL2,
		Class:       ClassB,
		ActionKey:   "student.discharge",
		Card:        &CardSpec{TaskType: "risk", Trigger: "student", EntityType: "student", Window: "day"},
		Keywords:    []string{"퇴원", "퇴원처리", "퇴원 처리"},
	},
	"student.exec.pause": {
		Key:         "student.exec.pause",
		Description: "학생 휴원 처리 실행",
		Level:       LevelL2,
		Class:       ClassB,
		ActionKey:   "student.pause",
		Card:        &CardSpec{TaskType: "risk", Trigger: "student", EntityType: "student", Window: "day"},
		Keywords:    []string{"휴원", "휴원처리"},
	},
	"attendance.query.late": {
		Key:         "attendance.query.late",
		Description: "지각한 학생 조회",
		Level:       LevelL0,
		Keywords:    []string{"지각", "지각한", "지각자", "지각 조회", "지각 목록"},
	},
	"attendance.query.absent": {
		Key:         "attendance.query.absent",
		Description: "결석한 학생 조회",
		Level:       LevelL0,
		Keywords:    []string{"결석", "결석한", "결석자", "결석 조회", "결석 목록"},
	},
	"attendance.exec.notify_guardians_late": {
		Key:         "attendance.exec.notify_guardians_late",
		Description: "지각 학생 보호자 알림 발송",
		Level:       LevelL2,
		Class:       ClassA,
		EventType:   "absence_first_day",
		Card:        &CardSpec{TaskType: "ai_suggested", Trigger: "absence", EntityType: "student", Window: "day"},
		Keywords:    []string{"지각 알림", "지각 안내", "지각 문자", "지각 메시지"},
	},
	"attendance.exec.notify_guardians_absent": {
		Key:         "attendance.exec.notify_guardians_absent",
		Description: "결석 학생 보호자 알림 발송",
		Level:       LevelL2,
		Class:       ClassA,
		EventType:   "absence_first_day",
		Card:        &CardSpec{TaskType: "ai_suggested", Trigger: "absence", EntityType: "student", Window: "day"},
		Keywords:    []string{"결석 알림", "결석 안내", "결석 문자", "결석 메시지"},
	},
	"billing.query.overdue_list": {
		Key:         "billing.query.overdue_list",
		Description: "연체 목록 조회",
		Level:       LevelL0,
		Keywords: []string{
			"연체", "연체자", "연체 목록", "미납", "미납자",
			"돈 안낸", "납부 안한", "결제 안한", "미결제", "미결제자",
		},
	},
	"billing.exec.send_payment_link": {
		Key:         "billing.exec.send_payment_link",
		Description: "결제 링크 발송",
		Level:       LevelL2,
		Class:       ClassA,
		EventType:   "payment_due_reminder",
		Card:        &CardSpec{TaskType: "ai_suggested", Trigger: "billing", EntityType: "student", Window: "day"},
		Keywords:    []string{"결제 링크", "납부 링크", "결제 링크 발송"},
	},
	"billing.exec.issue_invoices": {
		Key:         "billing.exec.issue_invoices",
		Description: "청구서 일괄 발행",
		Level:       LevelL2,
		Class:       ClassB,
		ActionKey:   "billing.issue_invoices",
		Card:        &CardSpec{TaskType: "ops", Trigger: "billing", EntityType: "tenant", Window: "day"},
		Keywords:    []string{"청구서 발행", "인보이스 발행", "청구서 발급"},
	},
	"message.exec.send_to_guardian": {
		Key:         "message.exec.send_to_guardian",
		Description: "보호자 메시지 발송",
		Level:       LevelL2,
		Class:       ClassA,
		EventType:   "announcement_urgent",
		Card:        &CardSpec{TaskType: "ai_suggested", Trigger: "message", EntityType: "student", Window: "day"},
		Keywords:    []string{"문자", "메시지", "문자 발송", "메시지 발송"},
	},
	"message.draft.overdue_notice": {
		Key:         "message.draft.overdue_notice",
		Description: "연체 안내문 초안 작성",
		Level:       LevelL1,
		Card:        &CardSpec{TaskType: "draft", Trigger: "message", EntityType: "tenant", Window: "day"},
		Keywords:    []string{"연체 안내", "연체 공지", "연체 초안"},
	},
	"class.query.roster": {
		Key:         "class.query.roster",
		Description: "반 명단 조회",
		Level:       LevelL0,
		Keywords:    []string{"명단", "반 명단", "학생 명단"},
	},
	"schedule.exec.cancel_session": {
		Key:         "schedule.exec.cancel_session",
		Description: "수업 취소",
		Level:       LevelL2,
		Class:       ClassB,
		ActionKey:   "schedule.cancel_session",
		Card:        &CardSpec{TaskType: "ops", Trigger: "schedule", EntityType: "class", Window: "day"},
		Keywords:    []string{"수업 취소", "일정 취소", "세션 취소"},
	},
	"report.query.dashboard_kpi": {
		Key:         "report.query.dashboard_kpi",
		Description: "대시보드 지표 조회",
		Level:       LevelL0,
		Keywords:    []string{"대시보드", "지표", "현황"},
	},
	"report.exec.generate_monthly_report": {
		Key:         "report.exec.generate_monthly_report",
		Description: "월간 리포트 생성",
		Level:       LevelL2,
		Class:       ClassB,
		ActionKey:   "report.generate_monthly",
		Card:        &CardSpec{TaskType: "ops", Trigger: "report", EntityType: "tenant", Window: "month"},
		Keywords:    []string{"월간 리포트", "월간 보고서", "월 리포트"},
	},
}

// Get returns a registry item by key.
func Get(key string) (RegistryItem, bool) {
	item, ok := Registry[key]
	return item, ok
}

// Intent is a resolved, validated conversational intent.
type Intent struct {
	Key    string         `json:"intent_key"`
	Level  string         `json:"automation_level" enum:"L0,L1,L2"`
	Class  string         `json:"execution_class,omitempty" enum:"A,B"`
	Params map[string]any `json:"params"`
}
