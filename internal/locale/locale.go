// Package locale holds the static string tables selected by the LOCALE
// config scalar. The locale never changes control flow, only wording.
package locale

// Strings is one locale's table.
type Strings struct {
	SickLeaveSubject     string
	SickLeaveBody        string
	CoverRequestSubject  string
	CoverRequestBody     string // formatted with the sick worker's name
	FeatureRequestPrefix string
	CollabPromptSubject  string
	KickoffChatMessage   string
	KickoffEmailSubject  string
	KickoffEmailBody     string
	FallbackEmailSubject string
	FallbackEmailBody    string
	FallbackChatMessage  string
	AckSubjectPrefix     string
	AckBody              string
	Features             []string
}

var tables = map[string]Strings{
	"en": {
		SickLeaveSubject:     "Feeling unwell today",
		SickLeaveBody:        "You are not feeling well. Rest and recover; planning is paused for the day.",
		CoverRequestSubject:  "Cover needed",
		CoverRequestBody:     "%s is out sick today. Please arrange cover for their in-flight work.",
		FeatureRequestPrefix: "Client feature request",
		CollabPromptSubject:  "Client request follow-up",
		KickoffChatMessage:   "Morning! Kicking off the day — I'll share my plan shortly.",
		KickoffEmailSubject:  "Kickoff: today's focus",
		KickoffEmailBody:     "Sharing my focus for today so we can line up on dependencies early.",
		FallbackEmailSubject: "Status update",
		FallbackEmailBody:    "Quick status update: continuing on my planned items this hour. Ping me if priorities shifted.",
		FallbackChatMessage:  "Heads up — still heads-down on the planned work, shout if anything urgent comes up.",
		AckSubjectPrefix:     "Ack:",
		AckBody:              "Got it, thanks. Folding this into my next plan.",
		Features: []string{
			"Export dashboard data to CSV",
			"Dark mode for the client portal",
			"Bulk-edit support in the admin panel",
			"Webhook notifications on order updates",
			"Saved search filters",
			"Two-factor login for partner accounts",
		},
	},
	"ko": {
		SickLeaveSubject:     "오늘 몸이 안 좋아요",
		SickLeaveBody:        "몸 상태가 좋지 않습니다. 오늘은 푹 쉬면서 회복하세요. 일정은 잠시 중단됩니다.",
		CoverRequestSubject:  "업무 백업 요청",
		CoverRequestBody:     "%s 님이 오늘 병가입니다. 진행 중인 업무의 백업을 부탁드립니다.",
		FeatureRequestPrefix: "고객 기능 요청",
		CollabPromptSubject:  "고객 요청 후속 협업",
		KickoffChatMessage:   "좋은 아침입니다! 오늘 일과를 시작합니다. 곧 계획을 공유할게요.",
		KickoffEmailSubject:  "킥오프: 오늘의 집중 업무",
		KickoffEmailBody:     "의존성을 미리 맞출 수 있도록 오늘의 집중 업무를 공유드립니다.",
		FallbackEmailSubject: "진행 상황 공유",
		FallbackEmailBody:    "간단한 상황 공유입니다. 이번 시간에는 계획된 작업을 계속 진행합니다. 우선순위가 바뀌면 알려주세요.",
		FallbackChatMessage:  "계획된 작업을 계속 진행 중입니다. 급한 건 있으면 바로 말씀해주세요.",
		AckSubjectPrefix:     "확인:",
		AckBody:              "확인했습니다. 다음 계획에 반영하겠습니다.",
		Features: []string{
			"대시보드 데이터 CSV 내보내기",
			"고객 포털 다크 모드",
			"관리자 패널 일괄 수정 기능",
			"주문 변경 웹훅 알림",
			"저장된 검색 필터",
			"파트너 계정 2단계 인증",
		},
	},
}

// Table returns the string table for a locale, defaulting to English.
func Table(locale string) Strings {
	if t, ok := tables[locale]; ok {
		return t
	}
	return tables["en"]
}
