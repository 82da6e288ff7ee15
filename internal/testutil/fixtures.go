package testutil

import "time"

// Fixed inputs shared by the classifier, scheduler, and orchestrator tests
const (
	SessionA = "session-s1"
	SessionB = "session-s2"

	InterviewText = "我明天有面试，好紧张"
	DespairText   = "一切都没希望了，我撑不下去"
	ScriptText    = "<script>alert(1)</script>"
	PlainText     = "今天天气不错"
)

// BaseTime is the default start of every fake clock
var BaseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
