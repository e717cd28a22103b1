package graph

import "testing"

func TestFeedbackPassed(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"struct pass", JudgeFeedback{Status: "pass", Feedback: "ok"}, true},
		{"struct fail", JudgeFeedback{Status: "fail", Feedback: "more"}, false},
		{"pointer pass", &JudgeFeedback{Status: "pass"}, true},
		{"nil pointer", (*JudgeFeedback)(nil), false},
		{"decoded map pass", map[string]any{"status": "pass", "feedback": "ok"}, true},
		{"decoded map mixed case", map[string]any{"status": " PASS "}, true},
		{"decoded map fail", map[string]any{"status": "fail"}, false},
		{"decoded map without status", map[string]any{"feedback": "ok"}, false},
		{"decoded map non-string status", map[string]any{"status": true}, false},
		{"text with quoted pair", `{"status": "pass", "feedback": "ok"`, true},
		{"text with compact pair", `prefix {"status":"pass"} suffix`, true},
		{"text with fail pair", `{"status": "fail"}`, false},
		{"unquoted marker", "status: pass — looks complete", false},
		{"near miss with equals", `status="pass"`, false},
		{"bytes with pair", []byte(`"status" : "pass"`), true},
		{"other type", 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FeedbackPassed(tt.value); got != tt.want {
				t.Errorf("FeedbackPassed(%#v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
