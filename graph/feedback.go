package graph

import (
	"regexp"
	"strings"
)

// JudgeFeedbackKey is the StateStore key holding the judge's verdict.
const JudgeFeedbackKey = "judge_feedback"

// ResearchFindingsKey is the StateStore key holding the researcher's output.
const ResearchFindingsKey = "research_findings"

// Verdict values for JudgeFeedback.Status.
const (
	VerdictPass = "pass"
	VerdictFail = "fail"
)

// JudgeFeedback is the judge's structured verdict. Feedback is only
// meaningful when Status is "fail".
type JudgeFeedback struct {
	Status   string `json:"status"`
	Feedback string `json:"feedback"`
}

// passMarker is the canonical textual pass rule: the quoted JSON pair
// "status": "pass", whitespace around the colon allowed.
var passMarker = regexp.MustCompile(`"status"\s*:\s*"pass"`)

// FeedbackPassed reports whether a judge_feedback value signals acceptance.
//
// Structured values (JudgeFeedback, *JudgeFeedback or a decoded JSON object)
// compare their status field, ignoring case and surrounding space. Text is
// accepted only if it contains the quoted pair "status": "pass"; near misses
// such as `status: pass` or `status="pass"` do not count. Anything else,
// including nil, is not a pass.
func FeedbackPassed(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case JudgeFeedback:
		return statusIsPass(v.Status)
	case *JudgeFeedback:
		return v != nil && statusIsPass(v.Status)
	case map[string]any:
		status, ok := v["status"].(string)
		return ok && statusIsPass(status)
	case string:
		return passMarker.MatchString(v)
	case []byte:
		return passMarker.Match(v)
	default:
		return false
	}
}

func statusIsPass(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), VerdictPass)
}
