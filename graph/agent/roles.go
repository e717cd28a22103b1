package agent

import (
	"github.com/dshills/coursegraph/graph"
	"github.com/dshills/coursegraph/graph/model"
	"github.com/dshills/coursegraph/graph/tool"
)

// Worker role names. They double as the pipeline's step names.
const (
	RoleResearcher     = "researcher"
	RoleJudge          = "judge"
	RoleContentBuilder = "content_builder"
)

const researcherInstruction = `You are an expert researcher. Your goal is to find comprehensive and accurate information on the user's topic.
Use the fetch_page tool to read relevant sources when you know their URLs.
Summarize your findings clearly.
If a judge_feedback section is present, your previous research was judged insufficient: use that feedback to refine this round.`

const judgeInstruction = `You are a strict editor and fact-checker.
Evaluate the research_findings against the user's original request.
Determine if the findings are sufficient to create a high-quality course.
Reply with a JSON object {"status": "pass"|"fail", "feedback": string}.
If they are good enough, use status "pass" with a brief confirmation.
If they are missing key information, are too vague, or likely inaccurate, use status "fail" and give specific, constructive feedback on what to research next.`

const contentBuilderInstruction = `You are an expert course creator.
Take the approved research_findings and transform them into a well-structured, engaging course module.

Formatting rules:
1. Start with a main title using a single # (H1).
2. Use ## (H2) for main section headings. These will be used for the table of contents.
3. Use bullet points and clear paragraphs.
4. Maintain a professional but engaging tone.

Ensure the content directly addresses the user's original request.`

// Default models per role.
const (
	DefaultResearcherModel     = "gemini-2.5-flash"
	DefaultJudgeModel          = "gemini-2.5-pro"
	DefaultContentBuilderModel = "gemini-2.5-pro"
)

// NewResearcher builds the researcher worker. It sees the judge's last
// feedback so later passes can improve on earlier ones.
func NewResearcher(m model.ChatModel, opts ...Option) *Agent {
	base := []Option{
		WithDescription("Gathers information on a topic."),
		WithInstruction(researcherInstruction),
		WithStateKeys(graph.ResearchFindingsKey, graph.JudgeFeedbackKey),
		WithTools(tool.NewFetchTool()),
	}
	return New(RoleResearcher, m, append(base, opts...)...)
}

// NewJudge builds the judge worker. The model should be constructed with
// model.WithJSONOutput.
func NewJudge(m model.ChatModel, opts ...Option) *Agent {
	base := []Option{
		WithDescription("Evaluates research findings for completeness and accuracy."),
		WithInstruction(judgeInstruction),
		WithStateKeys(graph.ResearchFindingsKey),
	}
	return New(RoleJudge, m, append(base, opts...)...)
}

// NewContentBuilder builds the course writer.
func NewContentBuilder(m model.ChatModel, opts ...Option) *Agent {
	base := []Option{
		WithDescription("Transforms research findings into a structured course."),
		WithInstruction(contentBuilderInstruction),
		WithStateKeys(graph.ResearchFindingsKey),
	}
	return New(RoleContentBuilder, m, append(base, opts...)...)
}

// NewRole builds the worker for a role name.
func NewRole(role string, m model.ChatModel, opts ...Option) (*Agent, bool) {
	switch role {
	case RoleResearcher:
		return NewResearcher(m, opts...), true
	case RoleJudge:
		return NewJudge(m, opts...), true
	case RoleContentBuilder:
		return NewContentBuilder(m, opts...), true
	}
	return nil, false
}

// DefaultModelFor returns the default model of a role.
func DefaultModelFor(role string) string {
	if role == RoleResearcher {
		return DefaultResearcherModel
	}
	return DefaultJudgeModel
}
