// Package tool defines the tools an agent can offer its model, plus the
// page fetcher used by the researcher role.
package tool

import (
	"context"

	"github.com/dshills/coursegraph/graph/model"
)

// Tool is a capability a model may invoke during an agent turn.
type Tool interface {
	Name() string

	// Spec describes the tool to the model.
	Spec() model.ToolSpec

	// Call runs the tool. Input follows Spec().Schema.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Specs returns the model-facing descriptions of tools.
func Specs(tools []Tool) []model.ToolSpec {
	specs := make([]model.ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
	}
	return specs
}

// Find returns the tool named name.
func Find(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}
