package graph

import (
	"encoding/json"
	"strings"
)

// extractOutput converts a worker's final text into the value stored under its
// output key.
//
// When structured is set and the trimmed text starts with '{' or '[', the text
// is parsed as JSON and the decoded tree is returned. Anything else, including
// JSON-looking text that fails to parse, is returned verbatim. Extraction never
// fails.
func extractOutput(text string, structured bool) any {
	if !structured || !looksLikeJSON(text) {
		return text
	}
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return text
	}
	return v
}

func looksLikeJSON(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}
