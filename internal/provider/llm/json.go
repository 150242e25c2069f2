package llm

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/fyrsmithlabs/reasond/internal/provider"
)

// extractJSON trims whitespace and a markdown code fence around content.
func extractJSON(content string) json.RawMessage {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return json.RawMessage(s)
}

// schemaInstruction is appended to the system prompt so models without
// native schema support still see the expected shape.
func schemaInstruction(req provider.EvaluationRequest) string {
	if len(req.Schema) == 0 {
		return "Respond with a single JSON object and nothing else."
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, req.Schema); err != nil {
		compact.Write(req.Schema)
	}
	return "Respond with a single JSON object matching this JSON schema and nothing else:\n" + compact.String()
}

// withInstruction returns messages with the schema instruction attached to
// the first system message, or prepended as one.
func withInstruction(req provider.EvaluationRequest) []provider.Message {
	instr := schemaInstruction(req)
	out := make([]provider.Message, 0, len(req.Messages)+1)
	added := false
	for _, m := range req.Messages {
		if !added && m.Role == "system" {
			m.Content = m.Content + "\n\n" + instr
			added = true
		}
		out = append(out, m)
	}
	if !added {
		out = append([]provider.Message{{Role: "system", Content: instr}}, out...)
	}
	return out
}
