package action

import "encoding/json"

// SelectionSchema is the JSON schema a selection result must satisfy.
func SelectionSchema() json.RawMessage {
	names := make([]string, 0, len(All()))
	for _, t := range All() {
		names = append(names, string(t))
	}
	doc := map[string]any{
		"type":     "object",
		"required": []string{"selected_action", "action_parameters", "rationale"},
		"properties": map[string]any{
			"selected_action":   map[string]any{"type": "string", "enum": names},
			"action_parameters": map[string]any{"type": "object"},
			"rationale":         map[string]any{"type": "string", "minLength": 1},
			"confidence":        map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
	}
	raw, _ := json.Marshal(doc)
	return raw
}
