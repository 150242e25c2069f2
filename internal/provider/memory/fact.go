package memory

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/google/uuid"
)

// Reserved metadata keys. User metadata is stored under metaPrefix.
const (
	fieldFactID    = "fact_id"
	fieldKey       = "key"
	fieldKeyed     = "keyed"
	fieldScope     = "scope"
	fieldCreatedAt = "created_at"
	fieldContent   = "content"
	metaPrefix     = "meta."
)

const defaultRecallLimit = 5

// prepare fills the ID and creation time of a fact about to be stored.
func prepare(f provider.Fact) provider.Fact {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return f
}

// encodeFact flattens f into string metadata, excluding content.
func encodeFact(f provider.Fact) map[string]string {
	m := make(map[string]string, len(f.Metadata)+4)
	for k, v := range f.Metadata {
		m[metaPrefix+k] = v
	}
	m[fieldFactID] = f.ID
	m[fieldCreatedAt] = f.CreatedAt.UTC().Format(time.RFC3339Nano)
	m[fieldKeyed] = "false"
	if f.Key != "" {
		m[fieldKey] = f.Key
		m[fieldKeyed] = "true"
	}
	if f.Scope != "" {
		m[fieldScope] = f.Scope
	}
	return m
}

// decodeFact reverses encodeFact.
func decodeFact(id, content string, m map[string]string, score float32) provider.Fact {
	f := provider.Fact{
		ID:      id,
		Key:     m[fieldKey],
		Content: content,
		Scope:   m[fieldScope],
		Score:   score,
	}
	if v := m[fieldFactID]; v != "" {
		f.ID = v
	}
	if ts, err := time.Parse(time.RFC3339Nano, m[fieldCreatedAt]); err == nil {
		f.CreatedAt = ts
	}
	for k, v := range m {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if f.Metadata == nil {
				f.Metadata = make(map[string]string)
			}
			f.Metadata[name] = v
		}
	}
	return f
}

// forgetFilters selects the facts Forget(id) removes: an unkeyed fact with
// that ID, or any fact with that key. A keyed fact is only forgotten by key
// so protected-key rules cannot be sidestepped with its ID.
func forgetFilters(id string) []map[string]string {
	return []map[string]string{
		{fieldFactID: id, fieldKeyed: "false"},
		{fieldKey: id},
	}
}

func recallLimit(n int) int {
	if n <= 0 {
		return defaultRecallLimit
	}
	return n
}
