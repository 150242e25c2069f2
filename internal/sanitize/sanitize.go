// Package sanitize normalizes names used as vector store collection names.
//
// chromem and Qdrant both accept names matching ^[a-z0-9_]{1,64}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the longest collection name the stores accept.
	MaxIdentifierLength = 64

	// hashSuffixLength is the length of "_" plus eight hex digits.
	hashSuffixLength = 9

	// DefaultIdentifier replaces names with no usable characters.
	DefaultIdentifier = "default"
)

// Identifier lowercases s, maps every character outside [a-z0-9_] to an
// underscore, collapses and trims underscores, and shortens the result to
// MaxIdentifierLength with a hash suffix so distinct long names stay distinct.
//
//	"reasond-memory"  -> "reasond_memory"
//	"Ops Team/Facts"  -> "ops_team_facts"
//	"" or "!!!"       -> "default"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevUnderscore := true
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		switch {
		case ok:
			b.WriteRune(r)
			prevUnderscore = false
		case !prevUnderscore:
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	base := strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_")
	return base + "_" + hex.EncodeToString(sum[:])[:8]
}
