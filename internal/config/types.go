package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/secrets"
)

// Duration is a time.Duration read from YAML or the environment. A bare
// number is taken as seconds, so REASOND_BUS_CALL_TIMEOUT=30 works.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	var (
		parsed time.Duration
		err    error
	)
	if secs, convErr := strconv.ParseFloat(s, 64); convErr == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return fmt.Errorf("invalid duration %q", s)
		}
		parsed = time.Duration(secs * float64(time.Second))
	} else if parsed, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Secret holds an API key. It prints and serializes as the redaction
// marker so a logged or dumped config never carries the key.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secrets.DefaultReplacement
}

// Value returns the key itself for handing to a provider client.
func (s Secret) Value() string { return string(s) }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
