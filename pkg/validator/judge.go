// Package validator decides pass or fail for Validator node outputs.
//
// It is schema-agnostic: it looks for parseable JSON structure in untrusted model
// output and reads an explicit "valid" verdict when one is present. It never panics
// on malformed input; every ambiguity collapses to a boolean outcome.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aretw0/neonflow/pkg/domain"
)

// MaxCandidates bounds how many unclosed openers are tried before giving up.
// Each one costs a scan to the end of the text.
const MaxCandidates = 64

var errTrailing = errors.New("trailing content after JSON value")

const (
	errNoJSON = "no parseable JSON found"
	errScalar = "JSON value is a bare scalar"
)

// Judge extracts a JSON value from raw output and turns it into a verdict.
// It is deterministic: the same input always yields the same result.
func Judge(raw string) domain.ValidationResult {
	value, ok := Extract(raw)
	if !ok {
		return domain.ValidationResult{Valid: false, Error: errNoJSON, Mode: domain.ModeNone}
	}
	return verdict(value)
}

// Extract returns the first JSON value found in text: either the whole trimmed
// text, or the first balanced {...} / [...] span that parses. A balanced span
// that does not parse is skipped whole, so its nested openers are not tried.
func Extract(text string) (any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	if v, err := decode(trimmed); err == nil {
		return v, true
	}

	tried := 0
	for start := 0; start < len(trimmed) && tried < MaxCandidates; start++ {
		c := trimmed[start]
		if c != '{' && c != '[' {
			continue
		}
		end, ok := balancedEnd(trimmed, start)
		if !ok {
			tried++
			continue
		}
		if v, err := decode(trimmed[start : end+1]); err == nil {
			return v, true
		}
		start = end
	}
	return nil, false
}

func verdict(value any) domain.ValidationResult {
	switch v := value.(type) {
	case map[string]any:
		if valid, ok := v["valid"].(bool); ok {
			res := domain.ValidationResult{Valid: valid, Extracted: value, Mode: domain.ModeExplicit}
			if data, ok := v["data"]; ok {
				res.Extracted = data
			}
			if errs, ok := v["errors"]; ok {
				res.Diagnostics = errs
			}
			if !valid {
				res.Error = "validator reported invalid output"
			}
			return res
		}
		return domain.ValidationResult{Valid: true, Extracted: value, Mode: domain.ModeImplicit}
	case []any:
		return domain.ValidationResult{Valid: true, Extracted: value, Mode: domain.ModeImplicit}
	default:
		return domain.ValidationResult{Valid: false, Extracted: value, Error: errScalar, Mode: domain.ModeImplicit}
	}
}

// decode parses exactly one JSON value; trailing content is an error.
func decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s[dec.InputOffset():]) != "" {
		return nil, errTrailing
	}
	return v, nil
}

// balancedEnd returns the index of the delimiter closing the one at start.
// Delimiters inside string literals are ignored; a mismatched closer ends the scan.
func balancedEnd(s string, start int) (int, bool) {
	var stack bytes.Buffer
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack.WriteByte('}')
		case '[':
			stack.WriteByte(']')
		case '}', ']':
			n := stack.Len()
			if n == 0 || stack.Bytes()[n-1] != c {
				return 0, false
			}
			stack.Truncate(n - 1)
			if stack.Len() == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
