// Package prompt renders node prompt templates against a variable store.
//
// Templates use {{name}} and {{name[index].field}} references, inline arithmetic
// such as {{ a + b * 2 }}, and <let> bindings that declare defaults:
//
//	<let name="greeting" value="hello"/>
//	<let name="rules" src="rules.md"/>
//	<let name="limits">{"max": 3}</let>
//	<let name="total" value="{{ base + extra }}"/>
//
// Values supplied by the caller always win over a template's own <let> default,
// and the reserved names nminput and nmoutput always carry the caller's text.
// Rendering never fails hard: problems are returned as recoverable *Error values
// next to the rendered text.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/viant/afs"
)

var (
	letPattern  = regexp.MustCompile(`(?s)<let\b([^>]*?)(?:/>|>(.*?)</let>)`)
	attrPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	refPattern  = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)
)

// Renderer renders templates. It holds no per-render state and is safe for
// concurrent use.
type Renderer struct {
	fs      afs.Service
	baseDir string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithBaseDir sets the directory relative <let src> paths are resolved against.
func WithBaseDir(dir string) Option {
	return func(r *Renderer) {
		r.baseDir = dir
	}
}

// WithFS overrides the storage service used for imports.
func WithFS(fs afs.Service) Option {
	return func(r *Renderer) {
		r.fs = fs
	}
}

// New creates a Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{fs: afs.New()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render evaluates the template's bindings, substitutes every reference and
// returns the text. The returned error, when non-nil, joins *Error warnings;
// the text is complete and usable either way.
func (r *Renderer) Render(ctx context.Context, text string, vars domain.Variables) (string, error) {
	scope := make(map[string]any, len(vars)+2)
	for k, v := range vars {
		scope[k] = v
	}
	for _, reserved := range []string{domain.VarInput, domain.VarOutput} {
		scope[reserved] = domain.ToText(scope[reserved])
	}

	var warnings []error
	body := r.bind(ctx, text, vars, scope, &warnings)
	out := substitute(body, scope, &warnings)

	return strings.TrimSpace(out), errors.Join(warnings...)
}

// bind evaluates <let> declarations in order and strips them from the text.
func (r *Renderer) bind(ctx context.Context, text string, external domain.Variables, scope map[string]any, warnings *[]error) string {
	var sb strings.Builder
	last := 0
	for {
		loc := letPattern.FindStringSubmatchIndex(text[last:])
		if loc == nil {
			break
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += last
			}
		}
		sb.WriteString(text[last:loc[0]])

		attrs := parseAttrs(text[loc[2]:loc[3]])
		body, hasBody := "", loc[4] >= 0
		if hasBody {
			body = text[loc[4]:loc[5]]
		}

		// An opening tag without its own </let> would otherwise run into the
		// next declaration. Only the tag is dropped; scanning resumes after it.
		if hasBody && strings.Contains(body, "<let") {
			tagEnd := loc[3] + 1
			*warnings = append(*warnings, &Error{Kind: MalformedBinding, Name: strings.TrimSpace(text[loc[0]:tagEnd]), Err: errors.New("unclosed <let> element")})
			last = skipLineBreak(text, loc[0], tagEnd)
			continue
		}
		last = skipLineBreak(text, loc[0], loc[1])

		name := attrs["name"]
		if name == "" {
			*warnings = append(*warnings, &Error{Kind: MalformedBinding, Name: strings.TrimSpace(text[loc[0]:loc[1]]), Err: errors.New("missing name attribute")})
			continue
		}
		if _, supplied := external[name]; supplied || isReserved(name) {
			continue
		}

		value, err := r.evalBinding(ctx, attrs, body, hasBody, scope, warnings)
		if err != nil {
			*warnings = append(*warnings, asError(err, name))
			continue
		}
		scope[name] = value
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func (r *Renderer) evalBinding(ctx context.Context, attrs map[string]string, body string, hasBody bool, scope map[string]any, warnings *[]error) (any, error) {
	kind := strings.ToLower(attrs["type"])

	if src, ok := attrs["src"]; ok {
		return r.load(ctx, src, kind)
	}

	if value, ok := attrs["value"]; ok {
		if m := refPattern.FindStringSubmatchIndex(value); m != nil && m[0] == 0 && m[1] == len(value) {
			return evalExpr(value[m[2]:m[3]], scope)
		}
		if strings.Contains(value, "{{") {
			return substitute(value, scope, warnings), nil
		}
		if kind == "text" || kind == "string" {
			return value, nil
		}
		return literal(value), nil
	}

	if !hasBody {
		return "", nil
	}
	text := strings.TrimSpace(body)
	switch kind {
	case "text", "string":
		return substitute(text, scope, warnings), nil
	case "object", "array", "json":
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, &Error{Kind: MalformedBinding, Err: err}
		}
		return v, nil
	}
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		var v any
		if err := json.Unmarshal([]byte(text), &v); err == nil {
			return v, nil
		}
	}
	return substitute(text, scope, warnings), nil
}

// load imports a binding value from a document.
func (r *Renderer) load(ctx context.Context, src, kind string) (any, error) {
	location := src
	if !strings.Contains(src, "://") && !filepath.IsAbs(src) {
		location = filepath.Join(r.baseDir, src)
		if abs, err := filepath.Abs(location); err == nil {
			location = abs
		}
	}

	data, err := r.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, &Error{Kind: ImportFailed, Err: err}
	}

	if kind == "json" || kind == "object" || kind == "array" || strings.EqualFold(filepath.Ext(src), ".json") {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &Error{Kind: ImportFailed, Err: fmt.Errorf("decode %s: %w", src, err)}
		}
		return v, nil
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// substitute replaces every {{...}} in text. Unresolvable references become "".
func substitute(text string, scope map[string]any, warnings *[]error) string {
	return refPattern.ReplaceAllStringFunc(text, func(match string) string {
		inner := refPattern.FindStringSubmatch(match)[1]
		if segs, ok := parsePath(inner); ok {
			v, found := lookup(scope, segs)
			if !found {
				*warnings = append(*warnings, &Error{Kind: MissingVariable, Name: inner})
				return ""
			}
			return domain.ToText(v)
		}
		n, err := evaluate(inner, scope)
		if err != nil {
			*warnings = append(*warnings, asError(err, inner))
			return ""
		}
		return formatNumber(n)
	})
}

// evalExpr evaluates a binding value of the form "{{ ... }}". A single reference
// keeps the referenced value's type; anything else is arithmetic.
func evalExpr(inner string, scope map[string]any) (any, error) {
	if segs, ok := parsePath(inner); ok {
		v, found := lookup(scope, segs)
		if !found {
			return nil, &Error{Kind: MissingVariable, Name: inner}
		}
		return v, nil
	}
	return evaluate(inner, scope)
}

// literal types a value attribute: numbers and booleans keep their type.
func literal(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return n
	}
	return s
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(s, -1) {
		val := m[2]
		if val == "" {
			val = m[3]
		}
		attrs[strings.ToLower(m[1])] = val
	}
	return attrs
}

func asError(err error, name string) *Error {
	var te *Error
	if errors.As(err, &te) {
		if te.Name == "" {
			te.Name = name
		}
		return te
	}
	return &Error{Kind: InvalidExpression, Name: name, Err: err}
}

func isReserved(name string) bool {
	return name == domain.VarInput || name == domain.VarOutput
}

// skipLineBreak extends a removed tag over its line break when the tag sits
// alone on its line, so declarations leave no blank lines behind.
func skipLineBreak(text string, start, end int) int {
	lineStart := start == 0 || text[start-1] == '\n'
	if !lineStart {
		return end
	}
	if strings.HasPrefix(text[end:], "\r\n") {
		return end + 2
	}
	if strings.HasPrefix(text[end:], "\n") {
		return end + 1
	}
	return end
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
