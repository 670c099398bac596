package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/parsly"
	"github.com/viant/parsly/matcher"
)

// Token codes start at 1 so they never collide with parsly's reserved codes.
const (
	whitespaceCode = iota + 1
	numberCode
	referenceCode
	plusCode
	minusCode
	mulCode
	divCode
	openParenCode
	closeParenCode
)

var (
	whitespaceToken = parsly.NewToken(whitespaceCode, "Whitespace", matcher.NewWhiteSpace())
	numberToken     = parsly.NewToken(numberCode, "Number", &numberMatcher{})
	referenceToken  = parsly.NewToken(referenceCode, "Reference", &referenceMatcher{})
	plusToken       = parsly.NewToken(plusCode, "+", matcher.NewByte('+'))
	minusToken      = parsly.NewToken(minusCode, "-", matcher.NewByte('-'))
	mulToken        = parsly.NewToken(mulCode, "*", matcher.NewByte('*'))
	divToken        = parsly.NewToken(divCode, "/", matcher.NewByte('/'))
	openParenToken  = parsly.NewToken(openParenCode, "(", matcher.NewByte('('))
	closeParenToken = parsly.NewToken(closeParenCode, ")", matcher.NewByte(')'))
)

var errDivisionByZero = errors.New("division by zero")

// numberMatcher matches unsigned decimals such as 3, 0.5 or 12.75.
type numberMatcher struct{}

func (m *numberMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	matched := 0
	seenDot := false
	for i := pos; i < size; i++ {
		c := input[i]
		switch {
		case c >= '0' && c <= '9':
			matched++
		case c == '.' && !seenDot && matched > 0:
			seenDot = true
			matched++
		default:
			return trimDot(input[pos:pos+matched], matched)
		}
	}
	return trimDot(input[pos:pos+matched], matched)
}

func trimDot(text []byte, n int) int {
	if n > 0 && text[n-1] == '.' {
		return n - 1
	}
	return n
}

// referenceMatcher matches a variable path like total, items[2].price or a.b.
type referenceMatcher struct{}

func (m *referenceMatcher) Match(cursor *parsly.Cursor) int {
	input, pos, size := cursor.Input, cursor.Pos, cursor.InputSize
	if pos >= size || !isIdentStart(input[pos]) {
		return 0
	}
	i := pos
	for i < size {
		c := input[i]
		switch {
		case isIdentPart(c):
			i++
		case c == '.' && i+1 < size && isIdentStart(input[i+1]):
			i++
		case c == '[':
			j := i + 1
			for j < size && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			if j == i+1 || j >= size || input[j] != ']' {
				return i - pos
			}
			i = j + 1
		default:
			return i - pos
		}
	}
	return i - pos
}

type token struct {
	code int
	text string
}

// tokenize lexes an arithmetic expression.
func tokenize(expr string) ([]token, error) {
	cursor := parsly.NewCursor("", []byte(strings.TrimSpace(expr)), 0)
	var tokens []token
	for cursor.HasMore() {
		matched := cursor.MatchAfterOptional(whitespaceToken, numberToken, referenceToken,
			plusToken, minusToken, mulToken, divToken, openParenToken, closeParenToken)
		switch matched.Code {
		case parsly.EOF:
			return tokens, nil
		case numberCode, referenceCode, plusCode, minusCode, mulCode, divCode, openParenCode, closeParenCode:
			tokens = append(tokens, token{code: matched.Code, text: matched.Text(cursor)})
		default:
			return nil, fmt.Errorf("unexpected character at offset %d", cursor.Pos)
		}
	}
	return tokens, nil
}

// evaluator is a recursive-descent parser over the token stream:
//
//	expr   := term (('+' | '-') term)*
//	term   := factor (('*' | '/') factor)*
//	factor := number | reference | '(' expr ')' | ('-' | '+') factor
type evaluator struct {
	tokens []token
	pos    int
	scope  map[string]any
}

// evaluate computes an arithmetic expression over numeric bindings in scope.
// A missing reference is reported as a *Error of kind MissingVariable.
func evaluate(expr string, scope map[string]any) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, errors.New("empty expression")
	}
	ev := &evaluator{tokens: tokens, scope: scope}
	v, err := ev.expr()
	if err != nil {
		return 0, err
	}
	if ev.pos != len(ev.tokens) {
		return 0, fmt.Errorf("unexpected %q", ev.tokens[ev.pos].text)
	}
	return v, nil
}

func (e *evaluator) peek() (token, bool) {
	if e.pos >= len(e.tokens) {
		return token{}, false
	}
	return e.tokens[e.pos], true
}

func (e *evaluator) expr() (float64, error) {
	left, err := e.term()
	if err != nil {
		return 0, err
	}
	for {
		tok, ok := e.peek()
		if !ok || (tok.code != plusCode && tok.code != minusCode) {
			return left, nil
		}
		e.pos++
		right, err := e.term()
		if err != nil {
			return 0, err
		}
		if tok.code == plusCode {
			left += right
		} else {
			left -= right
		}
	}
}

func (e *evaluator) term() (float64, error) {
	left, err := e.factor()
	if err != nil {
		return 0, err
	}
	for {
		tok, ok := e.peek()
		if !ok || (tok.code != mulCode && tok.code != divCode) {
			return left, nil
		}
		e.pos++
		right, err := e.factor()
		if err != nil {
			return 0, err
		}
		if tok.code == mulCode {
			left *= right
			continue
		}
		if right == 0 {
			return 0, errDivisionByZero
		}
		left /= right
	}
}

func (e *evaluator) factor() (float64, error) {
	tok, ok := e.peek()
	if !ok {
		return 0, errors.New("unexpected end of expression")
	}
	e.pos++

	switch tok.code {
	case numberCode:
		return strconv.ParseFloat(tok.text, 64)
	case referenceCode:
		segs, _ := parsePath(tok.text)
		v, found := lookup(e.scope, segs)
		if !found {
			return 0, &Error{Kind: MissingVariable, Name: tok.text}
		}
		n, err := toNumber(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", tok.text, err)
		}
		return n, nil
	case minusCode:
		v, err := e.factor()
		return -v, err
	case plusCode:
		return e.factor()
	case openParenCode:
		v, err := e.expr()
		if err != nil {
			return 0, err
		}
		if closing, ok := e.peek(); !ok || closing.code != closeParenCode {
			return 0, errors.New("missing closing parenthesis")
		}
		e.pos++
		return v, nil
	}
	return 0, fmt.Errorf("unexpected %q", tok.text)
}
