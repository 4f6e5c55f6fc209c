package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// SyntaxError reports where a guard failed to parse.
type SyntaxError struct {
	Expr    string
	Pos     int
	Message string
}

// Error implements error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expr %q: at %d: %s", e.Expr, e.Pos, e.Message)
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexRune(src[i+1:], c)
			if end < 0 {
				return nil, &SyntaxError{Expr: src, Pos: i, Message: "unterminated string"}
			}
			toks = append(toks, token{tokString, src[i+1 : i+1+end], i})
			i += end + 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			switch c {
			case '!':
				toks = append(toks, token{tokNot, "!", i})
			case '<', '>':
				toks = append(toks, token{tokOp, string(c), i})
			default:
				return nil, &SyntaxError{Expr: src, Pos: i, Message: "single '=' is not an operator"}
			}
			i++
		case c == '-' || c == '.' || unicode.IsDigit(c):
			start := i
			i++
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.' || src[i] == 'e' || src[i] == 'E') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			word := src[start:i]
			switch word {
			case "not":
				toks = append(toks, token{tokNot, word, start})
			default:
				toks = append(toks, token{tokIdent, word, start})
			}
		default:
			return nil, &SyntaxError{Expr: src, Pos: i, Message: fmt.Sprintf("unexpected %q", c)}
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

func isIdentStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return c == '_' || c == '.' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
