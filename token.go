package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// TType is the kind of a parsed IMAP datum
type TType uint8

// Token kinds
const (
	TNil TType = iota
	TAtom
	TQuoted
	TLiteral
	TList
)

// Token is one IMAP datum. Only Str is meaningful for atoms, quoted
// strings and literals; only Tokens is meaningful for lists.
type Token struct {
	Type   TType
	Str    string
	Tokens []*Token
}

// Nil returns the NIL token
func Nil() *Token { return &Token{Type: TNil} }

// Atom returns an atom token
func Atom(s string) *Token { return &Token{Type: TAtom, Str: s} }

// Quoted returns a quoted-string token
func Quoted(s string) *Token { return &Token{Type: TQuoted, Str: s} }

// Literal returns a literal token
func Literal(s string) *Token { return &Token{Type: TLiteral, Str: s} }

// List returns a parenthesized list token
func List(children ...*Token) *Token {
	if children == nil {
		children = []*Token{}
	}
	return &Token{Type: TList, Tokens: children}
}

// IsNil reports whether t is the NIL token. A nil pointer counts as NIL.
func (t *Token) IsNil() bool {
	return t == nil || t.Type == TNil
}

// IsList reports whether t is a list token
func (t *Token) IsList() bool {
	return t != nil && t.Type == TList
}

// Value returns the string value of a scalar token, or "" for NIL and lists
func (t *Token) Value() string {
	if t == nil || t.Type == TNil || t.Type == TList {
		return ""
	}
	return t.Str
}

// Int parses the token value as a decimal integer
func (t *Token) Int() (int, bool) {
	if t == nil || t.Type == TNil || t.Type == TList {
		return 0, false
	}
	n, err := strconv.Atoi(t.Str)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Children returns the children of a list token, nil otherwise
func (t *Token) Children() []*Token {
	if t == nil || t.Type != TList {
		return nil
	}
	return t.Tokens
}

// Strings returns the values of a list's scalar children
func (t *Token) Strings() []string {
	children := t.Children()
	if children == nil {
		return nil
	}
	out := make([]string, 0, len(children))
	for _, c := range children {
		if c.Type != TList && c.Type != TNil {
			out = append(out, c.Str)
		}
	}
	return out
}

// GetTokenName returns the string name of a token type
func GetTokenName(tokenType TType) string {
	switch tokenType {
	case TNil:
		return "TNil"
	case TAtom:
		return "TAtom"
	case TQuoted:
		return "TQuoted"
	case TLiteral:
		return "TLiteral"
	case TList:
		return "TList"
	}
	return ""
}

// String returns a string representation of a Token
func (t Token) String() string {
	tokenType := GetTokenName(t.Type)
	switch t.Type {
	case TNil:
		return tokenType
	case TAtom, TQuoted:
		return fmt.Sprintf("(%s %#v)", tokenType, t.Str)
	case TLiteral:
		return fmt.Sprintf("(%s, len %d)", tokenType, len(t.Str))
	case TList:
		return fmt.Sprintf("(%s children: %s)", tokenType, t.Tokens)
	}
	return ""
}

// Tokenize reads up to n tokens from the front of *s and advances *s past
// the bytes they were built from. With n <= 0 it drains every token at the
// current nesting level. A closing parenthesis ends the level and is
// consumed. Malformed or truncated input, including a list whose closing
// parenthesis is missing, stops the scan without consuming the offending
// bytes, so a short result means the caller should read more input and try
// again.
func Tokenize(s *string, n int) []*Token {
	z := tokenizer{s: *s}
	out, _ := z.level(n)
	*s = z.s[z.pos:]
	return out
}

// TokenizeOne reads a single token from the front of *s, or returns nil
// when no complete token is available.
func TokenizeOne(s *string) *Token {
	tks := Tokenize(s, 1)
	if len(tks) == 0 {
		return nil
	}
	return tks[0]
}

type tokenizer struct {
	s   string
	pos int
}

func (z *tokenizer) skipSpace() {
	for z.pos < len(z.s) {
		switch z.s[z.pos] {
		case ' ', '\t', '\r', '\n', '\x00', '\x0b':
			z.pos++
		default:
			return
		}
	}
}

// level reads tokens until n are read, input runs out or a closing
// parenthesis is consumed, which is reported by closed
func (z *tokenizer) level(n int) (out []*Token, closed bool) {
	for n <= 0 || len(out) < n {
		z.skipSpace()
		if z.pos >= len(z.s) {
			break
		}

		var t *Token
		switch z.s[z.pos] {
		case '{':
			t = z.literal()
		case '"':
			t = z.quoted()
		case '(':
			start := z.pos
			z.pos++
			if children, ok := z.level(0); ok {
				t = List(children...)
			} else {
				z.pos = start
			}
		case ')':
			z.pos++
			return out, true
		default:
			t = z.atom()
		}
		if t == nil {
			break
		}
		out = append(out, t)
	}
	return out, false
}

// literal parses {n}\r\n followed by exactly n bytes
func (z *tokenizer) literal() *Token {
	rest := z.s[z.pos:]
	end := strings.Index(rest, "}\r\n")
	if end < 2 {
		return nil
	}
	size, err := strconv.Atoi(rest[1:end])
	if err != nil || size < 0 {
		return nil
	}
	start := end + 3
	if len(rest)-start < size {
		return nil
	}
	z.pos += start + size
	return Literal(rest[start : start+size])
}

func (z *tokenizer) quoted() *Token {
	var sb strings.Builder
	for i := z.pos + 1; i < len(z.s); i++ {
		switch c := z.s[i]; c {
		case '\\':
			if i+1 < len(z.s) && (z.s[i+1] == '"' || z.s[i+1] == '\\') {
				sb.WriteByte(z.s[i+1])
				i++
				continue
			}
			sb.WriteByte(c)
		case '"':
			z.pos = i + 1
			return Quoted(sb.String())
		default:
			sb.WriteByte(c)
		}
	}
	// unterminated
	return nil
}

func isAtomChar(c byte) bool {
	return c > 0x20 && c != ')' && c != 0x7f
}

func (z *tokenizer) atom() *Token {
	i := z.pos
	for i < len(z.s) && isAtomChar(z.s[i]) {
		i++
	}
	if i == z.pos {
		return nil
	}
	a := z.s[z.pos:i]
	z.pos = i
	if a == "NIL" {
		return Nil()
	}
	return Atom(a)
}

// Implode serializes tokens back into IMAP syntax
func Implode(tokens []*Token) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		switch t.Type {
		case TNil:
			parts = append(parts, "NIL")
		case TAtom:
			parts = append(parts, t.Str)
		case TQuoted:
			parts = append(parts, quote(t.Str))
		case TLiteral:
			parts = append(parts, MakeIMAPLiteral(t.Str))
		case TList:
			parts = append(parts, "("+Implode(t.Tokens)+")")
		}
	}
	return strings.Join(parts, " ")
}
