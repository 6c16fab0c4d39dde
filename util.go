package imap

import (
	"fmt"
	"strconv"
	"strings"
)

// quoteReplacer escapes backslashes and double quotes inside quoted strings
var quoteReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// dropNl removes trailing newline characters from a string
func dropNl(s string) string {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	return strings.TrimSuffix(s, "\n")
}

// MakeIMAPLiteral generates IMAP literal syntax for non-ASCII strings.
// It returns a string in the format "{bytecount}\r\ntext" where bytecount
// is the number of bytes (not characters) in the input string.
// Example: MakeIMAPLiteral("тест") returns "{8}\r\nтест"
func MakeIMAPLiteral(s string) string {
	return fmt.Sprintf("{%d}\r\n%s", len(s), s)
}

func quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}

func isAtomSpecial(c byte) bool {
	switch {
	case c <= 0x20, c >= 0x80:
		return true
	}
	switch c {
	case '"', '%', '(', ')', '*', '[', '\\', ']', '{', '}':
		return true
	}
	return false
}

// Escape formats s as the cheapest IMAP string form that can carry it:
// an empty quoted string, a bare atom, a quoted string, or a literal when
// s holds CR, LF, NUL or 8-bit bytes.
func Escape(s string) string {
	return escape(s, false)
}

// EscapeQuoted is like Escape but never returns a bare atom
func EscapeQuoted(s string) string {
	return escape(s, true)
}

func escape(s string, forceQuotes bool) string {
	if s == "" {
		return `""`
	}
	atom := !forceQuotes
	literal := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAtomSpecial(c) {
			atom = false
		}
		if c == '\r' || c == '\n' || c == 0 || c >= 0x80 {
			literal = true
			break
		}
	}
	switch {
	case literal:
		return MakeIMAPLiteral(s)
	case atom:
		return s
	}
	return quote(s)
}

// formatArg serializes one Execute argument. Strings are sent verbatim,
// so callers escape mailbox names and other user data beforehand; slices
// become parenthesized, space separated lists.
func formatArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NIL"
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case []string:
		return "(" + strings.Join(v, " ") + ")"
	case []int:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.Itoa(n)
		}
		return "(" + strings.Join(parts, " ") + ")"
	case []any:
		parts := make([]string, len(v))
		for i, a := range v {
			parts[i] = formatArg(a)
		}
		return "(" + strings.Join(parts, " ") + ")"
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(arg)
}
