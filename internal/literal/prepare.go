package literal

import (
	"fmt"
	"strings"
)

// MaxDepth bounds container nesting and chained sign operators. The parser
// recurses once per level, so unbounded input could exhaust the stack.
const MaxDepth = 100

// prepare scans src once, outside and inside string literals, and returns an
// equivalent source the parser accepts:
//
//   - u/U string prefixes (Python 2 repr) are dropped
//   - \xNN escapes above 0x7f in text strings become \u00NN, matching how
//     Python 3 repr writes Latin-1 characters such as '\xa0'
//
// It rejects input nested deeper than MaxDepth.
func prepare(src string) (string, error) {
	var b strings.Builder
	b.Grow(len(src))

	depth := 0
	unary := 0
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			i = copyString(&b, src, i, false, false)
			unary = 0
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			if j < len(src) && (src[j] == '\'' || src[j] == '"') {
				if prefix, raw, bytes, ok := stringPrefix(word); ok {
					b.WriteString(prefix)
					i = copyString(&b, src, j, raw, bytes)
					unary = 0
					continue
				}
			}
			b.WriteString(word)
			i = j
			if word == "not" {
				unary++
				if unary > MaxDepth {
					return "", fmt.Errorf("%w: too many chained operators", ErrSyntax)
				}
			} else {
				unary = 0
			}
		default:
			switch c {
			case '[', '{', '(':
				depth++
				if depth > MaxDepth {
					return "", fmt.Errorf("%w: nesting deeper than %d", ErrSyntax, MaxDepth)
				}
			case ']', '}', ')':
				if depth > 0 {
					depth--
				}
			}
			switch c {
			case '-', '+', '~':
				unary++
				if unary > MaxDepth {
					return "", fmt.Errorf("%w: too many chained operators", ErrSyntax)
				}
			case ' ', '\t', '\n', '\r':
			default:
				unary = 0
			}
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// stringPrefix reports whether word is a string prefix and returns it with
// any u/U removed.
func stringPrefix(word string) (prefix string, raw, bytes, ok bool) {
	switch strings.ToLower(word) {
	case "u":
		return "", false, false, true
	case "r":
		return word, true, false, true
	case "b":
		return word, false, true, true
	case "rb", "br":
		return word, true, true, true
	}
	return "", false, false, false
}

// copyString copies the string literal starting at the quote src[start] and
// returns the index just past its closing quote. An unterminated literal is
// copied as is and left for the parser to report.
func copyString(b *strings.Builder, src string, start int, raw, bytes bool) int {
	q := src[start]
	delim := src[start : start+1]
	if strings.HasPrefix(src[start:], strings.Repeat(string(q), 3)) {
		delim = src[start : start+3]
	}
	b.WriteString(delim)

	i := start + len(delim)
	for i < len(src) {
		if strings.HasPrefix(src[i:], delim) {
			b.WriteString(delim)
			return i + len(delim)
		}
		c := src[i]
		if c != '\\' || i+1 >= len(src) {
			b.WriteByte(c)
			i++
			continue
		}
		if !raw && !bytes && src[i+1] == 'x' && i+3 < len(src) {
			if v, ok := hexByte(src[i+2], src[i+3]); ok && v >= 0x80 {
				fmt.Fprintf(b, `\u%04x`, v)
				i += 4
				continue
			}
		}
		b.WriteString(src[i : i+2])
		i += 2
	}
	return i
}

func hexByte(hi, lo byte) (int, bool) {
	h, ok1 := hexDigit(hi)
	l, ok2 := hexDigit(lo)
	return h<<4 | l, ok1 && ok2
}

func hexDigit(c byte) (int, bool) {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0'), true
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10, true
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

func isIdentStart(c byte) bool {
	return c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || '0' <= c && c <= '9'
}
